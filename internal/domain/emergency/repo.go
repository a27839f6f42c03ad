package emergency

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/nfcaccess/internal/platform/apierr"
)

var (
	ErrNotFound        = apierr.NotFound("emergency token")
	ErrTokenNotFound   = apierr.New(apierr.KindNotFound, apierr.CodeInvalidToken, "emergency token not recognized")
	ErrExpired         = apierr.New(apierr.KindExpired, apierr.CodeExpiredToken, "emergency token has expired")
	ErrRevoked         = apierr.New(apierr.KindRevoked, apierr.CodeRevokedToken, "emergency token has been revoked")
	ErrPatientMismatch = apierr.New(apierr.KindForbidden, apierr.CodePatientMismatch, "emergency token belongs to another patient")
)

type Repository interface {
	Create(ctx context.Context, t *Token) error
	GetByID(ctx context.Context, id uuid.UUID) (*Token, error)
	GetByDigest(ctx context.Context, digest string) (*Token, error)
	// Mutate locks the token row, applies fn and persists the result.
	Mutate(ctx context.Context, digest string, fn func(t *Token) error) (*Token, error)
	AddAccess(ctx context.Context, a *Access) error
	ListAccess(ctx context.Context, tokenID uuid.UUID) ([]*Access, error)
}

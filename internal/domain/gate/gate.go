package gate

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/nfcaccess/internal/domain/emergency"
	"github.com/ehr/nfcaccess/internal/domain/session"
	"github.com/ehr/nfcaccess/internal/platform/apierr"
	"github.com/ehr/nfcaccess/internal/platform/auth"
)

// Resource names what a request wants to touch.
type Resource string

const (
	ResourceEmergencyDocument Resource = "emergency_document"
	ResourceCardManagement    Resource = "card_management"
	ResourceSessionManagement Resource = "session_management"
	ResourcePatientRecord     Resource = "patient_record"
	ResourceVisitCreation     Resource = "visit_creation"
	ResourceVisitRecord       Resource = "visit_record"
)

var knownResources = map[Resource]bool{
	ResourceEmergencyDocument: true,
	ResourceCardManagement:    true,
	ResourceSessionManagement: true,
	ResourcePatientRecord:     true,
	ResourceVisitCreation:     true,
	ResourceVisitRecord:       true,
}

// administrative resources an admin reaches on role alone.
var adminResources = map[Resource]bool{
	ResourceCardManagement:    true,
	ResourceSessionManagement: true,
	ResourcePatientRecord:     true,
	ResourceVisitRecord:       true,
}

const (
	ViaEmergencyToken = "emergency_token"
	ViaRole           = "role"
	ViaSession        = "session"
	ViaSelf           = "self"
)

type Request struct {
	Actor     auth.Actor
	PatientID uuid.UUID
	Resource  Resource
	Token     string
	VisitID   uuid.UUID
	// Accessor is recorded in the emergency access log. Defaults to the
	// actor id.
	Accessor string
}

// Decision is the outcome of one authorization check. Reason is empty when
// Allowed is true.
type Decision struct {
	Allowed bool        `json:"allowed"`
	Reason  apierr.Code `json:"reason,omitempty"`
	Via     string      `json:"via,omitempty"`

	cause error
	grant *emergency.Token
}

func allow(via string) Decision { return Decision{Allowed: true, Via: via} }

func deny(reason apierr.Code, via string) Decision {
	return Decision{Reason: reason, Via: via}
}

// denyErr turns a taxonomy error into a denial. Other errors are returned
// to the caller as failures.
func denyErr(err error, via string) (Decision, error) {
	e, ok := apierr.As(err)
	if !ok || e.Kind == apierr.KindInternal {
		return Decision{}, err
	}
	return Decision{Reason: e.Code, Via: via, cause: err}, nil
}

// Err returns the error a handler should render for a denial.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	if d.cause != nil {
		return d.cause
	}
	return apierr.New(apierr.KindForbidden, d.Reason, "access denied")
}

type Sessions interface {
	Validate(ctx context.Context, raw string) (*session.Session, error)
}

type Visits interface {
	CanDoctorAccess(ctx context.Context, visitID uuid.UUID, raw string) (bool, error)
}

type Emergency interface {
	ValidateFor(ctx context.Context, raw string, patientID uuid.UUID, accessor string) (*emergency.Token, error)
}

type Gate struct {
	sessions  Sessions
	visits    Visits
	emergency Emergency
	logger    zerolog.Logger
}

func New(sessions Sessions, visits Visits, em Emergency, logger zerolog.Logger) *Gate {
	return &Gate{
		sessions:  sessions,
		visits:    visits,
		emergency: em,
		logger:    logger.With().Str("component", "access_gate").Logger(),
	}
}

// Authorize evaluates req against the access rules in order. An emergency
// token is honoured first so no role rule can narrow or widen it; every
// other request is decided by role.
func (g *Gate) Authorize(ctx context.Context, req Request) (Decision, error) {
	if !knownResources[req.Resource] {
		return Decision{}, apierr.Validation("unknown resource %q", req.Resource)
	}
	d, err := g.decide(ctx, req)
	if err != nil {
		g.logger.Error().Err(err).
			Str("actor_id", req.Actor.ID).
			Str("resource", string(req.Resource)).
			Msg("authorization failed")
		return Decision{}, err
	}
	g.log(req, d)
	return d, nil
}

func (g *Gate) decide(ctx context.Context, req Request) (Decision, error) {
	if req.Resource == ResourceEmergencyDocument {
		if emergency.IsEmergencyToken(req.Token) {
			return g.decideEmergency(ctx, req)
		}
		if req.Actor.ID == "" {
			return Decision{Reason: apierr.CodeInvalidToken, Via: ViaEmergencyToken, cause: emergency.ErrTokenNotFound}, nil
		}
	}

	switch req.Actor.Role {
	case auth.RoleAdmin:
		return g.decideAdmin(ctx, req)
	case auth.RoleDoctor:
		return g.decideDoctor(ctx, req)
	case auth.RolePatient:
		if req.PatientID != uuid.Nil && req.Actor.ID == req.PatientID.String() {
			return allow(ViaSelf), nil
		}
		return deny(apierr.CodePatientMismatch, ViaSelf), nil
	}
	return deny(apierr.CodeUnknownRole, ViaRole), nil
}

func (g *Gate) decideEmergency(ctx context.Context, req Request) (Decision, error) {
	accessor := req.Accessor
	if accessor == "" {
		accessor = req.Actor.ID
	}
	if accessor == "" {
		accessor = "anonymous"
	}
	t, err := g.emergency.ValidateFor(ctx, req.Token, req.PatientID, accessor)
	if err != nil {
		return denyErr(err, ViaEmergencyToken)
	}
	d := allow(ViaEmergencyToken)
	d.grant = t
	return d, nil
}

func (g *Gate) decideAdmin(ctx context.Context, req Request) (Decision, error) {
	if adminResources[req.Resource] {
		return allow(ViaRole), nil
	}
	if req.Resource != ResourceVisitCreation {
		return deny(apierr.CodeForbiddenRole, ViaRole), nil
	}
	if req.Token == "" {
		return deny(apierr.CodeNoActiveSession, ViaSession), nil
	}
	sess, err := g.sessions.Validate(ctx, req.Token)
	if err != nil {
		return denyErr(err, ViaSession)
	}
	if req.PatientID != uuid.Nil && sess.PatientID != req.PatientID {
		return deny(apierr.CodePatientMismatch, ViaSession), nil
	}
	return allow(ViaSession), nil
}

func (g *Gate) decideDoctor(ctx context.Context, req Request) (Decision, error) {
	if req.Resource == ResourceEmergencyDocument {
		// Routine sessions never open the emergency subset.
		return deny(apierr.CodeNoActiveSession, ViaSession), nil
	}
	if req.Resource != ResourceVisitRecord {
		return deny(apierr.CodeForbiddenRole, ViaRole), nil
	}
	if req.VisitID == uuid.Nil {
		return deny(apierr.CodeNoActiveSession, ViaSession), nil
	}
	ok, err := g.visits.CanDoctorAccess(ctx, req.VisitID, req.Token)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return deny(apierr.CodeNoActiveSession, ViaSession), nil
	}
	return allow(ViaSession), nil
}

func (g *Gate) log(req Request, d Decision) {
	ev := g.logger.Info()
	if req.Resource == ResourceEmergencyDocument {
		ev = g.logger.Warn()
	}
	ev = ev.Str("actor_id", req.Actor.ID).
		Str("actor_role", string(req.Actor.Role)).
		Str("resource", string(req.Resource)).
		Bool("allowed", d.Allowed).
		Str("via", d.Via)
	if req.PatientID != uuid.Nil {
		ev = ev.Str("patient_id", req.PatientID.String())
	}
	if req.VisitID != uuid.Nil {
		ev = ev.Str("visit_id", req.VisitID.String())
	}
	if !d.Allowed {
		ev = ev.Str("reason", string(d.Reason))
	}
	ev.Msg("access decision")
}

// AuthorizeVisit checks a read of one visit record and returns the denial
// as an error.
func (g *Gate) AuthorizeVisit(ctx context.Context, actor auth.Actor, patientID, visitID uuid.UUID, token string) error {
	d, err := g.Authorize(ctx, Request{
		Actor:     actor,
		PatientID: patientID,
		Resource:  ResourceVisitRecord,
		Token:     token,
		VisitID:   visitID,
	})
	if err != nil {
		return err
	}
	return d.Err()
}

// AuthorizePatient checks access to patientID's own records: listings of
// their card, sessions and visits.
func (g *Gate) AuthorizePatient(ctx context.Context, actor auth.Actor, patientID uuid.UUID) error {
	d, err := g.Authorize(ctx, Request{
		Actor:     actor,
		PatientID: patientID,
		Resource:  ResourcePatientRecord,
	})
	if err != nil {
		return err
	}
	return d.Err()
}

// AuthorizeEmergency checks a read of the emergency subset. It returns the
// validated token when access came through one, nil when the actor reached
// the records by role.
func (g *Gate) AuthorizeEmergency(ctx context.Context, actor auth.Actor, patientID uuid.UUID, raw, accessor string) (*emergency.Token, error) {
	d, err := g.Authorize(ctx, Request{
		Actor:     actor,
		PatientID: patientID,
		Resource:  ResourceEmergencyDocument,
		Token:     raw,
		Accessor:  accessor,
	})
	if err != nil {
		return nil, err
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return d.grant, nil
}

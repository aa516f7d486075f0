// Package service accepts profile submissions: it loads the stored copy, runs
// the trust gate, stamps server-assigned attributes, writes conditionally and
// announces the change.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"cis/internal/events"
	"cis/internal/platform/metrics"
	"cis/internal/profile/models"
	"cis/internal/profile/store"
	"cis/internal/trust"
	"cis/internal/trust/merge"
	"cis/internal/wellknown"
	dErrors "cis/pkg/domain-errors"
	audit "cis/pkg/platform/audit"
	"cis/pkg/platform/sentinel"
	"cis/pkg/requestcontext"
)

// primaryUsernamePrefix marks a generated username until the person picks one.
const primaryUsernamePrefix = "r--"

type ProfileStore interface {
	Find(ctx context.Context, userID string) (*store.Record, error)
	Save(ctx context.Context, p *models.Profile, expectedVersion int64) (int64, error)
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type DocumentSource interface {
	Get(ctx context.Context) (*wellknown.Bundle, error)
}

type TrustGate interface {
	AcceptProfile(ctx context.Context, previous *models.Profile, incoming []byte, bundle *wellknown.Bundle) (*merge.Result, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type ChangePublisher interface {
	Publish(ctx context.Context, change events.Change) error
}

// Result reports an accepted submission.
type Result struct {
	UserID    string
	Condition trust.Condition
	Changed   []string
	Version   int64
	Profile   *models.Profile
}

// Unchanged reports a resubmission that changed nothing and was not written.
func (r *Result) Unchanged() bool {
	return len(r.Changed) == 0
}

// Service orchestrates profile submissions.
type Service struct {
	profiles       ProfileStore
	documents      DocumentSource
	gate           TrustGate
	signer         models.Signer
	logger         *slog.Logger
	auditPublisher AuditPublisher
	changes        ChangePublisher
	metrics        *metrics.Metrics
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithChangePublisher(publisher ChangePublisher) Option {
	return func(s *Service) {
		s.changes = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs a Service. signer signs server-assigned attributes as the
// service's own publisher.
func New(profiles ProfileStore, documents DocumentSource, gate TrustGate, signer models.Signer, opts ...Option) (*Service, error) {
	switch {
	case profiles == nil:
		return nil, errors.New("profile store is required")
	case documents == nil:
		return nil, errors.New("document source is required")
	case gate == nil:
		return nil, errors.New("trust gate is required")
	case signer == nil:
		return nil, errors.New("service signer is required")
	}
	s := &Service{
		profiles:  profiles,
		documents: documents,
		gate:      gate,
		signer:    signer,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Submit judges and stores one profile document.
func (s *Service) Submit(ctx context.Context, incoming []byte) (*Result, error) {
	userID, err := peekUserID(incoming)
	if err != nil {
		return nil, trust.ToDomain(err)
	}

	var (
		previous *models.Profile
		version  int64
	)
	rec, err := s.profiles.Find(ctx, userID)
	switch {
	case err == nil:
		previous, version = rec.Profile, rec.Version
	case errors.Is(err, sentinel.ErrNotFound):
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load profile")
	}

	bundle, err := s.documents.Get(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "profile documents unavailable")
	}

	res, err := s.gate.AcceptProfile(ctx, previous, incoming, bundle)
	if err != nil {
		s.auditRejection(ctx, userID, err)
		return nil, trust.ToDomain(err)
	}

	result := &Result{
		UserID:    userID,
		Condition: res.Condition,
		Changed:   res.ChangedPaths(),
		Version:   version,
		Profile:   res.Profile,
	}
	if result.Unchanged() {
		s.emitAudit(ctx, audit.Event{
			UserID:    userID,
			Action:    string(audit.EventProfileUnchanged),
			Condition: string(res.Condition),
			Decision:  "accepted",
		})
		return result, nil
	}

	if err := s.stamp(ctx, res.Profile, res.Condition); err != nil {
		return nil, trust.ToDomain(err)
	}

	err = s.profiles.InTx(ctx, func(ctx context.Context) error {
		v, err := s.profiles.Save(ctx, res.Profile, version)
		if err != nil {
			return err
		}
		result.Version = v
		return s.emitAudit(ctx, s.acceptedEvent(ctx, result))
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.IncrementSaveConflicts()
			s.emitAudit(ctx, audit.Event{
				UserID:    userID,
				Action:    string(audit.EventWriteConflict),
				Condition: string(res.Condition),
				Decision:  "retry",
			})
			return nil, dErrors.New(dErrors.CodeConflict, "profile changed concurrently; resubmit against the latest version")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store profile")
	}
	if res.Condition == trust.ConditionCreate {
		s.metrics.IncrementProfilesCreated()
	}

	s.publish(ctx, result)
	return result, nil
}

// Get returns the stored profile for userID.
func (s *Service) Get(ctx context.Context, userID string) (*models.Profile, error) {
	if userID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "user_id is required")
	}
	rec, err := s.profiles.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "profile not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load profile")
	}
	s.emitAudit(ctx, audit.Event{UserID: userID, Action: string(audit.EventProfileRead)})
	return rec.Profile, nil
}

// stamp writes the server-owned attributes after the gate accepted the
// submission and signs them as the service publisher.
func (s *Service) stamp(ctx context.Context, p *models.Profile, cond trust.Condition) error {
	now := models.FormatTime(requestcontext.Now(ctx))
	paths := []string{"last_modified"}
	p.LastModified.Value = now
	if cond == trust.ConditionCreate {
		id := uuid.NewString()
		p.UUID.Value = id
		p.PrimaryUsername.Value = primaryUsernamePrefix + id
		p.Created.Value = now
		paths = append(paths, "uuid", "primary_username", "created")
	}
	for _, path := range paths {
		if err := p.SignAttribute(ctx, path, s.signer); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, result *Result) {
	if s.changes == nil {
		return
	}
	change := events.Change{
		UserID:            result.UserID,
		Condition:         string(result.Condition),
		ChangedAttributes: result.Changed,
		Version:           result.Version,
		AcceptedAt:        requestcontext.Now(ctx).UTC(),
	}
	// the profile is already committed; a lost event is logged, not returned
	if err := s.changes.Publish(ctx, change); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish profile change",
			"user_id", result.UserID,
			"version", result.Version,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
}

func (s *Service) acceptedEvent(ctx context.Context, result *Result) audit.Event {
	action := audit.EventProfileUpdated
	if result.Condition == trust.ConditionCreate {
		action = audit.EventProfileCreated
	}
	reason, _ := json.Marshal(result.Changed)
	return audit.Event{
		UserID:    result.UserID,
		Action:    string(action),
		Condition: string(result.Condition),
		Decision:  "accepted",
		Reason:    string(reason),
	}
}

func (s *Service) auditRejection(ctx context.Context, userID string, err error) {
	event := audit.Event{UserID: userID, Decision: "rejected", Reason: err.Error()}
	if te, ok := trust.AsError(err); ok {
		event.Attribute = te.Attribute
		event.Condition = string(te.Condition)
	}
	switch trust.KindOf(err) {
	case trust.KindSchemaValidation:
		event.Action = string(audit.EventSchemaRejected)
	case trust.KindPublisherVerification:
		event.Action = string(audit.EventPublisherRejected)
		event.Severity = audit.SeverityWarning
	case trust.KindSignatureVerification, trust.KindUnknownPublisher:
		event.Action = string(audit.EventSignatureRejected)
		event.Severity = audit.SeverityCritical
	case trust.KindKeyUnavailable:
		event.Action = string(audit.EventKeyUnavailable)
		event.Decision = "failed"
	default:
		return
	}
	s.emitAudit(ctx, event)
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) error {
	if s.auditPublisher == nil {
		return nil
	}
	if event.Subject == "" {
		event.Subject = requestcontext.ClientID(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	err := s.auditPublisher.Emit(ctx, event)
	if err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "action", event.Action, "user_id", event.UserID, "error", err)
	}
	return err
}

// peekUserID reads user_id before the full gate runs, to find the stored copy.
func peekUserID(incoming []byte) (string, error) {
	var head struct {
		UserID *struct {
			Value any `json:"value"`
		} `json:"user_id"`
	}
	if err := json.Unmarshal(incoming, &head); err != nil {
		return "", trust.SchemaFailure("profile must be a JSON object", err)
	}
	if head.UserID == nil {
		return "", trust.SchemaFailure("missing required attribute user_id", nil)
	}
	id, ok := head.UserID.Value.(string)
	if !ok || id == "" {
		return "", trust.SchemaFailure("user_id must be a non-empty string", nil)
	}
	return id, nil
}

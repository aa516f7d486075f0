// Package gate is the entry point of the trust engine. A submission moves
// through Received, SchemaChecked, Merged and SignaturesVerified before it is
// Accepted; any failed step rejects the whole profile.
package gate

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"cis/internal/profile/models"
	"cis/internal/profile/schema"
	"cis/internal/trust"
	"cis/internal/trust/merge"
	"cis/internal/trust/metrics"
	"cis/internal/trust/verifier"
	"cis/internal/wellknown"
	"cis/pkg/requestcontext"
)

// Gate judges profile submissions. It holds no per-call state and is safe for
// concurrent use.
type Gate struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	workers int
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the gate's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// WithMetrics sets the metrics sink. Nil disables metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

// WithTracer overrides the otel tracer.
func WithTracer(t trace.Tracer) Option {
	return func(g *Gate) {
		g.tracer = t
	}
}

// WithWorkers bounds per-attribute verification concurrency.
func WithWorkers(n int) Option {
	return func(g *Gate) {
		if n > 0 {
			g.workers = n
		}
	}
}

// New constructs a Gate. Verification uses GOMAXPROCS workers by default.
func New(opts ...Option) *Gate {
	g := &Gate{
		logger:  slog.Default(),
		tracer:  otel.Tracer("cis/trust/gate"),
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Accept judges raw documents. previous is nil or empty when the user has no
// stored profile.
func (g *Gate) Accept(ctx context.Context, previous, incoming []byte, bundle *wellknown.Bundle) (*merge.Result, error) {
	var prev *models.Profile
	if len(previous) > 0 {
		p, err := models.Parse(previous)
		if err != nil {
			return nil, err
		}
		prev = p
	}
	return g.AcceptProfile(ctx, prev, incoming, bundle)
}

// AcceptProfile judges incoming against an already decoded previous profile
// and returns the merged, verified profile.
func (g *Gate) AcceptProfile(ctx context.Context, previous *models.Profile, incoming []byte, bundle *wellknown.Bundle) (res *merge.Result, err error) {
	start := time.Now()
	cond := trust.ConditionFor(previous != nil)
	ctx, span := g.tracer.Start(ctx, "trust.Accept", trace.WithAttributes(
		attribute.String("condition", string(cond)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(trust.KindOf(err)))
		}
		span.End()
		g.metrics.ObserveDecision(cond, err, time.Since(start))
		g.logOutcome(ctx, cond, res, err)
	}()

	profile, err := g.checkStructure(incoming, bundle)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("user_id", profile.UserIDValue()))

	res, err = merge.Merge(ctx, previous, profile, bundle.Policy)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("changes", len(res.Changes)))

	if err := g.verify(ctx, cond, res.Changes, verifier.New(bundle.WellKnown)); err != nil {
		return nil, err
	}
	return res, nil
}

// checkStructure is the schema gate. The submission is validated as
// received, so unknown members are rejected rather than dropped, then
// overlaid on defaults and checked again as a complete profile.
func (g *Gate) checkStructure(incoming []byte, bundle *wellknown.Bundle) (*models.Profile, error) {
	if err := bundle.Schema.ValidateSubmission(incoming); err != nil {
		return nil, err
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(incoming, &top); err != nil {
		return nil, trust.SchemaFailure("profile must be a JSON object", err)
	}
	for _, key := range schema.SubmissionRequired {
		if _, ok := top[key]; !ok {
			return nil, trust.SchemaFailure("missing required attribute "+key, nil)
		}
	}
	profile, err := models.Parse(incoming)
	if err != nil {
		return nil, trust.SchemaFailure(err.Error(), nil)
	}
	full, err := profile.JSON()
	if err != nil {
		return nil, trust.SchemaFailure("profile cannot be encoded", err)
	}
	if err := bundle.Schema.Validate(full); err != nil {
		return nil, err
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if profile.UserIDValue() == "" {
		return nil, trust.SchemaFailure("user_id must be a non-empty string", nil)
	}
	return profile, nil
}

// verify checks every change on a bounded worker pool. All checks run; the
// failure reported is the first in attribute order.
func (g *Gate) verify(ctx context.Context, cond trust.Condition, changes []merge.Change, v *verifier.Verifier) error {
	ctx, span := g.tracer.Start(ctx, "trust.VerifySignatures", trace.WithAttributes(
		attribute.Int("attributes", len(changes)),
	))
	defer span.End()

	errs := make([]error, len(changes))
	var eg errgroup.Group
	eg.SetLimit(g.workers)
	for i := range changes {
		eg.Go(func() error {
			started := time.Now()
			c := &changes[i]
			errs[i] = models.VerifyAttribute(ctx, c.Path, &c.Submitted, v)
			g.metrics.ObserveVerify(time.Since(started))
			return nil
		})
	}
	_ = eg.Wait()

	for _, err := range errs {
		if err != nil {
			if te, ok := trust.AsError(err); ok && te.Condition == "" {
				te.Condition = cond
			}
			return err
		}
	}
	return nil
}

func (g *Gate) logOutcome(ctx context.Context, cond trust.Condition, res *merge.Result, err error) {
	attrs := []any{
		"condition", string(cond),
		"request_id", requestcontext.RequestID(ctx),
	}
	if err == nil {
		g.logger.InfoContext(ctx, "profile accepted", append(attrs,
			"user_id", res.Profile.UserIDValue(),
			"changed", res.ChangedPaths(),
		)...)
		return
	}
	te, _ := trust.AsError(err)
	if te != nil {
		attrs = append(attrs,
			"kind", string(te.Kind),
			"attribute", te.Attribute,
			"publisher", te.Publisher,
		)
	}
	attrs = append(attrs, "error", err)
	switch {
	case trust.IsSecurityEvent(err):
		g.metrics.IncrementSecurityEvent(te.Publisher)
		g.logger.WarnContext(ctx, "security: signature rejected", attrs...)
	case trust.IsRejection(err):
		g.logger.InfoContext(ctx, "profile rejected", attrs...)
	default:
		g.logger.ErrorContext(ctx, "profile processing failed", attrs...)
	}
}

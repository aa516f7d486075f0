// Package signer produces RS256 compact JWS signatures over canonicalized
// attributes using key material resolved through a keys.Provider.
package signer

import (
	"context"
	"log/slog"

	"github.com/go-jose/go-jose/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cis/internal/trust"
	"cis/internal/trust/canonical"
	"cis/internal/trust/keys"
)

// Signer signs on behalf of one publisher.
type Signer struct {
	provider  keys.Provider
	publisher string
	keyName   string
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures a Signer.
type Option func(*Signer)

// WithKeyName overrides the key looked up in the provider (default: the publisher name).
func WithKeyName(name string) Option {
	return func(s *Signer) {
		if name != "" {
			s.keyName = name
		}
	}
}

// WithLogger sets the signer's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Signer) {
		s.logger = logger
	}
}

// New constructs a signer for publisher.
func New(provider keys.Provider, publisher string, opts ...Option) *Signer {
	s := &Signer{
		provider:  provider,
		publisher: publisher,
		keyName:   publisher,
		logger:    slog.Default(),
		tracer:    otel.Tracer("cis/trust/signer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Publisher returns the publisher name written into signatures.
func (s *Signer) Publisher() string {
	return s.publisher
}

// Sign canonicalizes attr (excluding its signature member) and returns a
// compact RS256 JWS over those bytes.
func (s *Signer) Sign(ctx context.Context, attr any) (string, error) {
	return s.SignWithKey(ctx, attr, s.keyName)
}

// SignWithKey signs with an explicitly named key.
func (s *Signer) SignWithKey(ctx context.Context, attr any, keyName string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "signer.Sign", trace.WithAttributes(
		attribute.String("publisher", s.publisher),
		attribute.String("key", keyName),
	))
	defer span.End()

	payload, err := canonical.Attribute(attr)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	material, err := s.provider.Key(ctx, keyName)
	if err != nil {
		span.RecordError(err)
		if _, ok := trust.AsError(err); ok {
			return "", err
		}
		return "", trust.KeyUnavailableFailure(keyName, err)
	}
	jws, err := SignBytes(payload, material)
	if err != nil {
		span.RecordError(err)
		s.logger.ErrorContext(ctx, "signing failed", "publisher", s.publisher, "key", keyName, "error", err)
		return "", err
	}
	return jws, nil
}

// SignBytes signs payload with material and returns the compact serialization.
// The protected header carries alg=RS256, typ=JWS and the key id.
func SignBytes(payload []byte, material *keys.Material) (string, error) {
	if material == nil || material.Key == nil {
		return "", trust.SigningFailure("no key material", nil)
	}
	sig, err := jose.NewSigner(
		jose.SigningKey{
			Algorithm: jose.RS256,
			Key:       jose.JSONWebKey{Key: material.Key, KeyID: material.KeyID, Algorithm: string(jose.RS256)},
		},
		(&jose.SignerOptions{}).WithType("JWS"),
	)
	if err != nil {
		return "", trust.SigningFailure("create signer", err)
	}
	obj, err := sig.Sign(payload)
	if err != nil {
		return "", trust.SigningFailure("sign payload", err)
	}
	out, err := obj.CompactSerialize()
	if err != nil {
		return "", trust.SigningFailure("serialize signature", err)
	}
	return out, nil
}

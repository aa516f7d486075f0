// Package verifier checks RS256 compact JWS signatures against the keys a
// publisher advertises in the well-known document.
package verifier

import (
	"context"
	"errors"
	"strings"

	"github.com/go-jose/go-jose/v4"

	"cis/internal/trust"
)

// KeySource returns the published verification keys of a publisher, or an
// UnknownPublisher failure.
type KeySource interface {
	Keys(publisher string) ([]jose.JSONWebKey, error)
}

var allowedAlgorithms = []jose.SignatureAlgorithm{jose.RS256}

// Verify parses jws and tries each of the publisher's keys. The first key that
// validates wins and its payload is returned.
func Verify(jws, publisher string, src KeySource) ([]byte, error) {
	if publisher == "" {
		return nil, trust.SignatureFailure("", publisher, "signature names no publisher", nil)
	}
	keys, err := src.Keys(publisher)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, trust.UnknownPublisherFailure(publisher)
	}
	obj, err := jose.ParseSigned(strings.TrimSpace(jws), allowedAlgorithms)
	if err != nil {
		return nil, trust.SignatureFailure("", publisher, "malformed JWS", err)
	}
	var errs []error
	for i := range keys {
		payload, err := obj.Verify(&keys[i])
		if err == nil {
			return payload, nil
		}
		errs = append(errs, err)
	}
	return nil, trust.SignatureFailure("", publisher, "no published key validates the signature", errors.Join(errs...))
}

// Verifier binds Verify to a key source.
type Verifier struct {
	src KeySource
}

// New constructs a verifier over src.
func New(src KeySource) *Verifier {
	return &Verifier{src: src}
}

// Verify checks jws under publisher's keys and returns the payload.
func (v *Verifier) Verify(ctx context.Context, jws, publisher string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Verify(jws, publisher, v.src)
}

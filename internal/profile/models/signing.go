package models

import (
	"bytes"
	"context"

	"cis/internal/trust"
	"cis/internal/trust/canonical"
	"cis/pkg/requestcontext"
)

// Signer produces a compact JWS over an attribute on behalf of one publisher.
type Signer interface {
	Sign(ctx context.Context, attr any) (string, error)
	Publisher() string
}

// Verifier checks a compact JWS against a publisher's published keys and
// returns the signed payload.
type Verifier interface {
	Verify(ctx context.Context, jws, publisher string) ([]byte, error)
}

// SignAttribute stamps the attribute's last_modified (and created, when empty)
// with the request time, then writes a fresh publisher signature. Nothing else
// in the profile changes.
func (p *Profile) SignAttribute(ctx context.Context, path string, s Signer) error {
	attr, err := p.Attribute(path)
	if err != nil {
		return trust.SigningFailure("cannot sign", err)
	}
	return SignAttribute(ctx, attr, s)
}

// SignAttribute signs a single attribute node in place.
func SignAttribute(ctx context.Context, attr *Attribute, s Signer) error {
	now := FormatTime(requestcontext.Now(ctx))
	attr.Metadata.LastModified = now
	if attr.Metadata.Created == "" {
		attr.Metadata.Created = now
	}
	attr.Signature.Publisher = PublisherSignature{
		Alg:  SignatureAlg,
		Typ:  SignatureTyp,
		Name: s.Publisher(),
	}
	jws, err := s.Sign(ctx, *attr)
	if err != nil {
		return err
	}
	attr.Signature.Publisher.Value = jws
	return nil
}

// SignAll signs every attribute that carries a payload.
func (p *Profile) SignAll(ctx context.Context, s Signer) error {
	for _, f := range p.Attributes() {
		if !f.Attribute.IsSet() {
			continue
		}
		if err := SignAttribute(ctx, f.Attribute, s); err != nil {
			return err
		}
	}
	return nil
}

// VerifyAttribute checks the publisher signature of the attribute at path.
func (p *Profile) VerifyAttribute(ctx context.Context, path string, v Verifier) error {
	attr, err := p.Attribute(path)
	if err != nil {
		return trust.SignatureFailure(path, "", "unknown attribute", err)
	}
	return VerifyAttribute(ctx, path, attr, v)
}

// VerifyAttribute verifies one attribute node: the JWS must validate under the
// named publisher's keys and its payload must equal the canonical bytes of the
// attribute without its signature.
func VerifyAttribute(ctx context.Context, path string, attr *Attribute, v Verifier) error {
	publisher := attr.Signature.Publisher.Name
	if !attr.IsSigned() {
		return trust.SignatureFailure(path, publisher, "attribute is not signed", nil)
	}
	if attr.Signature.Publisher.Alg != SignatureAlg {
		return trust.SignatureFailure(path, publisher, "unsupported signature algorithm "+attr.Signature.Publisher.Alg, nil)
	}
	payload, err := v.Verify(ctx, attr.Signature.Publisher.Value, publisher)
	if err != nil {
		if te, ok := trust.AsError(err); ok && te.Attribute == "" {
			te.Attribute = path
		}
		return err
	}
	expected, err := canonical.Attribute(*attr)
	if err != nil {
		return err
	}
	if !bytes.Equal(payload, expected) {
		return trust.SignatureFailure(path, publisher, "signed content does not match attribute", nil)
	}
	return nil
}

// VerifyAllSignatures verifies every set or signed attribute, stopping at the
// first failure in attribute order.
func (p *Profile) VerifyAllSignatures(ctx context.Context, v Verifier) error {
	for _, f := range p.Attributes() {
		if !f.Attribute.RequestsChange() {
			continue
		}
		if err := VerifyAttribute(ctx, f.Path, f.Attribute, v); err != nil {
			return err
		}
	}
	return nil
}

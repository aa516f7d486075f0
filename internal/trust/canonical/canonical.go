// Package canonical produces the deterministic bytes an attribute signature
// covers: RFC 8785 (JCS) JSON with the signature member removed.
package canonical

import (
	"encoding/json"

	"github.com/gowebpki/jcs"

	"cis/internal/trust"
)

// SignatureKey is the member never included in signed bytes.
const SignatureKey = "signature"

// Marshal canonicalizes any JSON-serializable value. Object keys are sorted,
// insignificant whitespace is dropped and numbers use their shortest form, so the
// same logical content always yields the same bytes regardless of how it was built.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, trust.CanonicalizationFailure(err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, trust.CanonicalizationFailure(err)
	}
	return out, nil
}

// Attribute canonicalizes an attribute node without its signature member.
// The attribute is first marshaled with its own JSON encoding, so the signed
// shape is exactly the wire shape minus "signature".
func Attribute(attr any) ([]byte, error) {
	raw, err := json.Marshal(attr)
	if err != nil {
		return nil, trust.CanonicalizationFailure(err)
	}
	var node map[string]json.RawMessage
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, trust.CanonicalizationFailure(err)
	}
	delete(node, SignatureKey)
	stripped, err := json.Marshal(node)
	if err != nil {
		return nil, trust.CanonicalizationFailure(err)
	}
	out, err := jcs.Transform(stripped)
	if err != nil {
		return nil, trust.CanonicalizationFailure(err)
	}
	return out, nil
}

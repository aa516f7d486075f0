package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
)

// Shape is the payload form of an attribute, fixed per attribute name.
type Shape int

const (
	// ShapeValue attributes carry a single scalar under "value".
	ShapeValue Shape = iota
	// ShapeValues attributes carry a string-keyed map under "values".
	ShapeValues
)

func (s Shape) String() string {
	if s == ShapeValues {
		return "values"
	}
	return "value"
}

var errBothPayloads = errors.New("attribute carries both value and values")

// Attribute is the atomic signable unit of a profile.
//
// Invariants:
//   - exactly one of Value/Values is the payload, selected by Shape
//   - Value holds a JSON scalar (string, bool, number) or nil
//   - the signature never covers itself
type Attribute struct {
	shape     Shape
	Value     any
	Values    map[string]any
	Metadata  Metadata
	Signature Signature
}

// NewValueAttribute returns an empty scalar attribute with the given metadata.
func NewValueAttribute(meta Metadata) Attribute {
	return Attribute{shape: ShapeValue, Metadata: meta}
}

// NewValuesAttribute returns an empty map attribute with the given metadata.
func NewValuesAttribute(meta Metadata) Attribute {
	return Attribute{shape: ShapeValues, Metadata: meta}
}

// Shape returns the payload form of the attribute.
func (a *Attribute) Shape() Shape {
	return a.shape
}

// IsSet reports whether the attribute carries a non-null, non-empty payload.
func (a *Attribute) IsSet() bool {
	if a.shape == ShapeValues {
		return len(a.Values) > 0
	}
	return !isEmptyScalar(a.Value)
}

// IsSigned reports whether the attribute carries a publisher signature value.
func (a *Attribute) IsSigned() bool {
	return a.Signature.Publisher.Value != ""
}

// RequestsChange reports whether a submitted attribute asks for a write: either
// it carries a payload, or it is an explicitly signed clear.
func (a *Attribute) RequestsChange() bool {
	return a.IsSet() || a.IsSigned()
}

// SameContent compares payloads only. Metadata, timestamps and signatures are
// ignored; null and empty payloads compare equal.
func (a *Attribute) SameContent(b *Attribute) bool {
	if a.shape == ShapeValues || b.shape == ShapeValues {
		if len(a.Values) == 0 && len(b.Values) == 0 {
			return true
		}
		return reflect.DeepEqual(a.Values, b.Values)
	}
	if isEmptyScalar(a.Value) && isEmptyScalar(b.Value) {
		return true
	}
	return reflect.DeepEqual(a.Value, b.Value)
}

// SameDisplay compares the display and verified metadata flags.
func (a *Attribute) SameDisplay(b *Attribute) bool {
	return a.Metadata.Display == b.Metadata.Display && a.Metadata.Verified == b.Metadata.Verified
}

// StringValue returns Value as a string, or "" for non-string scalars.
func (a *Attribute) StringValue() string {
	s, _ := a.Value.(string)
	return s
}

// Clone returns a deep copy.
func (a *Attribute) Clone() Attribute {
	out := *a
	if a.Values != nil {
		out.Values = maps.Clone(a.Values)
	}
	out.Signature = a.Signature.clone()
	return out
}

func (a Attribute) MarshalJSON() ([]byte, error) {
	node := map[string]any{
		"metadata":  a.Metadata,
		"signature": a.Signature,
	}
	if a.shape == ShapeValues {
		node["values"] = a.Values
	} else {
		node["value"] = a.Value
	}
	return json.Marshal(node)
}

// UnmarshalJSON overlays the document onto the receiver: members absent from
// the document keep their current content, so partial profiles decode onto
// defaults.
func (a *Attribute) UnmarshalJSON(data []byte) error {
	var node map[string]json.RawMessage
	if err := json.Unmarshal(data, &node); err != nil {
		return fmt.Errorf("attribute: %w", err)
	}
	rawValue, hasValue := node["value"]
	rawValues, hasValues := node["values"]
	if hasValue && hasValues {
		return errBothPayloads
	}
	switch {
	case hasValues:
		a.shape = ShapeValues
		a.Value = nil
		var values map[string]any
		if err := json.Unmarshal(rawValues, &values); err != nil {
			return fmt.Errorf("attribute values: %w", err)
		}
		a.Values = values
	case hasValue:
		a.shape = ShapeValue
		a.Values = nil
		var value any
		if err := json.Unmarshal(rawValue, &value); err != nil {
			return fmt.Errorf("attribute value: %w", err)
		}
		if _, isObject := value.(map[string]any); isObject {
			return fmt.Errorf("attribute value must be a scalar")
		}
		if _, isList := value.([]any); isList {
			return fmt.Errorf("attribute value must be a scalar")
		}
		a.Value = value
	}
	if raw, ok := node["metadata"]; ok {
		if err := json.Unmarshal(raw, &a.Metadata); err != nil {
			return fmt.Errorf("attribute metadata: %w", err)
		}
	}
	if raw, ok := node["signature"]; ok {
		if err := json.Unmarshal(raw, &a.Signature); err != nil {
			return fmt.Errorf("attribute signature: %w", err)
		}
	}
	return nil
}

func isEmptyScalar(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

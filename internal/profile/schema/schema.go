// Package schema is the structural gate of the trust engine: it validates
// profile documents against the published JSON Schema (draft-04).
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"cis/internal/trust"
)

//go:embed profile.schema.json
var defaultSchema []byte

// maxReportedErrors bounds the detail surfaced to callers.
const maxReportedErrors = 5

// DefaultDocument returns the profile schema bundled with the service.
func DefaultDocument() []byte {
	return slices.Clone(defaultSchema)
}

// SubmissionRequired lists the attributes every submission carries, even a
// sparse one.
var SubmissionRequired = []string{"user_id", "active", "primary_email"}

// Validator is a compiled schema. It is safe for concurrent use.
type Validator struct {
	schema     *gojsonschema.Schema
	submission *gojsonschema.Schema
}

// Compile compiles a JSON Schema document together with its submission
// variant.
func Compile(doc []byte) (*Validator, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("compile profile schema: %w", err)
	}
	relaxed, err := submissionSchema(doc)
	if err != nil {
		return nil, err
	}
	sub, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(relaxed))
	if err != nil {
		return nil, fmt.Errorf("compile submission schema: %w", err)
	}
	return &Validator{schema: s, submission: sub}, nil
}

// submissionSchema derives the schema for sparse submissions: the root only
// requires SubmissionRequired and groups require no members. Everything else,
// including attribute node and metadata shape, is unchanged.
func submissionSchema(doc []byte) (map[string]any, error) {
	var root map[string]any
	if err := json.Unmarshal(doc, &root); err != nil {
		return nil, fmt.Errorf("decode profile schema: %w", err)
	}
	if required, ok := root["required"].([]any); ok {
		kept := make([]any, 0, len(SubmissionRequired))
		for _, name := range required {
			if s, ok := name.(string); ok && slices.Contains(SubmissionRequired, s) {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(root, "required")
		} else {
			root["required"] = kept
		}
	}
	if props, ok := root["properties"].(map[string]any); ok {
		for _, prop := range props {
			if group, ok := prop.(map[string]any); ok {
				delete(group, "required")
			}
		}
	}
	return root, nil
}

// Default compiles the bundled schema.
func Default() *Validator {
	v, err := Compile(defaultSchema)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks a complete profile document against the schema. Violations
// are reported as a SchemaValidationFailure listing the first few offending
// fields.
func (v *Validator) Validate(document []byte) error {
	return check(v.schema, document)
}

// ValidateSubmission checks a submitted, possibly sparse, document as it was
// received. Members the schema does not know are rejected.
func (v *Validator) ValidateSubmission(document []byte) error {
	return check(v.submission, document)
}

func check(compiled *gojsonschema.Schema, document []byte) error {
	result, err := compiled.Validate(gojsonschema.NewBytesLoader(document))
	if err != nil {
		return trust.SchemaFailure("document is not valid JSON", err)
	}
	if result.Valid() {
		return nil
	}
	errs := result.Errors()
	msgs := make([]string, 0, min(len(errs), maxReportedErrors))
	for _, re := range errs {
		if len(msgs) == maxReportedErrors {
			break
		}
		msgs = append(msgs, re.Field()+": "+re.Description())
	}
	if extra := len(errs) - len(msgs); extra > 0 {
		msgs = append(msgs, fmt.Sprintf("and %d more", extra))
	}
	return trust.SchemaFailure(strings.Join(msgs, "; "), nil)
}

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeLayout is the attribute timestamp format: UTC, millisecond precision,
// literal Z suffix.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Classification is the data classification of an attribute.
type Classification string

const (
	ClassificationPublic                 Classification = "PUBLIC"
	ClassificationMozillaConfidential    Classification = "MOZILLA CONFIDENTIAL"
	ClassificationIndividualConfidential Classification = "INDIVIDUAL CONFIDENTIAL"
	ClassificationStaffOnly              Classification = "WORKGROUP CONFIDENTIAL: STAFF ONLY"
)

// IsValid reports whether c is a known classification.
func (c Classification) IsValid() bool {
	switch c {
	case ClassificationPublic, ClassificationMozillaConfidential,
		ClassificationIndividualConfidential, ClassificationStaffOnly:
		return true
	}
	return false
}

// Display is the audience an attribute may be shown to. The zero value is the
// null display and is encoded as JSON null.
type Display string

const (
	DisplayNull          Display = ""
	DisplayPublic        Display = "public"
	DisplayAuthenticated Display = "authenticated"
	DisplayVouched       Display = "vouched"
	DisplayNDAed         Display = "ndaed"
	DisplayStaff         Display = "staff"
	DisplayPrivate       Display = "private"
)

// IsValid reports whether d is a known display level.
func (d Display) IsValid() bool {
	switch d {
	case DisplayNull, DisplayPublic, DisplayAuthenticated, DisplayVouched,
		DisplayNDAed, DisplayStaff, DisplayPrivate:
		return true
	}
	return false
}

func (d Display) MarshalJSON() ([]byte, error) {
	if d == DisplayNull {
		return []byte("null"), nil
	}
	return json.Marshal(string(d))
}

func (d *Display) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = DisplayNull
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("display: %w", err)
	}
	*d = Display(s)
	return nil
}

// Metadata describes an attribute. It is covered by the attribute signature.
type Metadata struct {
	Classification Classification `json:"classification"`
	LastModified   string         `json:"last_modified"`
	Created        string         `json:"created"`
	Verified       bool           `json:"verified"`
	Display        Display        `json:"display"`
}

// Signature carries the authoritative publisher signature and any co-signatures.
type Signature struct {
	Publisher  PublisherSignature   `json:"publisher"`
	Additional []PublisherSignature `json:"additional"`
}

// PublisherSignature is one detached JWS over an attribute.
type PublisherSignature struct {
	Alg   string `json:"alg"`
	Typ   string `json:"typ"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

const (
	SignatureAlg = "RS256"
	SignatureTyp = "JWS"
)

func (s Signature) MarshalJSON() ([]byte, error) {
	type alias Signature
	out := alias(s)
	if out.Additional == nil {
		out.Additional = []PublisherSignature{}
	}
	return json.Marshal(out)
}

func (s Signature) clone() Signature {
	out := s
	if s.Additional != nil {
		out.Additional = append([]PublisherSignature(nil), s.Additional...)
	}
	return out
}

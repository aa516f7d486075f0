// Package wellknown models the discovery document that publishes API
// endpoints and each publisher's public key set, and keeps an immutable,
// periodically refreshed bundle of the documents the trust engine consumes.
package wellknown

import (
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"

	"cis/internal/trust"
)

// Document is the well-known discovery document.
type Document struct {
	API                 API                      `json:"api"`
	PublishersSupported map[string]PublisherKeys `json:"publishers_supported"`
}

// API lists the endpoints of the profile service and its companion documents.
type API struct {
	Endpoint                 string `json:"endpoint,omitempty"`
	ProfileSchemaCombinedURI string `json:"profile_schema_combined_uri"`
	ProfileSchemaCoreURI     string `json:"profile_schema_core_uri,omitempty"`
	PublishersRulesURI       string `json:"publishers_rules_uri"`
}

// PublisherKeys is the public key set of one publisher.
type PublisherKeys struct {
	JWKSKeys []jose.JSONWebKey `json:"jwks_keys"`
}

// Parse decodes a well-known document and checks every published key is a
// usable public key.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse well-known document: %w", err)
	}
	for name, pk := range doc.PublishersSupported {
		for i, k := range pk.JWKSKeys {
			if !k.Valid() {
				return nil, fmt.Errorf("parse well-known document: publisher %s key %d is invalid", name, i)
			}
		}
	}
	return &doc, nil
}

// Keys returns the public keys published for publisher. Private halves, if a
// document carries them by mistake, are never handed out.
func (d *Document) Keys(publisher string) ([]jose.JSONWebKey, error) {
	pk, ok := d.PublishersSupported[publisher]
	if !ok || len(pk.JWKSKeys) == 0 {
		return nil, trust.UnknownPublisherFailure(publisher)
	}
	out := make([]jose.JSONWebKey, 0, len(pk.JWKSKeys))
	for _, k := range pk.JWKSKeys {
		out = append(out, k.Public())
	}
	return out, nil
}

// Publishers lists the publisher ids present in the document.
func (d *Document) Publishers() []string {
	out := make([]string, 0, len(d.PublishersSupported))
	for name := range d.PublishersSupported {
		out = append(out, name)
	}
	return out
}

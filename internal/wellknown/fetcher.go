package wellknown

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"cis/internal/profile/schema"
	"cis/internal/trust/policy"
	"cis/pkg/platform/sentinel"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxDocumentBytes   = 4 << 20
)

// HTTPFetcher downloads the well-known document and then the schema and
// publisher-rules documents it points at.
type HTTPFetcher struct {
	url    string
	client *http.Client
}

// NewHTTPFetcher constructs a fetcher for the discovery document at url.
// A nil client gets a default with a 10s timeout.
func NewHTTPFetcher(url string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPFetcher{url: url, client: client}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context) (*Bundle, error) {
	raw, err := f.get(ctx, f.url)
	if err != nil {
		return nil, err
	}
	doc, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if doc.API.ProfileSchemaCombinedURI == "" || doc.API.PublishersRulesURI == "" {
		return nil, fmt.Errorf("well-known document lacks schema or rules URI")
	}
	schemaRaw, err := f.get(ctx, doc.API.ProfileSchemaCombinedURI)
	if err != nil {
		return nil, err
	}
	rulesRaw, err := f.get(ctx, doc.API.PublishersRulesURI)
	if err != nil {
		return nil, err
	}
	return Assemble(raw, schemaRaw, rulesRaw)
}

func (f *HTTPFetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w: %w", url, sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d: %w", url, resp.StatusCode, sentinel.ErrUnavailable)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return body, nil
}

// FileFetcher reads the three documents from disk. An empty schema or rules
// path falls back to the documents bundled with the service.
type FileFetcher struct {
	WellKnownPath string
	SchemaPath    string
	RulesPath     string
}

// Fetch implements Fetcher.
func (f FileFetcher) Fetch(_ context.Context) (*Bundle, error) {
	raw, err := os.ReadFile(f.WellKnownPath)
	if err != nil {
		return nil, fmt.Errorf("read well-known document: %w", err)
	}
	schemaRaw := schema.DefaultDocument()
	if f.SchemaPath != "" {
		if schemaRaw, err = os.ReadFile(f.SchemaPath); err != nil {
			return nil, fmt.Errorf("read profile schema: %w", err)
		}
	}
	rulesRaw := policy.DefaultDocument()
	if f.RulesPath != "" {
		if rulesRaw, err = os.ReadFile(f.RulesPath); err != nil {
			return nil, fmt.Errorf("read publisher rules: %w", err)
		}
	}
	return Assemble(raw, schemaRaw, rulesRaw)
}

// StaticFetcher always returns the same bundle.
type StaticFetcher struct {
	Bundle *Bundle
}

// Fetch implements Fetcher.
func (f StaticFetcher) Fetch(_ context.Context) (*Bundle, error) {
	if f.Bundle == nil {
		return nil, sentinel.ErrNotFound
	}
	return f.Bundle, nil
}

// Assemble parses and compiles raw discovery documents into a Bundle.
func Assemble(wellKnown, schemaDoc, rulesDoc []byte) (*Bundle, error) {
	doc, err := Parse(wellKnown)
	if err != nil {
		return nil, err
	}
	validator, err := schema.Compile(schemaDoc)
	if err != nil {
		return nil, err
	}
	pol, err := policy.Parse(rulesDoc)
	if err != nil {
		return nil, err
	}
	return &Bundle{WellKnown: doc, Schema: validator, Policy: pol}, nil
}

// Package policy is the authority table deciding which publisher may write
// which attribute under which lifecycle condition.
//
// The table is pure data; lookups have no side effects and default to deny.
package policy

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"cis/internal/trust"
	pstrings "cis/pkg/platform/strings"
)

//go:embed rules.default.json
var defaultRules []byte

// DefaultDocument returns the publisher-rules document bundled with the service.
func DefaultDocument() []byte {
	return slices.Clone(defaultRules)
}

// DisplayPublishers may change display and verified metadata on
// community-managed attributes they do not own.
var DisplayPublishers = []string{"mozilliansorg", "cis"}

// protectedFromDisplay lists top-level attributes whose metadata only their
// authoritative publishers may change.
var protectedFromDisplay = map[string]struct{}{
	"user_id":          {},
	"uuid":             {},
	"primary_email":    {},
	"primary_username": {},
	"active":           {},
	"login_method":     {},
	"created":          {},
	"last_modified":    {},
}

// Policy maps (condition, attribute path) to the publishers allowed to write.
// Keys are dotted paths for nested group rules and bare group names for flat
// rules covering a whole group.
type Policy struct {
	rules             map[trust.Condition]map[string][]string
	displayPublishers []string
}

// New builds a Policy from already-flattened rules. Publisher lists are
// trimmed and de-duplicated.
func New(rules map[trust.Condition]map[string][]string) *Policy {
	p := &Policy{
		rules:             make(map[trust.Condition]map[string][]string, len(rules)),
		displayPublishers: DisplayPublishers,
	}
	for cond, table := range rules {
		flat := make(map[string][]string, len(table))
		for path, publishers := range table {
			flat[path] = pstrings.DedupeAndTrim(publishers)
		}
		p.rules[cond] = flat
	}
	return p
}

// Parse decodes a publisher-rules document:
//
//	{"create": {"first_name": ["ldap"], "access_information": {"ldap": ["ldap"]}}, "update": {...}}
func Parse(data []byte) (*Policy, error) {
	var doc map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse publisher rules: %w", err)
	}
	rules := make(map[trust.Condition]map[string][]string, len(doc))
	for rawCond, entries := range doc {
		cond := trust.Condition(rawCond)
		if cond != trust.ConditionCreate && cond != trust.ConditionUpdate {
			return nil, fmt.Errorf("parse publisher rules: unknown condition %q", rawCond)
		}
		table := make(map[string][]string, len(entries))
		for attr, raw := range entries {
			var flat []string
			if err := json.Unmarshal(raw, &flat); err == nil {
				table[attr] = flat
				continue
			}
			var nested map[string][]string
			if err := json.Unmarshal(raw, &nested); err != nil {
				return nil, fmt.Errorf("parse publisher rules: %s.%s must be a list or an object of lists", rawCond, attr)
			}
			for sub, publishers := range nested {
				table[attr+"."+sub] = publishers
			}
		}
		rules[cond] = table
	}
	return New(rules), nil
}

// Default returns the bundled policy.
func Default() *Policy {
	p, err := Parse(defaultRules)
	if err != nil {
		panic(err)
	}
	return p
}

// Publishers returns the allowed publishers for path: the full dotted path
// first, then its top-level group. ok is false when no rule exists.
func (p *Policy) Publishers(cond trust.Condition, path string) (publishers []string, ok bool) {
	table := p.rules[cond]
	if table == nil {
		return nil, false
	}
	if publishers, ok = table[path]; ok {
		return publishers, true
	}
	if head := topLevel(path); head != path {
		publishers, ok = table[head]
	}
	return publishers, ok
}

// IsAllowed reports whether publisher may write path under cond. Missing
// rules deny.
func (p *Policy) IsAllowed(cond trust.Condition, path, publisher string) bool {
	if publisher == "" {
		return false
	}
	publishers, ok := p.Publishers(cond, path)
	if !ok {
		return false
	}
	return slices.Contains(publishers, publisher)
}

// MayChangeDisplay reports whether publisher may change only the display and
// verified flags of path without owning its value. Identity fields and access
// groups other than the community one are excluded.
func (p *Policy) MayChangeDisplay(path, publisher string) bool {
	if !slices.Contains(p.displayPublishers, publisher) {
		return false
	}
	if _, protected := protectedFromDisplay[path]; protected {
		return false
	}
	if topLevel(path) == "access_information" && path != "access_information.mozilliansorg" {
		return false
	}
	return true
}

func topLevel(path string) string {
	head, _, _ := strings.Cut(path, ".")
	return head
}

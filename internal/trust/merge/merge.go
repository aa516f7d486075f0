// Package merge reconciles an incoming, possibly partial, profile against the
// previously stored one under the authority policy.
//
// Every attribute is decided on its own: the decision for one path never
// reads the outcome of another, so the result does not depend on processing
// order. The first violation in attribute order aborts the whole merge.
package merge

import (
	"context"

	"cis/internal/profile/models"
	"cis/internal/trust"
	"cis/internal/trust/policy"
	"cis/pkg/requestcontext"
)

// serverAssigned attributes must be empty on create.
var serverAssigned = []string{"uuid", "primary_username"}

// Change is one attribute the merge adopted from the incoming profile.
// Submitted is the attribute exactly as received, which is what its
// signature covers.
type Change struct {
	Path        string
	Publisher   string
	DisplayOnly bool
	Submitted   models.Attribute
}

// Result is the outcome of a successful merge.
type Result struct {
	Profile   *models.Profile
	Condition trust.Condition
	Changes   []Change
}

// ChangedPaths lists the adopted attribute paths in attribute order.
func (r *Result) ChangedPaths() []string {
	out := make([]string, len(r.Changes))
	for i, c := range r.Changes {
		out[i] = c.Path
	}
	return out
}

// Merge computes the new canonical profile. previous is nil for a profile
// that has never been stored, which selects the create condition. Neither
// input is modified.
func Merge(ctx context.Context, previous, incoming *models.Profile, pol *policy.Policy) (*Result, error) {
	cond := trust.ConditionFor(previous != nil)
	var merged *models.Profile
	if previous != nil {
		merged = previous.Clone()
	} else {
		merged = models.New()
	}
	if incoming.Schema != "" {
		merged.Schema = incoming.Schema
	}

	if cond == trust.ConditionCreate {
		for _, path := range serverAssigned {
			attr, _ := incoming.Attribute(path)
			if attr.IsSet() {
				return nil, trust.PublisherFailure(path, attr.Signature.Publisher.Name, cond,
					"server-assigned attribute must not be set on create")
			}
		}
	}

	now := models.FormatTime(requestcontext.Now(ctx))
	res := &Result{Profile: merged, Condition: cond}
	base := merged.Attributes()
	for i, f := range incoming.Attributes() {
		target := base[i].Attribute
		change, err := decide(cond, f.Path, target, f.Attribute, pol)
		if err != nil {
			return nil, err
		}
		if change == nil {
			continue
		}
		*target = f.Attribute.Clone()
		target.Metadata.LastModified = now
		res.Changes = append(res.Changes, *change)
	}
	return res, nil
}

// decide returns the change to adopt for one path, nil to keep the previous
// attribute, or a PublisherVerificationFailure.
func decide(cond trust.Condition, path string, prev, inc *models.Attribute, pol *policy.Policy) (*Change, error) {
	if !inc.RequestsChange() {
		return nil, nil
	}
	publisher := inc.Signature.Publisher.Name

	if prev.SameContent(inc) {
		if prev.SameDisplay(inc) || !inc.IsSigned() {
			return nil, nil
		}
		// a signature carried over from the stored copy does not cover the edit
		if inc.Signature.Publisher.Value == prev.Signature.Publisher.Value {
			return nil, nil
		}
		if !pol.MayChangeDisplay(path, publisher) && !pol.IsAllowed(cond, path, publisher) {
			return nil, nil
		}
		return &Change{Path: path, Publisher: publisher, DisplayOnly: true, Submitted: inc.Clone()}, nil
	}

	if !pol.IsAllowed(cond, path, publisher) {
		return nil, trust.PublisherFailure(path, publisher, cond, "publisher may not write this attribute")
	}
	return &Change{Path: path, Publisher: publisher, Submitted: inc.Clone()}, nil
}

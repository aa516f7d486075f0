// Package sentinel holds infrastructure facts shared by stores, key providers,
// publishers and document fetchers. Services translate them into coded domain
// errors; they never describe invalid input.
package sentinel

import "errors"

var (
	// ErrNotFound: the profile, key or document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict: a conditional write lost against a newer stored version.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable: the backing service cannot be reached right now.
	ErrUnavailable = errors.New("unavailable")
)

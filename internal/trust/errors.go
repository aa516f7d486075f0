// Package trust holds the failure taxonomy shared by the profile trust engine:
// canonicalization, signing, verification, authority policy and merge.
//
// Every rejection the engine produces is an *Error with a closed Kind, so the
// all-or-nothing outcome of a submission is visible in the return type rather
// than in panics or ad-hoc strings.
package trust

import (
	"errors"
	"fmt"

	dErrors "cis/pkg/domain-errors"
)

// Kind is the closed set of trust failures.
type Kind string

const (
	KindSchemaValidation      Kind = "schema_validation_failure"
	KindPublisherVerification Kind = "publisher_verification_failure"
	KindSignatureVerification Kind = "signature_verification_failure"
	KindUnknownPublisher      Kind = "unknown_publisher"
	KindKeyUnavailable        Kind = "key_unavailable"
	KindCanonicalization      Kind = "canonicalization_error"
	KindSigningFailed         Kind = "signing_failed"
)

// Condition is the profile lifecycle phase a submission is judged under.
type Condition string

const (
	ConditionCreate Condition = "create"
	ConditionUpdate Condition = "update"
)

// ConditionFor returns create when there is no previously stored profile.
func ConditionFor(hasPrevious bool) Condition {
	if hasPrevious {
		return ConditionUpdate
	}
	return ConditionCreate
}

// Error is a typed trust rejection. Attribute, Publisher and Condition are set
// when the failure concerns a single attribute.
type Error struct {
	Kind      Kind
	Attribute string
	Publisher string
	Condition Condition
	Message   string
	Err       error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Attribute != "" {
		msg += fmt.Sprintf(" (attribute=%s publisher=%s condition=%s)", e.Attribute, e.Publisher, e.Condition)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so errors.Is(err, trust.ErrSchema)
// style checks work without comparing details.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Attribute == "" && t.Message == ""
}

// Kind sentinels for errors.Is checks.
var (
	ErrSchemaValidation      = &Error{Kind: KindSchemaValidation}
	ErrPublisherVerification = &Error{Kind: KindPublisherVerification}
	ErrSignatureVerification = &Error{Kind: KindSignatureVerification}
	ErrUnknownPublisher      = &Error{Kind: KindUnknownPublisher}
	ErrKeyUnavailable        = &Error{Kind: KindKeyUnavailable}
	ErrCanonicalization      = &Error{Kind: KindCanonicalization}
	ErrSigningFailed         = &Error{Kind: KindSigningFailed}
)

// SchemaFailure reports a structurally invalid submission.
func SchemaFailure(msg string, err error) *Error {
	return &Error{Kind: KindSchemaValidation, Message: msg, Err: err}
}

// PublisherFailure reports a publisher writing an attribute it does not own.
func PublisherFailure(attribute, publisher string, condition Condition, msg string) *Error {
	return &Error{
		Kind:      KindPublisherVerification,
		Attribute: attribute,
		Publisher: publisher,
		Condition: condition,
		Message:   msg,
	}
}

// SignatureFailure reports a cryptographic mismatch on one attribute.
func SignatureFailure(attribute, publisher, msg string, err error) *Error {
	return &Error{
		Kind:      KindSignatureVerification,
		Attribute: attribute,
		Publisher: publisher,
		Message:   msg,
		Err:       err,
	}
}

// UnknownPublisherFailure reports a publisher absent from the well-known document.
func UnknownPublisherFailure(publisher string) *Error {
	return &Error{Kind: KindUnknownPublisher, Publisher: publisher, Message: "publisher has no published keys"}
}

// KeyUnavailableFailure reports exhausted retries fetching key material.
func KeyUnavailableFailure(name string, err error) *Error {
	return &Error{Kind: KindKeyUnavailable, Message: "key " + name + " unavailable", Err: err}
}

// CanonicalizationFailure reports content that cannot be serialized.
func CanonicalizationFailure(err error) *Error {
	return &Error{Kind: KindCanonicalization, Message: "attribute payload is not serializable", Err: err}
}

// SigningFailure reports a cryptographic error while producing a signature.
func SigningFailure(msg string, err error) *Error {
	return &Error{Kind: KindSigningFailed, Message: msg, Err: err}
}

// KindOf extracts the trust Kind from err, or "" when err is not a trust error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// AsError returns the *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var te *Error
	ok := errors.As(err, &te)
	return te, ok
}

// IsSecurityEvent reports failures that must be logged as security events:
// signature mismatches and unknown publishers.
func IsSecurityEvent(err error) bool {
	switch KindOf(err) {
	case KindSignatureVerification, KindUnknownPublisher:
		return true
	default:
		return false
	}
}

// IsRejection reports whether err is a trust decision (the submission is
// invalid) as opposed to an infrastructure or programmer failure.
func IsRejection(err error) bool {
	switch KindOf(err) {
	case KindSchemaValidation, KindPublisherVerification, KindSignatureVerification, KindUnknownPublisher:
		return true
	default:
		return false
	}
}

// ToDomain translates a trust error into a coded domain error for transports.
// Unknown publishers surface as signature failures.
func ToDomain(err error) error {
	te, ok := AsError(err)
	if !ok {
		return dErrors.Wrap(err, dErrors.CodeInternal, "profile processing failed")
	}
	switch te.Kind {
	case KindSchemaValidation:
		return dErrors.Wrap(err, dErrors.CodeValidation, te.Error())
	case KindPublisherVerification:
		return dErrors.Wrap(err, dErrors.CodeForbidden, te.Error())
	case KindSignatureVerification, KindUnknownPublisher:
		return dErrors.Wrap(err, dErrors.CodeForbidden, string(KindSignatureVerification)+": "+te.Message)
	case KindKeyUnavailable:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "key material temporarily unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, string(te.Kind))
	}
}

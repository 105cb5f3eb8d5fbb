// internal/liveauth/errors.go
package liveauth

import (
	"errors"
	"strings"
)

// Failure kinds. Match them with errors.Is.
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrProtocolDrift = errors.New("protocol drift")
	ErrBadPassword   = errors.New("invalid password")
	ErrBadUsername   = errors.New("invalid username")
	ErrTermsOfUse    = errors.New("terms of use pending")
	ErrVerification  = errors.New("verification failed")
)

// Step names one request of the handshake.
type Step string

const (
	StepValidate    Step = "validate"
	StepPortal      Step = "portal_landing"
	StepLoginPage   Step = "login_page"
	StepCredentials Step = "credential_post"
	StepContinue    Step = "continue_post"
	StepVerify      Step = "verification"
)

// Error is a classified authentication failure.
type Error struct {
	Kind error
	Step Step
	// Rule is the extraction rule that found nothing, for protocol drift.
	Rule string
	// Reason is the human-readable explanation.
	Reason string
	// Diagnostic points at stored evidence, or says why none could be stored.
	Diagnostic string
	// Cause is a secondary error, such as a failed diagnostic write.
	Cause error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Reason)
	if e.Diagnostic != "" {
		b.WriteString(":\n")
		b.WriteString(e.Diagnostic)
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

func driftError(step Step, rule Rule) *Error {
	return &Error{
		Kind:   ErrProtocolDrift,
		Step:   step,
		Rule:   rule.Name,
		Reason: rule.Missing,
	}
}

// failureMarker is a literal page fragment that identifies a rejected login.
type failureMarker struct {
	text   string
	kind   error
	reason string
}

// Checked in order against the credential POST response.
var failureMarkers = []failureMarker{
	{"That password is incorrect.", ErrBadPassword, "Authentication has not been passed: Invalid password"},
	{"That Microsoft account doesn't exist", ErrBadUsername, "Authentication has not been passed: Invalid username"},
	{"//account.live.com/tou/accrue", ErrTermsOfUse, "Please log in (log out first if necessary) through a browser and accept the Terms Of Use"},
}

func classifyCredentialResponse(page string) *Error {
	for _, m := range failureMarkers {
		if strings.Contains(page, m.text) {
			return &Error{Kind: m.kind, Step: StepCredentials, Reason: m.reason}
		}
	}
	return nil
}

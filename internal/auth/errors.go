package auth

import "fmt"

// Kind classifies where the sign-in handshake broke.
type Kind string

const (
	KindBootstrap         Kind = "bootstrap"
	KindCredentialSubmit  Kind = "credential_submit"
	KindRejected          Kind = "rejected"
	KindTokenRelayMissing Kind = "token_relay_missing"
	KindNotLoggedIn       Kind = "not_logged_in"
)

// AuthError is returned by Login. Network failures are wrapped in the error
// of the step they happened in.
type AuthError struct {
	Kind   Kind
	Step   int
	Detail string
	Err    error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("login step %d (%s) failed", e.Step, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// DetailNetwork marks a step that failed before the portal answered.
const DetailNetwork = "network failure"

// RetryLimitSuspected reports whether the portal may be refusing sign-ins
// because the daily attempt limit was reached. The portal has no status code
// for this, so it shows up as a rejected confirmation or a missing welcome page.
func (e *AuthError) RetryLimitSuspected() bool {
	if e.Detail == DetailNetwork {
		return false
	}
	return e.Kind == KindRejected || e.Kind == KindNotLoggedIn
}

func stepError(kind Kind, step int, detail string, err error) *AuthError {
	return &AuthError{Kind: kind, Step: step, Detail: detail, Err: err}
}

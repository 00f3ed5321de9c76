package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_StepsDoNotShareValues(t *testing.T) {
	base := State{}.withSettings("csrf", "tx").withCookies("x-ms-cpim-csrf")
	next := base.withCookies("x-ms-cpim-trans", "x-ms-cpim-csrf")

	assert.Equal(t, []string{"x-ms-cpim-csrf"}, base.Cookies)
	assert.Equal(t, []string{"x-ms-cpim-csrf", "x-ms-cpim-trans"}, next.Cookies)

	assert.NoError(t, base.requireSettings())
	assert.ErrorIs(t, State{}.requireSettings(), errNoSettings)

	relayed := base.withRelay("https://portal/signin-oidc", "s", "c", "k")
	assert.NoError(t, relayed.requireRelay())
	assert.ErrorIs(t, base.requireRelay(), errNoRelay)
	assert.Empty(t, base.AuthCode)
}

func TestSelfAssertedFailure(t *testing.T) {
	tests := []struct {
		body   string
		failed bool
		msg    string
	}{
		{body: `{"status":"200"}`},
		{body: `{"status":200}`},
		{body: `not json`},
		{body: ``},
		{body: `{"status":"400","message":"Invalid username or password."}`, failed: true, msg: "Invalid username or password."},
		{body: `{"status":"400"}`, failed: true, msg: "credentials refused with status 400"},
	}
	for _, tt := range tests {
		msg, failed := selfAssertedFailure([]byte(tt.body))
		assert.Equal(t, tt.failed, failed, tt.body)
		assert.Equal(t, tt.msg, msg, tt.body)
	}
}

func TestAuthError(t *testing.T) {
	err := stepError(KindRejected, 3, "Too many attempts", nil)
	assert.Equal(t, "login step 3 (rejected) failed: Too many attempts", err.Error())
	assert.True(t, err.RetryLimitSuspected())
	assert.False(t, stepError(KindCredentialSubmit, 2, "", nil).RetryLimitSuspected())
	assert.False(t, stepError(KindRejected, 3, DetailNetwork, errors.New("timeout")).RetryLimitSuspected())
}

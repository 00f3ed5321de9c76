package auth_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/esbmeter/internal/auth"
	"github.com/tejusbharadwaj/esbmeter/internal/portaltest"
)

func TestLogin_Success(t *testing.T) {
	portal := portaltest.New(t)
	a := auth.NewAuthenticator(portal.Options(), nil)

	session, err := a.Login(context.Background(), portal.Credentials())
	require.NoError(t, err)
	require.NotNil(t, session)
	defer session.Close()

	for _, step := range []string{
		portaltest.StepBootstrap,
		portaltest.StepAuthorize,
		portaltest.StepSubmit,
		portaltest.StepConfirm,
		portaltest.StepRelay,
		portaltest.StepHome,
	} {
		assert.Equal(t, 1, portal.Calls(step), step)
	}

	// The session carries the portal cookie.
	req, err := http.NewRequest(http.MethodGet, portal.Server.URL+"/DataHub/DownloadHdf?mprn="+portaltest.MPRN, nil)
	require.NoError(t, err)
	resp, err := session.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLogin_Failures(t *testing.T) {
	tests := []struct {
		name      string
		behaviour func(b *portaltest.Behaviour)
		password  string
		wantKind  auth.Kind
		wantStep  int
		detail    string
	}{
		{
			name:      "missing settings",
			behaviour: func(b *portaltest.Behaviour) { b.OmitSettings = true },
			wantKind:  auth.KindBootstrap,
			wantStep:  1,
		},
		{
			name:      "wrong password",
			behaviour: func(b *portaltest.Behaviour) {},
			password:  "wrong",
			wantKind:  auth.KindCredentialSubmit,
			wantStep:  2,
			detail:    "find your account",
		},
		{
			name:      "submit server error",
			behaviour: func(b *portaltest.Behaviour) { b.SubmitStatus = http.StatusInternalServerError },
			wantKind:  auth.KindCredentialSubmit,
			wantStep:  2,
			detail:    "status 500",
		},
		{
			name:      "confirmation rejected",
			behaviour: func(b *portaltest.Behaviour) { b.RejectConfirm = true },
			wantKind:  auth.KindRejected,
			wantStep:  3,
			detail:    "Too many sign-in attempts | Cookies are disabled",
		},
		{
			name:      "relay field missing",
			behaviour: func(b *portaltest.Behaviour) { b.OmitRelayField = "client_info" },
			wantKind:  auth.KindTokenRelayMissing,
			wantStep:  4,
		},
		{
			name:      "relay not redirected",
			behaviour: func(b *portaltest.Behaviour) { b.RelayStatus = http.StatusOK },
			wantKind:  auth.KindTokenRelayMissing,
			wantStep:  4,
			detail:    "expected a redirect",
		},
		{
			name:      "no welcome banner",
			behaviour: func(b *portaltest.Behaviour) { b.NoWelcome = true },
			wantKind:  auth.KindNotLoggedIn,
			wantStep:  5,
			detail:    "Sign in to your account",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			portal := portaltest.New(t)
			portal.Update(tt.behaviour)
			creds := portal.Credentials()
			if tt.password != "" {
				creds.Password = tt.password
			}

			session, err := auth.NewAuthenticator(portal.Options(), nil).Login(context.Background(), creds)
			require.Error(t, err)
			assert.Nil(t, session)

			var authErr *auth.AuthError
			require.True(t, errors.As(err, &authErr), "unclassified error: %v", err)
			assert.Equal(t, tt.wantKind, authErr.Kind)
			assert.Equal(t, tt.wantStep, authErr.Step)
			if tt.detail != "" {
				assert.Contains(t, authErr.Detail, tt.detail)
			}
		})
	}
}

func TestLogin_RejectedStopsBeforeRelay(t *testing.T) {
	portal := portaltest.New(t)
	portal.Update(func(b *portaltest.Behaviour) { b.RejectConfirm = true })

	_, err := auth.NewAuthenticator(portal.Options(), nil).Login(context.Background(), portal.Credentials())

	var authErr *auth.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.True(t, authErr.RetryLimitSuspected())
	assert.Equal(t, 0, portal.Calls(portaltest.StepRelay))
	assert.Equal(t, 0, portal.Calls(portaltest.StepHome))
}

func TestLogin_PortalUnreachable(t *testing.T) {
	portal := portaltest.New(t)
	opts := portal.Options()
	portal.Server.Close()

	_, err := auth.NewAuthenticator(opts, nil).Login(context.Background(), portal.Credentials())

	var authErr *auth.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, auth.KindBootstrap, authErr.Kind)
	assert.NotNil(t, errors.Unwrap(authErr))
	assert.False(t, authErr.RetryLimitSuspected())
}

// failConfirm drops the confirm request at the transport.
type failConfirm struct{ next http.RoundTripper }

func (f failConfirm) RoundTrip(req *http.Request) (*http.Response, error) {
	if strings.HasSuffix(req.URL.Path, "/confirmed") {
		return nil, errors.New("connection reset by peer")
	}
	return f.next.RoundTrip(req)
}

func TestLogin_ConfirmTransportError(t *testing.T) {
	portal := portaltest.New(t)
	opts := portal.Options()
	opts.Transport = failConfirm{next: opts.Transport}

	_, err := auth.NewAuthenticator(opts, nil).Login(context.Background(), portal.Credentials())

	var authErr *auth.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, auth.KindRejected, authErr.Kind)
	assert.Equal(t, 3, authErr.Step)
	assert.Equal(t, auth.DetailNetwork, authErr.Detail)
	assert.False(t, authErr.RetryLimitSuspected())
	assert.Contains(t, err.Error(), "/confirmed")
	assert.NotContains(t, err.Error(), portaltest.CSRFToken)
	assert.NotContains(t, err.Error(), "csrf_token")
	assert.NotContains(t, err.Error(), "tx=")
}

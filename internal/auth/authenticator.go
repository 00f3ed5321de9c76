// Package auth signs in to the ESB Networks customer portal.
//
// The portal has no token API. Signing in replays the browser's identity
// provider redirect chain as five fixed HTTP exchanges:
//
//  1. bootstrap: GET the portal root and read the SETTINGS script object
//  2. credential submit: POST the credentials to SelfAsserted
//  3. confirm: GET CombinedSigninAndSignup/confirmed
//  4. token relay: POST form #auto back to the portal
//  5. landing: GET the portal home page and look for the welcome banner
//
// Each step either advances or the whole login fails with an *AuthError
// naming the step.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/esbmeter/internal/metrics"
	"github.com/tejusbharadwaj/esbmeter/internal/models"
	"github.com/tejusbharadwaj/esbmeter/internal/scrape"
)

const (
	DefaultPortalURL = "https://myaccount.esbnetworks.ie"
	DefaultLoginURL  = "https://login.esbnetworks.ie/esbntwkscustportalprdb2c01.onmicrosoft.com/B2C_1A_signup_signin"
	DefaultPolicy    = "B2C_1A_signup_signin"
	DefaultUserAgent = "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:133.0) Gecko/20100101 Firefox/133.0"

	// confirmedPrefix is how a good confirmation page starts. Rate limited,
	// captcha and stale-session pages are plain HTML5 documents instead.
	confirmedPrefix = "<!DOCTYPE html PUBLIC"
	// welcomePrefix starts the "Welcome, <name>" banner of a signed-in home page.
	welcomePrefix = "We"
	welcomeClass  = "esb-title-h1"
	relayFormID   = "auto"
)

// Options configures the portal endpoints and HTTP behaviour.
type Options struct {
	PortalURL      string
	LoginURL       string
	Policy         string
	UserAgent      string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// Transport replaces the default transport, mostly for tests.
	Transport http.RoundTripper
}

// DefaultOptions returns the production endpoints and timeouts.
func DefaultOptions() Options {
	return Options{
		PortalURL:      DefaultPortalURL,
		LoginURL:       DefaultLoginURL,
		Policy:         DefaultPolicy,
		UserAgent:      DefaultUserAgent,
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PortalURL == "" {
		o.PortalURL = d.PortalURL
	}
	if o.LoginURL == "" {
		o.LoginURL = d.LoginURL
	}
	if o.Policy == "" {
		o.Policy = d.Policy
	}
	if o.UserAgent == "" {
		o.UserAgent = d.UserAgent
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = d.ReadTimeout
	}
	o.PortalURL = strings.TrimRight(o.PortalURL, "/")
	o.LoginURL = strings.TrimRight(o.LoginURL, "/")
	return o
}

// Authenticator runs the sign-in flow. It holds no per-login state and is
// safe for concurrent use, though callers are expected to serialise logins
// for the same credentials.
type Authenticator struct {
	opts   Options
	logger *logrus.Logger
}

func NewAuthenticator(opts Options, logger *logrus.Logger) *Authenticator {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Authenticator{opts: opts.withDefaults(), logger: logger}
}

// Login performs the five steps and returns the signed-in session.
func (a *Authenticator) Login(ctx context.Context, creds models.Credentials) (*Session, error) {
	start := time.Now()
	log := a.logger.WithFields(logrus.Fields{
		"attempt_id": uuid.NewString(),
		"mprn":       creds.MPRN,
	})
	log.Info("Starting portal login")

	session, err := a.login(ctx, creds, log)
	outcome := "success"
	if err != nil {
		outcome = "error"
		var authErr *AuthError
		if errors.As(err, &authErr) {
			outcome = string(authErr.Kind)
			log = log.WithFields(logrus.Fields{"step": authErr.Step, "kind": authErr.Kind})
			if authErr.RetryLimitSuspected() {
				log.Error("Portal refused the login; the daily attempt limit may be reached or a previous session was not closed. Try again after midnight")
			}
		}
		log.WithError(err).Error("Portal login failed")
	} else {
		log.WithField("duration", time.Since(start)).Info("Portal login succeeded")
	}
	metrics.LoginAttempts.WithLabelValues(outcome).Inc()
	metrics.LoginDuration.Observe(time.Since(start).Seconds())

	return session, err
}

func (a *Authenticator) login(ctx context.Context, creds models.Credentials, log *logrus.Entry) (*Session, error) {
	session, err := newSession(a.opts)
	if err != nil {
		return nil, stepError(KindBootstrap, 1, "", err)
	}

	st, err := a.bootstrap(ctx, session, log)
	if err == nil {
		st, err = a.submitCredentials(ctx, session, st, creds, log)
	}
	if err == nil {
		st, err = a.confirm(ctx, session, st, log)
	}
	if err == nil {
		st, err = a.relay(ctx, session, st, log)
	}
	if err == nil {
		err = a.land(ctx, session, st, log)
	}
	if err != nil {
		session.Close()
		return nil, err
	}
	return session, nil
}

// bootstrap is step 1.
func (a *Authenticator) bootstrap(ctx context.Context, s *Session, log *logrus.Entry) (State, error) {
	const step = 1
	fail := func(detail string, err error) (State, error) {
		return State{}, stepError(KindBootstrap, step, detail, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.opts.PortalURL+"/", nil)
	if err != nil {
		return fail("", err)
	}
	setHeaders(req, documentHeaders)

	resp, err := s.Do(req)
	if err != nil {
		return fail(DetailNetwork, err)
	}
	body, err := readBody(resp)
	if err != nil {
		return fail(DetailNetwork, err)
	}
	if !is2xx(resp.StatusCode) {
		return fail(fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	settings, err := scrape.EmbeddedJSON(body, "SETTINGS")
	if err != nil {
		return fail("", err)
	}
	csrf, _ := settings["csrf"].(string)
	transID, _ := settings["transId"].(string)

	st := State{}.withSettings(csrf, transID).
		withCookies(s.cookieNames(a.opts.LoginURL, "x-ms-cpim-sso", "x-ms-cpim-csrf", "x-ms-cpim-trans")...)
	if err := st.requireSettings(); err != nil {
		return fail("SETTINGS", err)
	}

	log.WithFields(logrus.Fields{
		"step":    step,
		"status":  resp.StatusCode,
		"title":   scrape.Title(body).String(),
		"cookies": st.Cookies,
	}).Debug("Login page loaded")
	if len(st.Cookies) < 2 {
		log.WithField("cookies", st.Cookies).Warn("Identity provider cookies missing after bootstrap")
	}
	return st, nil
}

// submitCredentials is step 2. Redirects are not followed here.
func (a *Authenticator) submitCredentials(ctx context.Context, s *Session, st State, creds models.Credentials, log *logrus.Entry) (State, error) {
	const step = 2
	fail := func(detail string, err error) (State, error) {
		return State{}, stepError(KindCredentialSubmit, step, detail, err)
	}
	if err := st.requireSettings(); err != nil {
		return fail("", err)
	}

	q := url.Values{}
	q.Set("tx", st.TransactionID)
	q.Set("p", a.opts.Policy)
	form := url.Values{}
	form.Set("signInName", creds.Username)
	form.Set("password", creds.Password)
	form.Set("request_type", "RESPONSE")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.opts.LoginURL+"/SelfAsserted?"+q.Encode(), strings.NewReader(form.Encode()))
	if err != nil {
		return fail("", err)
	}
	setHeaders(req, xhrHeaders)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("Origin", origin(a.opts.LoginURL))
	req.Header.Set("x-csrf-token", st.CSRFToken)

	resp, err := s.doNoRedirect(req)
	if err != nil {
		return fail(DetailNetwork, err)
	}
	body, err := readBody(resp)
	if err != nil {
		return fail(DetailNetwork, err)
	}
	if !is2xx(resp.StatusCode) {
		return fail(fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
	if msg, ok := selfAssertedFailure(body); ok {
		return fail(msg, nil)
	}

	st = st.withCookies(s.cookieNames(a.opts.LoginURL, "x-ms-cpim-")...)
	log.WithFields(logrus.Fields{
		"step":    step,
		"status":  resp.StatusCode,
		"cookies": st.Cookies,
	}).Debug("Credentials accepted")
	return st, nil
}

// selfAssertedFailure reads the JSON answer of SelfAsserted, which reports a
// bad username or password as {"status":"400","message":...} with HTTP 200.
func selfAssertedFailure(body []byte) (string, bool) {
	var answer struct {
		Status  interface{} `json:"status"`
		Message string      `json:"message"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(body), &answer); err != nil || answer.Status == nil {
		return "", false
	}
	if status := fmt.Sprint(answer.Status); status != "200" {
		if answer.Message == "" {
			answer.Message = "credentials refused with status " + status
		}
		return answer.Message, true
	}
	return "", false
}

// confirm is step 3. The page must start with the XHTML doctype; anything
// else is a rejection page (rate limit, captcha or stale session).
func (a *Authenticator) confirm(ctx context.Context, s *Session, st State, log *logrus.Entry) (State, error) {
	const step = 3
	fail := func(detail string, err error) (State, error) {
		return State{}, stepError(KindRejected, step, detail, err)
	}
	if err := st.requireSettings(); err != nil {
		return fail("", err)
	}

	q := url.Values{}
	q.Set("rememberMe", "false")
	q.Set("csrf_token", st.CSRFToken)
	q.Set("tx", st.TransactionID)
	q.Set("p", a.opts.Policy)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.opts.LoginURL+"/api/CombinedSigninAndSignup/confirmed?"+q.Encode(), nil)
	if err != nil {
		return fail("", err)
	}
	setHeaders(req, documentHeaders)

	resp, err := s.Do(req)
	if err != nil {
		return fail(DetailNetwork, err)
	}
	body, err := readBody(resp)
	if err != nil {
		return fail(DetailNetwork, err)
	}

	if !bytes.HasPrefix(body, []byte(confirmedPrefix)) {
		return fail(rejectionDetail(body), nil)
	}
	log.WithFields(logrus.Fields{
		"step":   step,
		"status": resp.StatusCode,
		"title":  scrape.Title(body).String(),
	}).Debug("Sign-in confirmed")

	form, err := scrape.FindForm(body, relayFormID)
	if err != nil {
		return State{}, stepError(KindTokenRelayMissing, 4, "", err)
	}
	fields := make(map[string]string, 3)
	for _, name := range []string{"state", "client_info", "code"} {
		v, err := form.Field(name)
		if err != nil {
			return State{}, stepError(KindTokenRelayMissing, 4, "", err)
		}
		fields[name] = v
	}

	relayURL := form.Action
	if relayURL != "" {
		if ref, err := url.Parse(relayURL); err == nil {
			relayURL = resp.Request.URL.ResolveReference(ref).String()
		}
	}
	return st.withRelay(relayURL, fields["state"], fields["client_info"], fields["code"]), nil
}

// rejectionDetail scrapes whatever explanation the rejection page offers.
func rejectionDetail(body []byte) string {
	var parts []string
	for _, sel := range []string{"h1", "div#no_js", "div#no_cookie"} {
		if text := scrape.Text(body, sel); text.OK && text.Value != "" {
			parts = append(parts, text.Value)
		}
	}
	if len(parts) == 0 {
		return "confirmation page did not start with " + confirmedPrefix
	}
	return strings.Join(parts, " | ")
}

// relay is step 4: hand the authorization code back to the portal.
func (a *Authenticator) relay(ctx context.Context, s *Session, st State, log *logrus.Entry) (State, error) {
	const step = 4
	fail := func(detail string, err error) (State, error) {
		return State{}, stepError(KindTokenRelayMissing, step, detail, err)
	}
	if err := st.requireRelay(); err != nil {
		return fail("", err)
	}

	form := url.Values{}
	form.Set("state", st.StateParam)
	form.Set("client_info", st.ClientInfo)
	form.Set("code", st.AuthCode)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, st.RelayURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fail("", err)
	}
	setHeaders(req, documentHeaders)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Origin", origin(a.opts.LoginURL))
	req.Header.Set("Referer", origin(a.opts.LoginURL)+"/")

	resp, err := s.doNoRedirect(req)
	if err != nil {
		return fail(DetailNetwork, err)
	}
	if _, err := readBody(resp); err != nil {
		return fail(DetailNetwork, err)
	}
	if resp.StatusCode < 300 || resp.StatusCode > 399 {
		return fail(fmt.Sprintf("relay answered %d, expected a redirect", resp.StatusCode), nil)
	}

	st = st.withCookies(s.cookieNames(a.opts.PortalURL, "ARRAffinity")...)
	log.WithFields(logrus.Fields{
		"step":    step,
		"status":  resp.StatusCode,
		"cookies": st.Cookies,
	}).Debug("Authorization code relayed")
	return st, nil
}

// land is step 5.
func (a *Authenticator) land(ctx context.Context, s *Session, st State, log *logrus.Entry) error {
	const step = 5
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.opts.PortalURL, nil)
	if err != nil {
		return stepError(KindNotLoggedIn, step, "", err)
	}
	setHeaders(req, documentHeaders)
	req.Header.Set("Referer", origin(a.opts.LoginURL)+"/")

	resp, err := s.Do(req)
	if err != nil {
		return stepError(KindNotLoggedIn, step, DetailNetwork, err)
	}
	body, err := readBody(resp)
	if err != nil {
		return stepError(KindNotLoggedIn, step, DetailNetwork, err)
	}

	heading := scrape.HeadingText(body, welcomeClass)
	if !heading.OK || !strings.HasPrefix(heading.Value, welcomePrefix) {
		return stepError(KindNotLoggedIn, step, "no welcome message, heading: "+heading.String(), nil)
	}
	log.WithFields(logrus.Fields{
		"step":    step,
		"status":  resp.StatusCode,
		"title":   scrape.Title(body).String(),
		"cookies": st.Cookies,
	}).Debug("Portal home reached")
	return nil
}

var documentHeaders = map[string]string{
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.5",
	"Dnt":             "1",
	"Sec-Gpc":         "1",
	"Sec-Fetch-Dest":  "document",
	"Sec-Fetch-Mode":  "navigate",
	"Pragma":          "no-cache",
	"Cache-Control":   "no-cache",
}

var xhrHeaders = map[string]string{
	"Accept":           "application/json, text/javascript, */*; q=0.01",
	"Accept-Language":  "en-US,en;q=0.5",
	"X-Requested-With": "XMLHttpRequest",
	"Dnt":              "1",
	"Sec-Gpc":          "1",
	"Sec-Fetch-Dest":   "empty",
	"Sec-Fetch-Mode":   "cors",
	"Sec-Fetch-Site":   "same-origin",
}

func setHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

func origin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func is2xx(code int) bool {
	return code >= 200 && code <= 299
}

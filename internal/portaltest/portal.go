// Package portaltest runs an in-process imitation of the ESB Networks portal
// and its identity provider for tests.
package portaltest

import (
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/tejusbharadwaj/esbmeter/internal/auth"
	"github.com/tejusbharadwaj/esbmeter/internal/models"
)

const (
	Username = "jane@example.com"
	Password = "hunter2"
	MPRN     = "10012345678"

	LoginPath = "/b2c/B2C_1A_signup_signin"
	Policy    = "B2C_1A_signup_signin"

	// CSRFToken is embedded in the login page settings.
	CSRFToken   = "csrf-abc=="
	transID     = "StateProperties=eyJUSUQiOiJ0eDEifQ"
	authCode    = "code-123"
	sessionAuth = "signed-in"
)

// Default download payload: two half-hour reads.
const DefaultCSV = "MPRN,Meter Serial Number,Read Value,Read Type,Read Date and End Time\n" +
	MPRN + ",000000000024591111,1.250,Active Import Interval (kWh),01-03-2024 00:30\n" +
	MPRN + ",000000000024591111,0.800,Active Import Interval (kWh),01-03-2024 01:00\n"

// Steps counted by Calls.
const (
	StepBootstrap = "bootstrap"
	StepAuthorize = "authorize"
	StepSubmit    = "submit"
	StepConfirm   = "confirm"
	StepRelay     = "relay"
	StepHome      = "home"
	StepDownload  = "download"
)

// Behaviour switches the portal into one of its failure modes.
type Behaviour struct {
	OmitSettings   bool
	SubmitStatus   int // HTTP status of SelfAsserted, 200 when zero
	RejectConfirm  bool
	OmitRelayField string
	RelayStatus    int // 302 when zero
	NoWelcome      bool
	DownloadStatus int // 200 when zero
	CSV            string
}

// Portal is a running fake portal.
type Portal struct {
	Server *httptest.Server

	mu        sync.Mutex
	behaviour Behaviour
	calls     map[string]int
	verified  bool
}

// New starts a portal that is closed when the test ends.
func New(t testing.TB) *Portal {
	p := &Portal{calls: make(map[string]int)}
	p.behaviour.CSV = DefaultCSV

	mux := http.NewServeMux()
	mux.HandleFunc("/", p.root)
	mux.HandleFunc(LoginPath+"/oauth2/v2.0/authorize", p.authorize)
	mux.HandleFunc(LoginPath+"/SelfAsserted", p.selfAsserted)
	mux.HandleFunc(LoginPath+"/api/CombinedSigninAndSignup/confirmed", p.confirmed)
	mux.HandleFunc("/signin-oidc", p.signinOIDC)
	mux.HandleFunc("/DataHub/DownloadHdf", p.download)

	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Server.Close)
	return p
}

// Options points an authenticator at the portal.
func (p *Portal) Options() auth.Options {
	return auth.Options{
		PortalURL: p.Server.URL,
		LoginURL:  p.Server.URL + LoginPath,
		Policy:    Policy,
		Transport: p.Server.Client().Transport,
	}
}

// Credentials returns the account the portal accepts.
func (p *Portal) Credentials() models.Credentials {
	return models.Credentials{Username: Username, Password: Password, MPRN: MPRN}
}

// Update changes the portal behaviour.
func (p *Portal) Update(fn func(b *Behaviour)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.behaviour)
}

// Calls returns how many requests reached step.
func (p *Portal) Calls(step string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[step]
}

// TotalCalls returns the number of requests served.
func (p *Portal) TotalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, n := range p.calls {
		total += n
	}
	return total
}

func (p *Portal) record(step string) Behaviour {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[step]++
	return p.behaviour
}

func signedIn(r *http.Request) bool {
	c, err := r.Cookie(".AspNetCore.Cookies")
	return err == nil && c.Value == sessionAuth
}

func (p *Portal) root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if !signedIn(r) {
		p.record(StepBootstrap)
		http.Redirect(w, r, LoginPath+"/oauth2/v2.0/authorize?p="+Policy, http.StatusFound)
		return
	}

	b := p.record(StepHome)
	heading := "Welcome, Jane Doe"
	if b.NoWelcome {
		heading = "Sign in to your account"
	}
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, `<!DOCTYPE html><html><head><title>Customer Portal</title></head>
<body><h1 class="esb-title-h1">%s</h1></body></html>`, heading)
}

func (p *Portal) authorize(w http.ResponseWriter, r *http.Request) {
	b := p.record(StepAuthorize)
	p.mu.Lock()
	p.verified = false
	p.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: "x-ms-cpim-csrf", Value: CSRFToken, Path: "/"})
	http.SetCookie(w, &http.Cookie{Name: "x-ms-cpim-trans", Value: "trans-cookie", Path: "/"})

	settings := fmt.Sprintf(`var SETTINGS = {"remoteResource":"x","csrf":%q,"transId":%q,"pageViewId":"p1"};`, CSRFToken, transID)
	if b.OmitSettings {
		settings = `var CONTENT = {};`
	}
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, `<!DOCTYPE html><html><head><title>Sign in</title>
<script>%s</script></head><body></body></html>`, settings)
}

func (p *Portal) selfAsserted(w http.ResponseWriter, r *http.Request) {
	b := p.record(StepSubmit)
	if b.SubmitStatus != 0 && b.SubmitStatus != http.StatusOK {
		w.WriteHeader(b.SubmitStatus)
		return
	}

	csrfCookie, err := r.Cookie("x-ms-cpim-csrf")
	q := r.URL.Query()
	switch {
	case r.Method != http.MethodPost,
		err != nil || csrfCookie.Value != CSRFToken,
		r.Header.Get("x-csrf-token") != CSRFToken,
		q.Get("tx") != transID,
		q.Get("p") != Policy,
		r.FormValue("request_type") != "RESPONSE":
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if r.FormValue("signInName") != Username || r.FormValue("password") != Password {
		fmt.Fprint(w, `{"status":"400","message":"We can't seem to find your account."}`)
		return
	}

	p.mu.Lock()
	p.verified = true
	p.mu.Unlock()
	fmt.Fprint(w, `{"status":"200"}`)
}

func (p *Portal) confirmed(w http.ResponseWriter, r *http.Request) {
	b := p.record(StepConfirm)
	p.mu.Lock()
	verified := p.verified
	p.mu.Unlock()

	q := r.URL.Query()
	ok := verified && !b.RejectConfirm &&
		q.Get("rememberMe") == "false" &&
		q.Get("csrf_token") == CSRFToken &&
		q.Get("tx") == transID
	w.Header().Set("Content-Type", "text/html")
	if !ok {
		fmt.Fprint(w, `<!DOCTYPE html><html><head><title>Loading...</title></head><body>
<h1>Too many sign-in attempts</h1>
<div id="no_cookie">Cookies are disabled</div></body></html>`)
		return
	}

	var inputs strings.Builder
	for _, f := range [][2]string{{"state", "state-xyz"}, {"client_info", "info-xyz"}, {"code", authCode}} {
		if f[0] == b.OmitRelayField {
			continue
		}
		fmt.Fprintf(&inputs, `<input type="hidden" name="%s" value="%s" />`+"\n", f[0], html.EscapeString(f[1]))
	}
	fmt.Fprintf(w, `<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Strict//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-strict.dtd">
<html><head><title>Working...</title></head><body>
<form method="POST" name="hiddenform" id="auto" action="/signin-oidc">
%s</form></body></html>`, inputs.String())
}

func (p *Portal) signinOIDC(w http.ResponseWriter, r *http.Request) {
	b := p.record(StepRelay)
	if r.Method != http.MethodPost || r.FormValue("code") != authCode ||
		r.FormValue("state") == "" || r.FormValue("client_info") == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if b.RelayStatus != 0 && b.RelayStatus != http.StatusFound {
		w.WriteHeader(b.RelayStatus)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "ARRAffinity", Value: "aff", Path: "/"})
	http.SetCookie(w, &http.Cookie{Name: "ARRAffinitySameSite", Value: "aff", Path: "/"})
	http.SetCookie(w, &http.Cookie{Name: ".AspNetCore.Cookies", Value: sessionAuth, Path: "/"})
	http.Redirect(w, r, "/", http.StatusFound)
}

func (p *Portal) download(w http.ResponseWriter, r *http.Request) {
	b := p.record(StepDownload)
	if !signedIn(r) {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	if b.DownloadStatus != 0 && b.DownloadStatus != http.StatusOK {
		w.WriteHeader(b.DownloadStatus)
		return
	}
	if r.URL.Query().Get("mprn") != MPRN {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	fmt.Fprint(w, b.CSV)
}

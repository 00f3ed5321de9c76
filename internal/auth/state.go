package auth

import "errors"

// State carries what one sign-in attempt has learned so far. Steps never
// modify a State in place; each returns a new value for the next step.
type State struct {
	CSRFToken     string
	TransactionID string

	// Filled by the confirmation step from form #auto.
	RelayURL   string
	StateParam string
	ClientInfo string
	AuthCode   string

	// Names of the cookies captured so far, for diagnostics.
	Cookies []string
}

var (
	errNoSettings = errors.New("csrf token or transaction id missing")
	errNoRelay    = errors.New("relay url, state, client_info or code missing")
)

func (s State) withSettings(csrf, transID string) State {
	s.CSRFToken = csrf
	s.TransactionID = transID
	return s
}

func (s State) withRelay(relayURL, state, clientInfo, code string) State {
	s.RelayURL = relayURL
	s.StateParam = state
	s.ClientInfo = clientInfo
	s.AuthCode = code
	return s
}

func (s State) withCookies(names ...string) State {
	merged := make([]string, 0, len(s.Cookies)+len(names))
	merged = append(merged, s.Cookies...)
	for _, n := range names {
		if !contains(merged, n) {
			merged = append(merged, n)
		}
	}
	s.Cookies = merged
	return s
}

// requireSettings guards the steps that need the bootstrap values.
func (s State) requireSettings() error {
	if s.CSRFToken == "" || s.TransactionID == "" {
		return errNoSettings
	}
	return nil
}

func (s State) requireRelay() error {
	if s.RelayURL == "" || s.StateParam == "" || s.ClientInfo == "" || s.AuthCode == "" {
		return errNoRelay
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

package auth

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// maxBodySize bounds every page and download read during a session.
const maxBodySize = 16 << 20

// Session is an authenticated, cookie-bearing HTTP client. The caller owns it
// and must Close it once the download is done.
type Session struct {
	client     *http.Client
	noRedirect *http.Client
	jar        http.CookieJar
	userAgent  string
}

func newSession(opts Options) (*Session, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   opts.ConnectTimeout,
			ResponseHeaderTimeout: opts.ReadTimeout,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          4,
			IdleConnTimeout:       30 * time.Second,
		}
	}

	timeout := opts.ConnectTimeout + opts.ReadTimeout
	client := &http.Client{Transport: transport, Jar: jar, Timeout: timeout}
	noRedirect := &http.Client{
		Transport: transport,
		Jar:       jar,
		Timeout:   timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &Session{
		client:     client,
		noRedirect: noRedirect,
		jar:        jar,
		userAgent:  opts.UserAgent,
	}, nil
}

// Do sends req with the session cookies, following redirects. Transport
// errors name the request URL without its query.
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	resp, err := s.client.Do(s.prepare(req))
	return resp, redact(err)
}

func (s *Session) doNoRedirect(req *http.Request) (*http.Response, error) {
	resp, err := s.noRedirect.Do(s.prepare(req))
	return resp, redact(err)
}

// redact strips the query, which may carry the CSRF token, from the URL of
// a transport error.
func redact(err error) error {
	var urlErr *url.Error
	if err == nil || !errors.As(err, &urlErr) {
		return err
	}
	return &url.Error{Op: urlErr.Op, URL: stripQuery(urlErr.URL), Err: urlErr.Err}
}

func stripQuery(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String()
}

func (s *Session) prepare(req *http.Request) *http.Request {
	if req.Header.Get("User-Agent") == "" && s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	return req
}

// Close releases the connections held by the session.
func (s *Session) Close() {
	s.client.CloseIdleConnections()
}

// cookieNames lists the jar cookies sent to rawURL whose names start with
// one of the prefixes.
func (s *Session) cookieNames(rawURL string, prefixes ...string) []string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	var names []string
	for _, c := range s.jar.Cookies(u) {
		for _, p := range prefixes {
			if strings.HasPrefix(c.Name, p) {
				names = append(names, c.Name)
				break
			}
		}
	}
	return names
}

func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
}

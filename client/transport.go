package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/sync/singleflight"
)

// BearerTransport wraps an http.RoundTripper to send a fixed bearer token.
// The client uses it for the refresh call, where the refresh token is the bearer.
type BearerTransport struct {
	Base  http.RoundTripper
	Token string
}

// RoundTrip implements http.RoundTripper
func (t *BearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Token != "" {
		// Clone the request to avoid mutating the original
		req2 := req.Clone(req.Context())
		req2.Header.Set("Authorization", "Bearer "+t.Token)
		req = req2
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	return base.RoundTrip(req)
}

type retriedKey struct{}

// omitCookiesKey marks requests sent without credentials
type omitCookiesKey struct{}

// isRetried reports whether req, or any request of the redirect chain that led
// to it, is a retry. http.Client builds redirected requests from the caller's
// context, so the marker is looked up along req.Response.
func isRetried(req *http.Request) bool {
	for r := req; r != nil; {
		if retried, _ := r.Context().Value(retriedKey{}).(bool); retried {
			return true
		}
		if r.Response == nil {
			return false
		}
		r = r.Response.Request
	}
	return false
}

// sentAuth records the access token a request went out with
type sentAuth struct {
	token     string
	fromStore bool
	// client refresh count when the token was read from the store
	generation uint64
}

// authTransport decorates outgoing requests with the bearer and CSRF tokens and
// recovers from 401/403 responses by refreshing the access token once.
// A new authTransport is built whenever the client's base URL changes.
type authTransport struct {
	client  *Client
	base    http.RoundTripper
	baseURL string
	csrf    *singleflight.Group
}

// RoundTrip implements http.RoundTripper
func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req, err := replayable(req)
	if err != nil {
		return nil, err
	}

	sent := t.decorate(req)

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if !isAuthStatus(resp.StatusCode) || isRetried(req) || t.skipRecovery(req.URL) {
		return resp, nil
	}

	return t.recoverAuth(req, resp, sent)
}

// decorate attaches the bearer token and, for unsafe methods, the CSRF token.
// It returns the access token the request is sent with.
func (t *authTransport) decorate(req *http.Request) sentAuth {
	c := t.client

	sent := sentAuth{
		token:      strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer "),
		generation: c.refreshes.Load(),
	}
	if sent.token == "" {
		if token := c.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
			sent.token = token
			sent.fromStore = true
		}
	}

	if isUnsafeMethod(req.Method) && !t.matches(req.URL, c.csrfEndpoint) &&
		!t.matches(req.URL, c.refreshEndpoint) && req.Header.Get(c.csrfHeaderName) == "" {
		token := credentialValue(c.store, c.csrfHeaderName)
		if token == "" {
			if csrf := t.fetchCSRFTokenOnce(req.Context()); csrf != nil {
				token = csrf.Token
				t.addJarCookies(req)
			}
		}
		if token != "" {
			req.Header.Set(c.csrfHeaderName, token)
		}
	}

	return sent
}

// addJarCookies copies jar cookies the request was built without. The CSRF
// endpoint may set the session cookie after http.Client attached cookies.
func (t *authTransport) addJarCookies(req *http.Request) {
	jar := t.client.jar
	if jar == nil || req.Context().Value(omitCookiesKey{}) != nil {
		return
	}
	have := make(map[string]bool)
	for _, ck := range req.Cookies() {
		have[ck.Name] = true
	}
	for _, ck := range jar.Cookies(req.URL) {
		if !have[ck.Name] {
			req.AddCookie(ck)
		}
	}
}

// recoverAuth handles a 401/403 on a first attempt. When the request carried the
// stored token and a refresh has completed since it was read, the retry first
// uses the newer stored token; if that is rejected too, or in every other case,
// the token is refreshed and the request retried.
func (t *authTransport) recoverAuth(req *http.Request, resp *http.Response, sent sentAuth) (*http.Response, error) {
	ctx := req.Context()
	c := t.client

	if current := c.AccessToken(); sent.fromStore && current != "" && current != sent.token &&
		c.refreshes.Load() != sent.generation {
		retryResp, err := t.retry(req, resp, current)
		if err != nil || !isAuthStatus(retryResp.StatusCode) {
			return retryResp, err
		}
		resp = retryResp
	}

	token, ok := c.RefreshAccessToken(ctx)
	if !ok {
		if err := ctx.Err(); err != nil {
			resp.Body.Close()
			return nil, err
		}
		c.logger.Info("token refresh failed, expiring session", "url", req.URL.Path, "status", resp.StatusCode)
		c.ExpireSession()
		return resp, nil
	}
	return t.retry(req, resp, token)
}

// retry re-sends req once with token, marked so it never recovers again
func (t *authTransport) retry(req *http.Request, resp *http.Response, token string) (*http.Response, error) {
	retry := req.Clone(context.WithValue(req.Context(), retriedKey{}, true))
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		retry.Body = body
	}
	retry.Header.Set("Authorization", "Bearer "+token)

	drain(resp)
	t.client.logger.Debug("retrying request with refreshed token", "method", req.Method, "url", req.URL.Path)
	retryResp, err := t.base.RoundTrip(retry)
	if err != nil {
		return nil, err
	}
	// Redirects that follow this response find the retry marker through it
	retryResp.Request = retry
	return retryResp, nil
}

// skipRecovery reports whether a 401/403 from u must be returned as-is. The refresh
// endpoint never recovers, and a failed login is a bad password rather than an
// expired session.
func (t *authTransport) skipRecovery(u *url.URL) bool {
	c := t.client
	return t.matches(u, c.refreshEndpoint) || t.matches(u, c.loginEndpoint)
}

// matches reports whether u targets the given endpoint
func (t *authTransport) matches(u *url.URL, endpoint string) bool {
	target, err := url.Parse(resolveURL(t.baseURL, endpoint))
	if err != nil {
		return false
	}
	if target.Host != "" && u.Host != "" && !strings.EqualFold(target.Host, u.Host) {
		return false
	}
	return strings.TrimSuffix(u.Path, "/") == strings.TrimSuffix(target.Path, "/")
}

func isUnsafeMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// replayable clones req and makes sure its body can be sent a second time
func replayable(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return clone, nil
	}

	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}
	clone.Body = io.NopCloser(bytes.NewReader(data))
	clone.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return clone, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

package client

import (
	"context"
	"io"
	"net/http"
)

const csrfFlightKey = "csrf"

// CSRFToken is a CSRF token and the header it must be sent in
type CSRFToken struct {
	Token      string
	HeaderName string
}

// FetchCSRFTokenOnce returns the stored CSRF token, or fetches one from the CSRF
// endpoint. Concurrent callers share a single fetch. It returns nil when no token
// could be obtained.
func (c *Client) FetchCSRFTokenOnce(ctx context.Context) *CSRFToken {
	return c.currentTransport().fetchCSRFTokenOnce(ctx)
}

func (t *authTransport) fetchCSRFTokenOnce(ctx context.Context) *CSRFToken {
	c := t.client
	if token := credentialValue(c.store, c.csrfHeaderName); token != "" {
		return &CSRFToken{Token: token, HeaderName: c.csrfHeaderName}
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := t.csrf.DoChan(csrfFlightKey, func() (any, error) {
		return t.fetchCSRF(flightCtx), nil
	})

	select {
	case res := <-ch:
		token, _ := res.Val.(*CSRFToken)
		return token
	case <-ctx.Done():
		return nil
	}
}

func (t *authTransport) fetchCSRF(ctx context.Context) *CSRFToken {
	c := t.client

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolveURL(t.baseURL, c.csrfEndpoint), nil)
	if err != nil {
		c.logger.Warn("failed to build CSRF request", "error", err)
		return nil
	}

	resp, err := c.bareClient(t.base).Do(req)
	if err != nil {
		c.logger.Warn("CSRF token request failed", "error", err)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("CSRF token request rejected", "status", resp.StatusCode, "error", err)
		return nil
	}

	obj := decodeObject(body)
	token := firstString(obj, csrfTokenPaths...)
	if token == "" {
		return nil
	}

	headerName := firstString(obj, csrfHeaderPaths...)
	if headerName == "" {
		headerName = c.csrfHeaderName
	}

	if err := c.store.SetCredential(headerName, token, c.credentialOptions(c.csrfDays)); err != nil {
		c.logger.Warn("failed to store CSRF token", "error", err)
	} else if err := c.store.Save(); err != nil {
		c.logger.Warn("failed to save credentials", "error", err)
	}

	return &CSRFToken{Token: token, HeaderName: headerName}
}

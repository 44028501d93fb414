package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
)

const refreshFlightKey = "refresh"

// RefreshAccessToken exchanges the stored refresh token for a new access token.
// Concurrent callers share a single refresh call and all observe its result.
// It returns false when there is no refresh token, the call fails, or ctx is done
// before the shared refresh settles; the shared refresh itself is not cancelled.
func (c *Client) RefreshAccessToken(ctx context.Context) (string, bool) {
	if credentialValue(c.store, CredentialRefreshToken) == "" {
		return "", false
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := c.refreshGroup.DoChan(refreshFlightKey, func() (any, error) {
		return c.refresh(flightCtx), nil
	})

	select {
	case res := <-ch:
		token, _ := res.Val.(string)
		return token, token != ""
	case <-ctx.Done():
		return "", false
	}
}

// refresh performs the refresh call on a bare client so a 401 here cannot
// recurse into another refresh
func (c *Client) refresh(ctx context.Context) string {
	refreshToken := credentialValue(c.store, CredentialRefreshToken)
	if refreshToken == "" {
		return ""
	}

	endpoint := c.URL(c.refreshEndpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader([]byte("{}")))
	if err != nil {
		c.logger.Warn("failed to build refresh request", "error", err)
		return ""
	}
	req.Header.Set("Content-Type", "application/json")

	hc := c.bareClient(&BearerTransport{Base: c.baseTransport, Token: refreshToken})
	resp, err := hc.Do(req)
	if err != nil {
		c.logger.Warn("token refresh request failed", "error", err)
		return ""
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Warn("failed to read refresh response", "error", err)
		return ""
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("token refresh rejected", "status", resp.StatusCode)
		return ""
	}

	obj := decodeObject(body)
	if obj == nil {
		c.logger.Warn("token refresh returned a non-JSON body")
		return ""
	}

	accessToken := firstString(obj, accessTokenPaths...)
	newRefreshToken := firstString(obj, refreshTokenPaths...)

	opts := c.credentialOptions(c.rememberDays)
	if accessToken != "" {
		if err := c.store.SetCredential(CredentialAccessToken, accessToken, opts); err != nil {
			c.logger.Warn("failed to store access token", "error", err)
		}
		c.refreshes.Add(1)
	}
	if newRefreshToken != "" {
		if err := c.store.SetCredential(CredentialRefreshToken, newRefreshToken, opts); err != nil {
			c.logger.Warn("failed to store refresh token", "error", err)
		}
	}
	if err := c.store.Save(); err != nil {
		c.logger.Warn("failed to save credentials", "error", err)
	}

	if accessToken != "" {
		c.logger.Debug("access token refreshed", "rotated", newRefreshToken != "")
	}
	return accessToken
}

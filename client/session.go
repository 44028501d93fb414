package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// AdminProfile is the admin returned by the login and me endpoints
type AdminProfile struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Name        string   `json:"name,omitempty"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Session is the result of a successful login
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	Admin        *AdminProfile
}

// Login authenticates with email and password and stores the returned tokens.
// With remember set the tokens outlive the process for the configured remember
// days; otherwise they are stored as session credentials.
//
// A 401/403 from the login endpoint is returned as a wrong-password error without
// a refresh attempt, so credentials left from an earlier session are not cleared.
func (c *Client) Login(ctx context.Context, email, password string, remember bool) (*Session, error) {
	resp, err := c.Post(ctx, c.loginEndpoint, map[string]any{
		"email":      email,
		"password":   password,
		"rememberMe": remember,
	})
	if err != nil {
		return nil, err
	}

	obj := decodeObject(resp.Body)
	session := &Session{
		AccessToken:  firstString(obj, accessTokenPaths...),
		RefreshToken: firstString(obj, refreshTokenPaths...),
	}
	if session.AccessToken == "" {
		return nil, ErrLoginFailed
	}
	if n, ok := lookupPath(obj, "data.expiresIn").(float64); ok {
		session.ExpiresIn = int(n)
	}
	if admin := lookupPath(obj, "data.admin"); admin != nil {
		if data, err := json.Marshal(admin); err == nil {
			var profile AdminProfile
			if json.Unmarshal(data, &profile) == nil {
				session.Admin = &profile
			}
		}
	}

	days := 0
	if remember {
		days = c.rememberDays
	}
	opts := c.credentialOptions(days)
	if err := c.store.SetCredential(CredentialAccessToken, session.AccessToken, opts); err != nil {
		return nil, err
	}
	if session.RefreshToken != "" {
		if err := c.store.SetCredential(CredentialRefreshToken, session.RefreshToken, opts); err != nil {
			return nil, err
		}
	}
	if err := c.store.Save(); err != nil {
		return nil, err
	}

	c.logger.Info("logged in", "email", email, "remember", remember)
	return session, nil
}

// Logout revokes the refresh token on the server and clears local credentials.
// Local credentials are cleared even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	var err error
	if refreshToken := credentialValue(c.store, CredentialRefreshToken); refreshToken != "" {
		_, err = c.Post(ctx, c.logoutEndpoint, map[string]string{"refreshToken": refreshToken})
	}
	c.clearSession()
	return err
}

// Me fetches the profile of the logged in admin
func (c *Client) Me(ctx context.Context, path string) (*AdminProfile, error) {
	resp, err := c.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(resp.Data())
	if err != nil {
		return nil, err
	}
	var profile AdminProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// TokenSource returns an oauth2.TokenSource backed by the client's credentials.
// Tokens past their JWT expiry are renewed through RefreshAccessToken.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &tokenSource{ctx: ctx, client: c})
}

type tokenSource struct {
	ctx    context.Context
	client *Client
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	if tok := s.client.oauth2Token(s.client.AccessToken()); tok.Valid() {
		return tok, nil
	}
	accessToken, ok := s.client.RefreshAccessToken(s.ctx)
	if !ok {
		return nil, ErrNoRefreshToken
	}
	return s.client.oauth2Token(accessToken), nil
}

func (c *Client) oauth2Token(accessToken string) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		RefreshToken: credentialValue(c.store, CredentialRefreshToken),
		Expiry:       tokenExpiry(accessToken),
	}
}

// tokenExpiry reads the exp claim of a JWT without verifying it. Opaque tokens
// have no known expiry.
func tokenExpiry(accessToken string) time.Time {
	if accessToken == "" {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

package adminauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// APIAuth handles token-based authentication for the admin API
type APIAuth struct {
	// Stores
	AdminStore        AdminStore
	RefreshTokenStore RefreshTokenStore

	// JWT configuration
	JWTSecretKey  string // Secret key for signing JWTs
	JWTIssuer     string // Issuer claim
	JWTAudience   string // Audience claim
	JWTSigningAlg string // HS256 (default), HS384 or HS512

	// Token configuration
	AccessTokenExpiry  time.Duration // Defaults to 15 minutes
	RefreshTokenExpiry time.Duration // Defaults to 7 days
	RememberMeExpiry   time.Duration // Refresh token lifetime with rememberMe; defaults to 365 days

	// Callbacks
	ValidateCredentials CredentialsValidator // Defaults to bcrypt against AdminStore
	GetAdminScopes      GetAdminScopesFunc   // Defaults to the admin's stored scopes
	UpdatePassword      func(adminID, newPassword string) error
	OnLoginSuccess      func(admin *Admin, r *http.Request)
	OnLoginFailure      func(email string, r *http.Request, err error)

	// Rate limiting (optional)
	RateLimiter RateLimiter

	Logger *slog.Logger
}

// EnsureDefaults fills unset fields. The JWT secret falls back to
// ADMINAUTH_JWT_SECRET_KEY.
func (a *APIAuth) EnsureDefaults() *APIAuth {
	if a.JWTSecretKey == "" {
		a.JWTSecretKey = strings.TrimSpace(os.Getenv("ADMINAUTH_JWT_SECRET_KEY"))
		if a.JWTSecretKey == "" {
			a.JWTSecretKey = "MyTestJWTSecretKey123456"
		}
	}
	if a.AccessTokenExpiry == 0 {
		a.AccessTokenExpiry = TokenExpiryAccessToken
	}
	if a.RefreshTokenExpiry == 0 {
		a.RefreshTokenExpiry = TokenExpiryRefreshToken
	}
	if a.RememberMeExpiry == 0 {
		a.RememberMeExpiry = TokenExpiryRememberMe
	}
	if a.ValidateCredentials == nil && a.AdminStore != nil {
		a.ValidateCredentials = NewCredentialsValidator(a.AdminStore)
	}
	if a.UpdatePassword == nil && a.AdminStore != nil {
		a.UpdatePassword = NewUpdatePasswordFunc(a.AdminStore)
	}
	if a.Logger == nil {
		a.Logger = slog.Default()
	}
	return a
}

// Middleware returns an APIMiddleware sharing this APIAuth's JWT configuration
func (a *APIAuth) Middleware() *APIMiddleware {
	a.EnsureDefaults()
	return &APIMiddleware{
		JWTSecretKey: a.JWTSecretKey,
		JWTIssuer:    a.JWTIssuer,
		JWTAudience:  a.JWTAudience,
	}
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

// HandleLogin handles POST /api/admin/auth/login
func (a *APIAuth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	a.EnsureDefaults()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	req.Email = NormalizeEmail(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Email and password are required")
		return
	}

	if a.ValidateCredentials == nil {
		writeError(w, http.StatusInternalServerError, "server_error", "Authentication not configured")
		return
	}

	if a.RateLimiter != nil && !a.RateLimiter.Allow(getClientIP(r)+":"+req.Email) {
		writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many login attempts")
		return
	}

	admin, err := a.ValidateCredentials(req.Email, req.Password)
	if err != nil || admin == nil {
		if a.OnLoginFailure != nil {
			a.OnLoginFailure(req.Email, r, err)
		}
		if err != nil && !errors.Is(err, ErrInvalidCredentials) {
			a.Logger.Error("credential validation failed", "email", req.Email, "error", err)
		}
		writeError(w, http.StatusUnauthorized, "invalid_grant", "Invalid email or password")
		return
	}

	scopes, err := a.adminScopes(admin)
	if err != nil {
		a.Logger.Error("failed to get admin scopes", "admin_id", admin.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to get admin permissions")
		return
	}

	ttl := a.RefreshTokenExpiry
	if req.RememberMe {
		ttl = a.RememberMeExpiry
	}
	deviceInfo := map[string]any{
		"user_agent": r.UserAgent(),
		"ip":         getClientIP(r),
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}

	refreshToken, err := a.RefreshTokenStore.CreateRefreshToken(admin.ID, ttl, deviceInfo, scopes)
	if err != nil {
		a.Logger.Error("failed to create refresh token", "admin_id", admin.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to create session")
		return
	}

	accessToken, expiresIn, err := a.createAccessToken(admin, scopes)
	if err != nil {
		a.Logger.Error("failed to create access token", "admin_id", admin.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to create token")
		return
	}

	if a.AdminStore != nil {
		admin.LastLoginAt = time.Now()
		if err := a.AdminStore.SaveAdmin(admin); err != nil {
			a.Logger.Warn("failed to record last login", "admin_id", admin.ID, "error", err)
		}
	}

	if a.OnLoginSuccess != nil {
		a.OnLoginSuccess(admin, r)
	}
	a.Logger.Info("admin logged in", "admin_id", admin.ID, "remember", req.RememberMe)

	a.tokenResponse(w, accessToken, expiresIn, refreshToken.Token, scopes, admin)
}

// HandleRefresh handles POST /api/admin/auth/refresh-token. The refresh token is
// read from the bearer header, falling back to a JSON body {"refreshToken": ...}.
func (a *APIAuth) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	a.EnsureDefaults()

	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			token = body.RefreshToken
		}
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "invalid_request", "Refresh token required")
		return
	}

	current, err := a.RefreshTokenStore.GetRefreshToken(token)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid_grant", "Invalid refresh token")
		} else {
			a.Logger.Error("failed to load refresh token", "error", err)
			writeError(w, http.StatusInternalServerError, "server_error", "Failed to validate token")
		}
		return
	}

	if current.IsExpired() {
		writeError(w, http.StatusUnauthorized, "invalid_grant", "Refresh token has expired")
		return
	}

	// Rotate refresh token (creates new one, invalidates old)
	next, err := a.RefreshTokenStore.RotateRefreshToken(token)
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenReused):
			// A revoked token was presented again; assume theft and end every session in the family
			if revokeErr := a.RefreshTokenStore.RevokeTokenFamily(current.Family); revokeErr != nil {
				a.Logger.Error("failed to revoke token family", "family", current.Family, "error", revokeErr)
			}
			a.Logger.Warn("refresh token reuse detected", "admin_id", current.AdminID, "family", current.Family)
			writeError(w, http.StatusUnauthorized, "invalid_grant", "Token reuse detected, all sessions revoked")
		case errors.Is(err, ErrTokenExpired):
			writeError(w, http.StatusUnauthorized, "invalid_grant", "Refresh token has expired")
		default:
			a.Logger.Error("failed to rotate refresh token", "error", err)
			writeError(w, http.StatusInternalServerError, "server_error", "Failed to refresh session")
		}
		return
	}

	var admin *Admin
	if a.AdminStore != nil {
		admin, err = a.AdminStore.GetAdminByID(next.AdminID)
		if err != nil || !admin.Active {
			_ = a.RefreshTokenStore.RevokeTokenFamily(next.Family)
			writeError(w, http.StatusUnauthorized, "invalid_grant", "Admin account is no longer active")
			return
		}
	} else {
		admin = &Admin{ID: next.AdminID}
	}

	accessToken, expiresIn, err := a.createAccessToken(admin, next.Scopes)
	if err != nil {
		a.Logger.Error("failed to create access token", "admin_id", admin.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to create token")
		return
	}

	a.tokenResponse(w, accessToken, expiresIn, next.Token, next.Scopes, nil)
}

// HandleLogout handles POST /api/admin/auth/logout, revoking a refresh token
func (a *APIAuth) HandleLogout(w http.ResponseWriter, r *http.Request) {
	a.EnsureDefaults()

	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Refresh token required")
		return
	}

	// Ignore errors - don't reveal if token existed
	if err := a.RefreshTokenStore.RevokeRefreshToken(req.RefreshToken); err != nil {
		a.Logger.Warn("failed to revoke refresh token", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logged out"})
}

// HandleLogoutAll handles POST /api/admin/auth/logout-all. Requires authentication.
func (a *APIAuth) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	a.EnsureDefaults()

	adminID := GetAdminIDFromContext(r.Context())
	if adminID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	if err := a.RefreshTokenStore.RevokeAdminTokens(adminID); err != nil {
		a.Logger.Error("failed to revoke admin tokens", "admin_id", adminID, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to revoke sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "All sessions revoked"})
}

// HandleMe handles GET /api/admin/auth/me. Requires authentication.
func (a *APIAuth) HandleMe(w http.ResponseWriter, r *http.Request) {
	a.EnsureDefaults()

	adminID := GetAdminIDFromContext(r.Context())
	if adminID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	admin, err := a.AdminStore.GetAdminByID(adminID)
	if err != nil {
		if errors.Is(err, ErrAdminNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Admin not found")
		} else {
			a.Logger.Error("failed to load admin", "admin_id", adminID, "error", err)
			writeError(w, http.StatusInternalServerError, "server_error", "Failed to load admin")
		}
		return
	}

	writeData(w, http.StatusOK, admin.Profile())
}

// HandleListSessions handles GET /api/admin/auth/sessions. Requires authentication.
func (a *APIAuth) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	a.EnsureDefaults()

	adminID := GetAdminIDFromContext(r.Context())
	if adminID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	tokens, err := a.RefreshTokenStore.GetAdminTokens(adminID)
	if err != nil {
		a.Logger.Error("failed to list sessions", "admin_id", adminID, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to get sessions")
		return
	}

	type sessionInfo struct {
		ID         string    `json:"id"`
		DeviceInfo any       `json:"deviceInfo,omitempty"`
		CreatedAt  time.Time `json:"createdAt"`
		LastUsedAt time.Time `json:"lastUsedAt"`
		ExpiresAt  time.Time `json:"expiresAt"`
		Scopes     []string  `json:"scopes,omitempty"`
	}

	sessions := make([]sessionInfo, 0, len(tokens))
	for _, t := range tokens {
		sessions = append(sessions, sessionInfo{
			ID:         t.TokenHash[:16], // Use partial hash as ID
			DeviceInfo: t.DeviceInfo,
			CreatedAt:  t.CreatedAt,
			LastUsedAt: t.LastUsedAt,
			ExpiresAt:  t.ExpiresAt,
			Scopes:     t.Scopes,
		})
	}

	writeData(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// HandleChangePassword handles POST /api/admin/auth/change-password. Requires
// authentication; every refresh token of the admin is revoked on success.
func (a *APIAuth) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	a.EnsureDefaults()

	adminID := GetAdminIDFromContext(r.Context())
	if adminID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	admin, err := a.AdminStore.GetAdminByID(adminID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "Admin not found")
		return
	}
	if _, err := a.ValidateCredentials(admin.Email, req.CurrentPassword); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_password", "Current password is incorrect")
		return
	}
	if err := a.UpdatePassword(adminID, req.NewPassword); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_password", err.Error())
		return
	}
	if err := a.RefreshTokenStore.RevokeAdminTokens(adminID); err != nil {
		a.Logger.Warn("failed to revoke sessions after password change", "admin_id", adminID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Password updated"})
}

func (a *APIAuth) adminScopes(admin *Admin) ([]string, error) {
	if a.GetAdminScopes != nil {
		return a.GetAdminScopes(admin)
	}
	if len(admin.Scopes) > 0 {
		return admin.Scopes, nil
	}
	return DefaultAdminScopes(), nil
}

// createAccessToken creates a signed JWT access token
func (a *APIAuth) createAccessToken(admin *Admin, scopes []string) (string, int64, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":    admin.ID,
		"type":   "access",
		"scopes": scopes,
		"iat":    now.Unix(),
		"exp":    now.Add(a.AccessTokenExpiry).Unix(),
	}
	if admin.Email != "" {
		claims["email"] = admin.Email
	}
	if admin.Role != "" {
		claims["role"] = admin.Role
	}
	if a.JWTIssuer != "" {
		claims["iss"] = a.JWTIssuer
	}
	if a.JWTAudience != "" {
		claims["aud"] = a.JWTAudience
	}

	signingMethod := jwt.SigningMethodHS256
	if a.JWTSigningAlg == "HS384" {
		signingMethod = jwt.SigningMethodHS384
	} else if a.JWTSigningAlg == "HS512" {
		signingMethod = jwt.SigningMethodHS512
	}

	tokenString, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(a.JWTSecretKey))
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, int64(a.AccessTokenExpiry.Seconds()), nil
}

// ValidateAccessToken validates a JWT access token and returns the admin ID and scopes
func (a *APIAuth) ValidateAccessToken(tokenString string) (adminID string, scopes []string, err error) {
	a.EnsureDefaults()
	return parseAccessToken(tokenString, a.JWTSecretKey, a.JWTIssuer, a.JWTAudience)
}

// VerifyTokenFunc adapts ValidateAccessToken to the shape the grpc interceptors take
func (a *APIAuth) VerifyTokenFunc() func(tokenString string) (adminID string, scopes []string, err error) {
	return a.ValidateAccessToken
}

// parseAccessToken verifies signature, type, issuer and audience of an access token
func parseAccessToken(tokenString, secret, issuer, audience string) (string, []string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return "", nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return "", nil, fmt.Errorf("token validation failed")
	}

	if tokenType, ok := claims["type"].(string); !ok || tokenType != "access" {
		return "", nil, fmt.Errorf("invalid token type")
	}

	adminID, ok := claims["sub"].(string)
	if !ok || adminID == "" {
		return "", nil, fmt.Errorf("missing subject")
	}

	var scopes []string
	if scopesRaw, ok := claims["scopes"].([]any); ok {
		scopes = make([]string, 0, len(scopesRaw))
		for _, s := range scopesRaw {
			if str, ok := s.(string); ok {
				scopes = append(scopes, str)
			}
		}
	}

	return adminID, scopes, nil
}

// tokenResponse sends a successful token response in the standard envelope
func (a *APIAuth) tokenResponse(w http.ResponseWriter, accessToken string, expiresIn int64, refreshToken string, scopes []string, admin *Admin) {
	data := struct {
		TokenPair
		Admin map[string]any `json:"admin,omitempty"`
	}{
		TokenPair: TokenPair{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			TokenType:    "Bearer",
			ExpiresIn:    expiresIn,
			Scope:        JoinScopes(scopes),
		},
	}
	if admin != nil {
		data.Admin = admin.Profile()
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeData(w, http.StatusOK, data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeData sends {"success": true, "data": data}
func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"success": true, "data": data})
}

// writeError sends {"success": false, "error": code, "message": message}
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   code,
		"message": message,
	})
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to RemoteAddr
	ip := r.RemoteAddr
	if colonIdx := strings.LastIndex(ip, ":"); colonIdx != -1 {
		ip = ip[:colonIdx]
	}
	return ip
}

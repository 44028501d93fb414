// Package adminauth provides token authentication for an admin dashboard API,
// together with a client (package client) that keeps a dashboard session alive.
//
// # Server
//
// The server side issues short-lived JWT access tokens and long-lived rotating
// refresh tokens. Refresh tokens are stored hashed and grouped into families; a
// revoked token presented again revokes its whole family.
//
//	adminStore := memory.NewAdminStore()
//	tokenStore := memory.NewRefreshTokenStore()
//
//	auth := &adminauth.APIAuth{
//	    AdminStore:        adminStore,
//	    RefreshTokenStore: tokenStore,
//	    JWTSecretKey:      os.Getenv("ADMINAUTH_JWT_SECRET_KEY"),
//	    RateLimiter:       adminauth.NewKeyedRateLimiter(time.Minute, 5),
//	}
//
//	router := adminauth.NewRouter(adminauth.RouterConfig{Auth: auth})
//	router.API().HandleFunc("/stats", statsHandler)
//	http.ListenAndServe(":5000", router.Handler())
//
// Routes on router.API() require a valid access token. Unsafe requests
// everywhere except the refresh endpoint must echo the CSRF token issued by
// GET /api/auth/csrf in the X-XSRF-TOKEN header.
//
// # Responses
//
// Every endpoint answers with a JSON envelope:
//
//	{"success": true, "data": {...}}
//	{"success": false, "error": "invalid_grant", "message": "Invalid email or password"}
//
// # Stores
//
// AdminStore and RefreshTokenStore have memory, filesystem, GORM and Cloud
// Datastore implementations under stores/.
package adminauth

package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	oa "github.com/panyam/adminauth"
)

// notes is a small in-process resource so clients have protected routes to call
type notes struct {
	mu    sync.Mutex
	items []map[string]any
}

func registerDashboardRoutes(router *oa.Router) {
	n := &notes{}
	started := time.Now()
	mw := router.Middleware

	api := router.API()
	api.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		n.mu.Lock()
		count := len(n.items)
		n.mu.Unlock()
		writeData(w, http.StatusOK, map[string]any{
			"uptimeSeconds": int(time.Since(started).Seconds()),
			"notes":         count,
			"adminId":       oa.GetAdminIDFromContext(r.Context()),
		})
	}).Methods(http.MethodGet)

	api.Handle("/notes", mw.RequireScopes(oa.ScopeRead)(http.HandlerFunc(n.list))).Methods(http.MethodGet)
	api.Handle("/notes", mw.RequireScopes(oa.ScopeWrite)(http.HandlerFunc(n.create))).Methods(http.MethodPost)
}

func (n *notes) list(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()
	items := append([]map[string]any{}, n.items...)
	writeData(w, http.StatusOK, map[string]any{"notes": items})
}

func (n *notes) create(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid_request", "message": "Invalid JSON body"})
		return
	}
	body["author"] = oa.GetAdminIDFromContext(r.Context())
	body["createdAt"] = time.Now().UTC()

	n.mu.Lock()
	n.items = append(n.items, body)
	n.mu.Unlock()
	writeData(w, http.StatusCreated, body)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"success": true, "data": data})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

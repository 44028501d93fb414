package client

import (
	"encoding/json"
	"strings"
)

// Field paths tried, in order, when reading server responses. Servers answer
// either flat ({"accessToken": ...}) or wrapped in an envelope ({"data": {...}}).
var (
	accessTokenPaths  = []string{"accessToken", "data.accessToken"}
	refreshTokenPaths = []string{"refreshToken", "data.refreshToken"}
	csrfTokenPaths    = []string{"token", "data.token", "_csrf", "data._csrf"}
	csrfHeaderPaths   = []string{"headerName"}
)

// decodeBody decodes a JSON body, returning the raw text when it is not JSON
// and nil when it is empty
func decodeBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return string(body)
	}
	return data
}

// decodeObject decodes a JSON object body, returning nil for anything else
func decodeObject(body []byte) map[string]any {
	obj, _ := decodeBody(body).(map[string]any)
	return obj
}

// firstString returns the first non-empty string found at the given dotted paths
func firstString(obj map[string]any, paths ...string) string {
	for _, path := range paths {
		if s, ok := lookupPath(obj, path).(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func lookupPath(obj map[string]any, path string) any {
	var current any = obj
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

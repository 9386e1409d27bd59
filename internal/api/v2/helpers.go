// Package api implements the v2 HTTP API.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// decodeRequest decodes a JSON request body into v.
func decodeRequest(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to decode request body: %w", err)
	}
	return nil
}

// respondJSON writes v as a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, code int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

// errorResponse is the wire form of an API error.
type errorResponse struct {
	Error string `json:"error"`
}

// respondError writes a JSON error response.
func respondError(w http.ResponseWriter, code int, msg string) {
	// Encoding a flat struct cannot fail; ignore the error.
	_ = respondJSON(w, code, errorResponse{Error: msg})
}

// parseResourcePath parses a URL path with the format
// "/api/v2/{apiPath}/{resourceID}[/{action}]" and returns the numeric
// resource ID and the optional trailing action.
func parseResourcePath(url, apiPath string) (uint, string, error) {
	url = strings.TrimPrefix(url, fmt.Sprintf("/api/v2/%s", apiPath))

	var parts []string
	for _, v := range strings.Split(url, "/") {
		if v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 || len(parts) > 2 {
		return 0, "", fmt.Errorf("invalid URL path")
	}

	id, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, "", fmt.Errorf("invalid resource ID %q", parts[0])
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}
	return uint(id), action, nil
}

// actorEmail returns the requesting user's identity. Authentication is
// handled upstream by the deployment's proxy, which sets this header.
func actorEmail(r *http.Request) string {
	if email := r.Header.Get("X-Docgate-User"); email != "" {
		return email
	}
	return "anonymous"
}

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// PageParams holds parsed page/size pagination parameters.
type PageParams struct {
	Page int
	Size int
}

// Offset returns the start index of the page window.
func (p PageParams) Offset() int { return (p.Page - 1) * p.Size }

// ParsePageParams extracts page and size with defaults page=1, size=10.
// page must be >= 1 and size in [1, 100].
func ParsePageParams(r *http.Request) (PageParams, error) {
	p := PageParams{Page: 1, Size: 10}
	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("invalid page %q: must be an integer", v)
		}
		if n < 1 {
			return p, fmt.Errorf("invalid page %d: must be >= 1", n)
		}
		p.Page = n
	}
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("invalid size %q: must be an integer", v)
		}
		if n < 1 || n > 100 {
			return p, fmt.Errorf("invalid size %d: must be between 1 and 100", n)
		}
		p.Size = n
	}
	return p, nil
}

// ParseSortOrder extracts sort_order, defaulting to ascending.
// Returns true for descending.
func ParseSortOrder(r *http.Request) (bool, error) {
	switch v := r.URL.Query().Get("sort_order"); v {
	case "", "asc":
		return false, nil
	case "desc":
		return true, nil
	default:
		return false, fmt.Errorf("invalid sort_order %q: must be asc or desc", v)
	}
}

// FormBool parses a boolean form field, treating absence as false.
func FormBool(r *http.Request, name string) (bool, error) {
	v := r.FormValue(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: must be a boolean", name, v)
	}
	return b, nil
}

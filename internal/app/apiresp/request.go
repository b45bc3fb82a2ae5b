package apiresp

import (
	"encoding/json"
	"net/http"
	"strconv"

	"cbtexam/internal/app/validate"

	"github.com/go-chi/chi/v5"
)

// PathID parses a positive integer route parameter, answering 400 when it
// is missing or malformed.
func PathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		WriteError(w, r, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

// Decode reads a JSON body into dst and runs its validate tags. On failure
// the response has been written.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return false
	}
	if errs := validate.Struct(dst); len(errs) > 0 {
		WriteValidation(w, r, errs)
		return false
	}
	return true
}

// QueryInt returns the named query value, or fallback when absent or not a
// number.
func QueryInt(r *http.Request, name string, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return fallback
	}
	return n
}

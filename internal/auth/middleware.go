// Package auth carries the caller identity resolved by the upstream account
// provider and enforces role checks on routes.
package auth

import (
	"context"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"cbtexam/internal/app/apiresp"
)

type userKey struct{}

const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

type User struct {
	ID   int64  `json:"id"`
	Role string `json:"role"`
}

func (u *User) IsStaff() bool {
	return u != nil && (u.Role == RoleAdmin || u.Role == RoleTeacher)
}

var knownRoles = []string{RoleAdmin, RoleTeacher, RoleStudent}

// UserFromHeaders reads the identity forwarded by the gateway.
func UserFromHeaders(h http.Header) (*User, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(h.Get(HeaderUserID)), 10, 64)
	if err != nil || id <= 0 {
		return nil, false
	}
	role := strings.ToLower(strings.TrimSpace(h.Get(HeaderUserRole)))
	if !slices.Contains(knownRoles, role) {
		return nil, false
	}
	return &User{ID: id, Role: role}, true
}

// RequireAuth rejects requests without a resolvable identity. A user already
// present in the context is kept.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CurrentUser(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		user, ok := UserFromHeaders(r.Header)
		if !ok {
			apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

// RequireRoles must run after RequireAuth.
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := CurrentUser(r.Context())
			switch {
			case !ok:
				apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
			case !slices.Contains(roles, user.Role):
				apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func CurrentUser(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(userKey{}).(*User)
	return u, ok && u != nil
}

func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

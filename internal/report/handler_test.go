package report

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"cbtexam/internal/auth"

	"github.com/go-chi/chi/v5"
)

func doRequest(h http.HandlerFunc, target string, user *auth.User, id string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	if user != nil {
		ctx = auth.ContextWithUser(ctx, user)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req.WithContext(ctx))
	return rr
}

func TestExportHandler(t *testing.T) {
	exams := examByID(5)
	h := NewHandler(NewService(exams, sampleAttempts()), exams)

	tests := []struct {
		name string
		user *auth.User
		want int
	}{
		{name: "author", user: &auth.User{ID: 5, Role: auth.RoleTeacher}, want: http.StatusOK},
		{name: "admin", user: &auth.User{ID: 1, Role: auth.RoleAdmin}, want: http.StatusOK},
		{name: "other teacher", user: &auth.User{ID: 6, Role: auth.RoleTeacher}, want: http.StatusForbidden},
		{name: "anonymous", want: http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := doRequest(h.Export, "/exams/3/attempts/export", tc.user, "3")
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
			if tc.want != http.StatusOK {
				return
			}
			if ct := rr.Header().Get("Content-Type"); ct != xlsxContentType {
				t.Fatalf("content type = %q", ct)
			}
			if cd := rr.Header().Get("Content-Disposition"); cd != `attachment; filename="exam-3-attempts.xlsx"` {
				t.Fatalf("content disposition = %q", cd)
			}
			if rr.Body.Len() == 0 {
				t.Fatalf("empty workbook")
			}
		})
	}
}

func TestSummaryHandlerBadID(t *testing.T) {
	exams := examByID(5)
	h := NewHandler(NewService(exams, sampleAttempts()), exams)
	rr := doRequest(h.Summary, "/exams/x/report", &auth.User{ID: 5, Role: auth.RoleTeacher}, "x")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"cbtexam/internal/auth"
	"cbtexam/internal/db/dbtest"
)

func newTestRouter(t *testing.T, limit int) http.Handler {
	t.Helper()
	d := dbtest.Open(t)
	cfg := Config{DefaultExamMinutes: 45, RateLimitPerMin: limit}
	return NewRouter(cfg, d, nil, NewIPRateLimiter(limit, time.Minute))
}

func call(router http.Handler, method, target, body string, userID int64, role string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if userID > 0 {
		req.Header.Set(auth.HeaderUserID, strconv.FormatInt(userID, 10))
		req.Header.Set(auth.HeaderUserRole, role)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestRouterPublicAndGuardedRoutes(t *testing.T) {
	router := newTestRouter(t, 1000)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		user   int64
		role   string
		want   int
	}{
		{name: "healthz", method: http.MethodGet, target: "/healthz", want: http.StatusOK},
		{name: "metrics", method: http.MethodGet, target: "/metrics", want: http.StatusOK},
		{name: "anonymous api", method: http.MethodGet, target: "/api/v1/exams", want: http.StatusUnauthorized},
		{name: "bad role header", method: http.MethodGet, target: "/api/v1/exams", user: 3, role: "guest", want: http.StatusUnauthorized},
		{name: "student cannot author", method: http.MethodPost, target: "/api/v1/exams", body: `{"title":"x"}`, user: 3, role: auth.RoleStudent, want: http.StatusForbidden},
		{name: "student cannot list matrices", method: http.MethodGet, target: "/api/v1/exam-matrices", user: 3, role: auth.RoleStudent, want: http.StatusForbidden},
		{name: "teacher lists matrices", method: http.MethodGet, target: "/api/v1/exam-matrices", user: 5, role: auth.RoleTeacher, want: http.StatusOK},
		{name: "unknown exam", method: http.MethodGet, target: "/api/v1/exams/999", user: 5, role: auth.RoleTeacher, want: http.StatusNotFound},
		{name: "no attempt yet", method: http.MethodGet, target: "/api/v1/exams/999/attempts/my-latest", user: 3, role: auth.RoleStudent, want: http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := call(router, tc.method, tc.target, tc.body, tc.user, tc.role)
			if rr.Code != tc.want {
				t.Fatalf("%s %s: got %d, want %d: %s", tc.method, tc.target, rr.Code, tc.want, rr.Body.String())
			}
		})
	}
}

func TestRouterExamLifecycle(t *testing.T) {
	router := newTestRouter(t, 1000)

	rr := call(router, http.MethodPost, "/api/v1/exams", `{"title":"Quiz","passThreshold":50}`, 5, auth.RoleTeacher)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create exam: %d %s", rr.Code, rr.Body.String())
	}
	var created struct {
		Data struct {
			ID              int64 `json:"id"`
			DurationMinutes int   `json:"durationMinutes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Data.DurationMinutes != 45 {
		t.Fatalf("default duration not applied: %d", created.Data.DurationMinutes)
	}
	examPath := "/api/v1/exams/" + strconv.FormatInt(created.Data.ID, 10)

	rr = call(router, http.MethodGet, examPath+"/access", "", 3, auth.RoleStudent)
	if rr.Code != http.StatusOK || !bytes.Contains(rr.Body.Bytes(), []byte("EXAM_NOT_ACTIVE")) {
		t.Fatalf("draft access: %d %s", rr.Code, rr.Body.String())
	}
	rr = call(router, http.MethodPost, examPath+"/attempts/start", "", 3, auth.RoleStudent)
	if rr.Code != http.StatusBadRequest || !bytes.Contains(rr.Body.Bytes(), []byte("CANNOT_START_ATTEMPT")) {
		t.Fatalf("draft start: %d %s", rr.Code, rr.Body.String())
	}

	if rr = call(router, http.MethodPatch, examPath+"/status", `{"status":"Active"}`, 5, auth.RoleTeacher); rr.Code != http.StatusOK {
		t.Fatalf("activate: %d %s", rr.Code, rr.Body.String())
	}
	if rr = call(router, http.MethodPatch, examPath+"/status", `{"status":"Closed"}`, 6, auth.RoleTeacher); rr.Code != http.StatusForbidden {
		t.Fatalf("foreign teacher should be refused, got %d", rr.Code)
	}

	rr = call(router, http.MethodPost, examPath+"/attempts/start", "", 3, auth.RoleStudent)
	if rr.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rr.Code, rr.Body.String())
	}
	var started struct {
		Data struct {
			AttemptID int64 `json:"attemptId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode: %v", err)
	}
	attemptPath := examPath + "/attempts/" + strconv.FormatInt(started.Data.AttemptID, 10)

	if rr = call(router, http.MethodPost, attemptPath+"/submit", "", 4, auth.RoleStudent); rr.Code != http.StatusForbidden {
		t.Fatalf("other student submit: %d", rr.Code)
	}
	if rr = call(router, http.MethodPost, attemptPath+"/submit", "", 3, auth.RoleStudent); rr.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", rr.Code, rr.Body.String())
	}
	if rr = call(router, http.MethodPost, attemptPath+"/submit", "", 3, auth.RoleStudent); rr.Code != http.StatusBadRequest {
		t.Fatalf("resubmit: %d %s", rr.Code, rr.Body.String())
	}

	rr = call(router, http.MethodGet, examPath+"/attempts/export", "", 5, auth.RoleTeacher)
	if rr.Code != http.StatusOK || rr.Body.Len() == 0 {
		t.Fatalf("export: %d", rr.Code)
	}
	if rr = call(router, http.MethodGet, examPath+"/attempts/export", "", 3, auth.RoleStudent); rr.Code != http.StatusForbidden {
		t.Fatalf("student export: %d", rr.Code)
	}
}

func TestRouterRateLimit(t *testing.T) {
	router := newTestRouter(t, 2)
	for i := 0; i < 2; i++ {
		if rr := call(router, http.MethodGet, "/api/v1/exams", "", 5, auth.RoleTeacher); rr.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i, rr.Code)
		}
	}
	if rr := call(router, http.MethodGet, "/api/v1/exams", "", 5, auth.RoleTeacher); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr := call(router, http.MethodGet, "/healthz", "", 0, ""); rr.Code != http.StatusOK {
		t.Fatalf("healthz should bypass the api limiter, got %d", rr.Code)
	}
}

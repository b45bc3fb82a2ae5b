package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"cbtexam/internal/auth"
	"cbtexam/internal/db"

	"github.com/go-chi/chi/v5"
)

type mockMatrixService struct {
	createMatrixFn func(ctx context.Context, m Matrix) (*Matrix, error)
	getMatrixFn    func(ctx context.Context, id int64) (*Matrix, error)
	listFn         func(ctx context.Context, teacherID int64, page db.Page) ([]Matrix, error)
	updateMatrixFn func(ctx context.Context, m Matrix) (*Matrix, error)
	deleteMatrixFn func(ctx context.Context, id int64) error
	addItemFn      func(ctx context.Context, it Item) (*Item, error)
	getItemFn      func(ctx context.Context, matrixID, itemID int64) (*Item, error)
	listItemsFn    func(ctx context.Context, matrixID int64) ([]Item, error)
	updateItemFn   func(ctx context.Context, it Item) (*Item, error)
	deleteItemFn   func(ctx context.Context, matrixID, itemID int64) error
	validateFn     func(ctx context.Context, matrixID int64) (*ValidationReport, error)
}

var errNotImplemented = errors.New("not implemented")

func (m *mockMatrixService) CreateMatrix(ctx context.Context, in Matrix) (*Matrix, error) {
	if m.createMatrixFn == nil {
		return nil, errNotImplemented
	}
	return m.createMatrixFn(ctx, in)
}

func (m *mockMatrixService) GetMatrix(ctx context.Context, id int64) (*Matrix, error) {
	if m.getMatrixFn == nil {
		return nil, errNotImplemented
	}
	return m.getMatrixFn(ctx, id)
}

func (m *mockMatrixService) ListMatrices(ctx context.Context, teacherID int64, page db.Page) ([]Matrix, error) {
	if m.listFn == nil {
		return nil, errNotImplemented
	}
	return m.listFn(ctx, teacherID, page)
}

func (m *mockMatrixService) UpdateMatrix(ctx context.Context, in Matrix) (*Matrix, error) {
	if m.updateMatrixFn == nil {
		return nil, errNotImplemented
	}
	return m.updateMatrixFn(ctx, in)
}

func (m *mockMatrixService) DeleteMatrix(ctx context.Context, id int64) error {
	if m.deleteMatrixFn == nil {
		return errNotImplemented
	}
	return m.deleteMatrixFn(ctx, id)
}

func (m *mockMatrixService) AddItem(ctx context.Context, it Item) (*Item, error) {
	if m.addItemFn == nil {
		return nil, errNotImplemented
	}
	return m.addItemFn(ctx, it)
}

func (m *mockMatrixService) GetItem(ctx context.Context, matrixID, itemID int64) (*Item, error) {
	if m.getItemFn == nil {
		return nil, errNotImplemented
	}
	return m.getItemFn(ctx, matrixID, itemID)
}

func (m *mockMatrixService) ListItems(ctx context.Context, matrixID int64) ([]Item, error) {
	if m.listItemsFn == nil {
		return nil, errNotImplemented
	}
	return m.listItemsFn(ctx, matrixID)
}

func (m *mockMatrixService) UpdateItem(ctx context.Context, it Item) (*Item, error) {
	if m.updateItemFn == nil {
		return nil, errNotImplemented
	}
	return m.updateItemFn(ctx, it)
}

func (m *mockMatrixService) DeleteItem(ctx context.Context, matrixID, itemID int64) error {
	if m.deleteItemFn == nil {
		return errNotImplemented
	}
	return m.deleteItemFn(ctx, matrixID, itemID)
}

func (m *mockMatrixService) Validate(ctx context.Context, matrixID int64) (*ValidationReport, error) {
	if m.validateFn == nil {
		return nil, errNotImplemented
	}
	return m.validateFn(ctx, matrixID)
}

func ownedBy(teacherID int64) func(ctx context.Context, id int64) (*Matrix, error) {
	return func(_ context.Context, id int64) (*Matrix, error) {
		return &Matrix{ID: id, Name: "m", TeacherID: teacherID}, nil
	}
}

func serve(h http.HandlerFunc, method, pattern, target string, body []byte, user *auth.User, params map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	if user != nil {
		ctx = auth.ContextWithUser(ctx, user)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req.WithContext(ctx))
	return rr
}

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var out envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rr.Body.String())
	}
	return out
}

func TestHandlerCreateUsesCallerAsOwner(t *testing.T) {
	var got Matrix
	h := NewHandler(&mockMatrixService{
		createMatrixFn: func(_ context.Context, m Matrix) (*Matrix, error) {
			got = m
			m.ID = 1
			return &m, nil
		},
	})
	body := []byte(`{"name":"Midterm","totalPoints":100}`)
	rr := serve(h.Create, http.MethodPost, "/exam-matrices", "/exam-matrices", body, &auth.User{ID: 42, Role: auth.RoleTeacher}, nil)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.TeacherID != 42 || got.Name != "Midterm" {
		t.Fatalf("unexpected matrix passed to service: %+v", got)
	}
	if !got.TotalPoints.Valid || got.TotalPoints.Amount.Hundredths() != 10000 {
		t.Fatalf("expected totalPoints 100, got %+v", got.TotalPoints)
	}
}

func TestHandlerCreateValidation(t *testing.T) {
	h := NewHandler(&mockMatrixService{})
	rr := serve(h.Create, http.MethodPost, "/exam-matrices", "/exam-matrices", []byte(`{"name":""}`), &auth.User{ID: 1, Role: auth.RoleTeacher}, nil)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	res := decodeEnvelope(t, rr)
	if res.Error == nil || res.Error.Code != "validation_failed" || res.Error.Fields["name"] == "" {
		t.Fatalf("expected name field error, got %s", rr.Body.String())
	}
}

func TestHandlerOwnership(t *testing.T) {
	tests := []struct {
		name string
		user *auth.User
		want int
	}{
		{name: "owner", user: &auth.User{ID: 5, Role: auth.RoleTeacher}, want: http.StatusOK},
		{name: "other teacher", user: &auth.User{ID: 6, Role: auth.RoleTeacher}, want: http.StatusForbidden},
		{name: "admin", user: &auth.User{ID: 1, Role: auth.RoleAdmin}, want: http.StatusOK},
		{name: "anonymous", user: nil, want: http.StatusUnauthorized},
	}
	h := NewHandler(&mockMatrixService{getMatrixFn: ownedBy(5)})
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(h.Get, http.MethodGet, "/exam-matrices/{id}", "/exam-matrices/9", nil, tc.user, map[string]string{"id": "9"})
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
}

func TestHandlerGetNotFound(t *testing.T) {
	h := NewHandler(&mockMatrixService{
		getMatrixFn: func(context.Context, int64) (*Matrix, error) { return nil, ErrMatrixNotFound },
	})
	rr := serve(h.Get, http.MethodGet, "/exam-matrices/{id}", "/exam-matrices/9", nil, &auth.User{ID: 1, Role: auth.RoleAdmin}, map[string]string{"id": "9"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	rr = serve(h.Get, http.MethodGet, "/exam-matrices/{id}", "/exam-matrices/x", nil, &auth.User{ID: 1, Role: auth.RoleAdmin}, map[string]string{"id": "x"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rr.Code)
	}
}

func TestHandlerListScopesTeachers(t *testing.T) {
	var scoped int64 = -1
	h := NewHandler(&mockMatrixService{
		listFn: func(_ context.Context, teacherID int64, page db.Page) ([]Matrix, error) {
			scoped = teacherID
			if page.Limit != db.DefaultPageLimit {
				t.Errorf("expected default limit, got %d", page.Limit)
			}
			return []Matrix{}, nil
		},
	})
	serve(h.List, http.MethodGet, "/exam-matrices", "/exam-matrices", nil, &auth.User{ID: 8, Role: auth.RoleTeacher}, nil)
	if scoped != 8 {
		t.Fatalf("teacher list should be scoped to caller, got %d", scoped)
	}
	serve(h.List, http.MethodGet, "/exam-matrices", "/exam-matrices", nil, &auth.User{ID: 1, Role: auth.RoleAdmin}, nil)
	if scoped != 0 {
		t.Fatalf("admin list should be unscoped, got %d", scoped)
	}
}

func TestHandlerCreateItem(t *testing.T) {
	var got Item
	h := NewHandler(&mockMatrixService{
		getMatrixFn: ownedBy(5),
		addItemFn: func(_ context.Context, it Item) (*Item, error) {
			got = it
			it.ID = 3
			return &it, nil
		},
	})
	body := []byte(`{"bankId":2,"domain":"algebra","difficultyLevel":4,"questionCount":6,"pointsPerQuestion":"1.5"}`)
	rr := serve(h.CreateItem, http.MethodPost, "/exam-matrices/{id}/items", "/exam-matrices/9/items", body, &auth.User{ID: 5, Role: auth.RoleTeacher}, map[string]string{"id": "9"})

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.MatrixID != 9 || got.BankID != 2 || got.QuestionCount != 6 || *got.Domain != "algebra" || *got.DifficultyLevel != 4 {
		t.Fatalf("unexpected item: %+v", got)
	}
	if got.PointsPerQuestion.Amount.Hundredths() != 150 {
		t.Fatalf("expected 1.50 points, got %s", got.PointsPerQuestion.Amount)
	}
}

func TestHandlerCreateItemRejectsZeroCount(t *testing.T) {
	h := NewHandler(&mockMatrixService{getMatrixFn: ownedBy(5)})
	rr := serve(h.CreateItem, http.MethodPost, "/exam-matrices/{id}/items", "/exam-matrices/9/items", []byte(`{"bankId":2,"questionCount":0}`), &auth.User{ID: 5, Role: auth.RoleTeacher}, map[string]string{"id": "9"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHandlerValidateShortageIsOK200(t *testing.T) {
	h := NewHandler(&mockMatrixService{
		getMatrixFn: ownedBy(5),
		validateFn: func(context.Context, int64) (*ValidationReport, error) {
			return &ValidationReport{OK: false, Shortages: []Shortage{{ItemID: 1, Needed: 10, Available: 4}}}, nil
		},
	})
	rr := serve(h.Validate, http.MethodPost, "/exam-matrices/{id}/validate", "/exam-matrices/9/validate", nil, &auth.User{ID: 5, Role: auth.RoleTeacher}, map[string]string{"id": "9"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	res := decodeEnvelope(t, rr)
	var report ValidationReport
	if err := json.Unmarshal(res.Data, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.OK || len(report.Shortages) != 1 || report.Shortages[0].Available != 4 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestHandlerDeleteItemNotFound(t *testing.T) {
	h := NewHandler(&mockMatrixService{
		getMatrixFn:  ownedBy(5),
		deleteItemFn: func(context.Context, int64, int64) error { return ErrItemNotFound },
	})
	rr := serve(h.DeleteItem, http.MethodDelete, "/exam-matrices/{id}/items/{itemId}", "/exam-matrices/9/items/4", nil, &auth.User{ID: 5, Role: auth.RoleTeacher}, map[string]string{"id": "9", "itemId": "4"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

package matrix

import (
	"context"
	"errors"
	"net/http"

	"cbtexam/internal/app/apiresp"
	"cbtexam/internal/app/validate"
	"cbtexam/internal/auth"
	"cbtexam/internal/db"
	"cbtexam/internal/points"
)

var errMatrixForbidden = errors.New("matrix belongs to another teacher")

type matrixService interface {
	CreateMatrix(ctx context.Context, m Matrix) (*Matrix, error)
	GetMatrix(ctx context.Context, id int64) (*Matrix, error)
	ListMatrices(ctx context.Context, teacherID int64, page db.Page) ([]Matrix, error)
	UpdateMatrix(ctx context.Context, m Matrix) (*Matrix, error)
	DeleteMatrix(ctx context.Context, id int64) error
	AddItem(ctx context.Context, it Item) (*Item, error)
	GetItem(ctx context.Context, matrixID, itemID int64) (*Item, error)
	ListItems(ctx context.Context, matrixID int64) ([]Item, error)
	UpdateItem(ctx context.Context, it Item) (*Item, error)
	DeleteItem(ctx context.Context, matrixID, itemID int64) error
	Validate(ctx context.Context, matrixID int64) (*ValidationReport, error)
}

type Handler struct {
	svc matrixService
}

func NewHandler(svc matrixService) *Handler {
	return &Handler{svc: svc}
}

type matrixRequest struct {
	Name        string            `json:"name" validate:"required,max=255"`
	Description string            `json:"description" validate:"max=2000"`
	TotalPoints points.NullAmount `json:"totalPoints"`
}

type itemRequest struct {
	BankID            int64             `json:"bankId" validate:"required,gt=0"`
	Domain            *string           `json:"domain" validate:"omitempty,max=255"`
	DifficultyLevel   *int64            `json:"difficultyLevel" validate:"omitempty,gt=0"`
	QuestionCount     int               `json:"questionCount" validate:"required,gt=0"`
	PointsPerQuestion points.NullAmount `json:"pointsPerQuestion"`
}

func (req itemRequest) item(matrixID, itemID int64) Item {
	return Item{
		ID:                itemID,
		MatrixID:          matrixID,
		BankID:            req.BankID,
		Domain:            req.Domain,
		DifficultyLevel:   req.DifficultyLevel,
		QuestionCount:     req.QuestionCount,
		PointsPerQuestion: req.PointsPerQuestion,
	}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req matrixRequest
	if !apiresp.Decode(w, r, &req) {
		return
	}
	m, err := h.svc.CreateMatrix(r.Context(), Matrix{
		Name:        req.Name,
		Description: req.Description,
		TeacherID:   user.ID,
		TotalPoints: req.TotalPoints,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, m)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var teacherID int64
	if user.Role != auth.RoleAdmin {
		teacherID = user.ID
	}
	items, err := h.svc.ListMatrices(r.Context(), teacherID, pageFromQuery(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	m, ok := h.ownedMatrix(w, r)
	if !ok {
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, m)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	current, ok := h.ownedMatrix(w, r)
	if !ok {
		return
	}
	var req matrixRequest
	if !apiresp.Decode(w, r, &req) {
		return
	}
	m, err := h.svc.UpdateMatrix(r.Context(), Matrix{
		ID:          current.ID,
		Name:        req.Name,
		Description: req.Description,
		TeacherID:   current.TeacherID,
		TotalPoints: req.TotalPoints,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, m)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	m, ok := h.ownedMatrix(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteMatrix(r.Context(), m.ID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	m, ok := h.ownedMatrix(w, r)
	if !ok {
		return
	}
	var req itemRequest
	if !apiresp.Decode(w, r, &req) {
		return
	}
	it, err := h.svc.AddItem(r.Context(), req.item(m.ID, 0))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, it)
}

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	m, ok := h.ownedMatrix(w, r)
	if !ok {
		return
	}
	items, err := h.svc.ListItems(r.Context(), m.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	m, ok := h.ownedMatrix(w, r)
	if !ok {
		return
	}
	itemID, ok := apiresp.PathID(w, r, "itemId")
	if !ok {
		return
	}
	it, err := h.svc.GetItem(r.Context(), m.ID, itemID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, it)
}

func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	m, ok := h.ownedMatrix(w, r)
	if !ok {
		return
	}
	itemID, ok := apiresp.PathID(w, r, "itemId")
	if !ok {
		return
	}
	var req itemRequest
	if !apiresp.Decode(w, r, &req) {
		return
	}
	it, err := h.svc.UpdateItem(r.Context(), req.item(m.ID, itemID))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, it)
}

func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	m, ok := h.ownedMatrix(w, r)
	if !ok {
		return
	}
	itemID, ok := apiresp.PathID(w, r, "itemId")
	if !ok {
		return
	}
	if err := h.svc.DeleteItem(r.Context(), m.ID, itemID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}

// Validate answers 200 in both outcomes; shortages are reported with ok=false
// inside the data payload.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	m, ok := h.ownedMatrix(w, r)
	if !ok {
		return
	}
	report, err := h.svc.Validate(r.Context(), m.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, report)
}

// ownedMatrix loads the matrix named by the path and checks the caller may
// manage it. Admins may manage any matrix.
func (h *Handler) ownedMatrix(w http.ResponseWriter, r *http.Request) (*Matrix, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	id, ok := apiresp.PathID(w, r, "id")
	if !ok {
		return nil, false
	}
	m, err := h.svc.GetMatrix(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return nil, false
	}
	if user.Role != auth.RoleAdmin && m.TeacherID != user.ID {
		writeServiceError(w, r, errMatrixForbidden)
		return nil, false
	}
	return m, true
}

func pageFromQuery(r *http.Request) db.Page {
	return db.Page{Limit: apiresp.QueryInt(r, "limit", 0), Offset: apiresp.QueryInt(r, "offset", 0)}.Normalize()
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var fields validate.FieldErrors
	switch {
	case errors.As(err, &fields):
		apiresp.WriteValidation(w, r, fields)
	case errors.Is(err, ErrMatrixNotFound), errors.Is(err, ErrItemNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, errMatrixForbidden):
		apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}

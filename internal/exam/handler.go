package exam

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"cbtexam/internal/app/apiresp"
	"cbtexam/internal/app/validate"
	"cbtexam/internal/auth"
	"cbtexam/internal/db"
	"cbtexam/internal/matrix"
	"cbtexam/internal/points"
	"cbtexam/internal/question"
)

var errExamForbidden = errors.New("exam belongs to another teacher")

type examService interface {
	CreateExam(ctx context.Context, createdBy int64, in ExamInput) (*Exam, error)
	GetExam(ctx context.Context, id int64) (*Exam, error)
	ListExams(ctx context.Context, f Filter, page db.Page) ([]Exam, error)
	UpdateExam(ctx context.Context, id int64, in ExamInput) (*Exam, error)
	UpdateStatus(ctx context.Context, id int64, status string) (*Exam, error)
	AddQuestion(ctx context.Context, examID, questionID int64, pts points.NullAmount, orderIndex int) (*Question, error)
	UpdateQuestion(ctx context.Context, examID, id int64, pts points.NullAmount, orderIndex int) (*Question, error)
	DeleteQuestion(ctx context.Context, examID, id int64) error
	ListQuestions(ctx context.Context, examID int64) ([]Question, error)
}

type examGenerator interface {
	CreateFromMatrix(ctx context.Context, in FromMatrixInput) (*Exam, error)
}

type Handler struct {
	svc examService
	gen examGenerator
}

func NewHandler(svc examService, gen examGenerator) *Handler {
	return &Handler{svc: svc, gen: gen}
}

type examRequest struct {
	Title              string            `json:"title" validate:"required,max=255"`
	Description        string            `json:"description" validate:"max=2000"`
	DurationMinutes    int               `json:"durationMinutes" validate:"gte=0"`
	PassThreshold      points.NullAmount `json:"passThreshold"`
	RandomizeQuestions bool              `json:"randomizeQuestions"`
	RandomizeAnswers   bool              `json:"randomizeAnswers"`
	MaxAttempts        *int              `json:"maxAttempts" validate:"omitempty,gte=1"`
	StartTime          *time.Time        `json:"startTime"`
	EndTime            *time.Time        `json:"endTime"`
	Password           *string           `json:"password" validate:"omitempty,max=128"`
}

func (req examRequest) input() ExamInput {
	return ExamInput{
		Title:              req.Title,
		Description:        req.Description,
		DurationMinutes:    req.DurationMinutes,
		PassThreshold:      req.PassThreshold,
		RandomizeQuestions: req.RandomizeQuestions,
		RandomizeAnswers:   req.RandomizeAnswers,
		MaxAttempts:        req.MaxAttempts,
		StartTime:          req.StartTime,
		EndTime:            req.EndTime,
		Password:           req.Password,
	}
}

type fromMatrixRequest struct {
	MatrixID           int64             `json:"matrixId" validate:"required,gt=0"`
	Title              *string           `json:"title" validate:"omitempty,max=255"`
	Description        *string           `json:"description" validate:"omitempty,max=2000"`
	DurationMinutes    *int              `json:"durationMinutes" validate:"omitempty,gt=0"`
	PassThreshold      points.NullAmount `json:"passThreshold"`
	RandomizeQuestions bool              `json:"randomizeQuestions"`
	RandomizeAnswers   bool              `json:"randomizeAnswers"`
	MaxAttempts        *int              `json:"maxAttempts" validate:"omitempty,gte=1"`
	StartTime          *time.Time        `json:"startTime"`
	EndTime            *time.Time        `json:"endTime"`
	Password           string            `json:"password" validate:"max=128"`
	TotalPoints        points.NullAmount `json:"totalPoints"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=Draft Active Closed Archived"`
}

type questionRequest struct {
	QuestionID int64             `json:"questionId" validate:"required,gt=0"`
	Points     points.NullAmount `json:"points"`
	OrderIndex int               `json:"orderIndex" validate:"gte=0"`
}

type updateQuestionRequest struct {
	Points     points.NullAmount `json:"points"`
	OrderIndex int               `json:"orderIndex" validate:"gte=0"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req examRequest
	if !apiresp.Decode(w, r, &req) {
		return
	}
	e, err := h.svc.CreateExam(r.Context(), user.ID, req.input())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, e)
}

func (h *Handler) CreateFromMatrix(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req fromMatrixRequest
	if !apiresp.Decode(w, r, &req) {
		return
	}
	in := FromMatrixInput{
		MatrixID:           req.MatrixID,
		CreatedBy:          user.ID,
		Title:              req.Title,
		Description:        req.Description,
		DurationMinutes:    req.DurationMinutes,
		PassThreshold:      req.PassThreshold,
		RandomizeQuestions: req.RandomizeQuestions,
		RandomizeAnswers:   req.RandomizeAnswers,
		MaxAttempts:        req.MaxAttempts,
		StartTime:          req.StartTime,
		EndTime:            req.EndTime,
		Password:           req.Password,
		TotalPoints:        req.TotalPoints,
	}
	if user.Role != auth.RoleAdmin {
		in.OwnerID = user.ID
	}
	e, err := h.gen.CreateFromMatrix(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, e)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	f := Filter{Status: strings.TrimSpace(r.URL.Query().Get("status"))}
	if user.Role == auth.RoleAdmin {
		f.CreatedBy = int64(apiresp.QueryInt(r, "teacherId", 0))
	} else {
		f.CreatedBy = user.ID
	}
	page := db.Page{Limit: apiresp.QueryInt(r, "limit", 0), Offset: apiresp.QueryInt(r, "offset", 0)}
	items, err := h.svc.ListExams(r.Context(), f, page)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	e, ok := h.ownedExam(w, r)
	if !ok {
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, e)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	current, ok := h.ownedExam(w, r)
	if !ok {
		return
	}
	var req examRequest
	if !apiresp.Decode(w, r, &req) {
		return
	}
	e, err := h.svc.UpdateExam(r.Context(), current.ID, req.input())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, e)
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	current, ok := h.ownedExam(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if !apiresp.Decode(w, r, &req) {
		return
	}
	e, err := h.svc.UpdateStatus(r.Context(), current.ID, req.Status)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, e)
}

func (h *Handler) AddQuestion(w http.ResponseWriter, r *http.Request) {
	e, ok := h.ownedExam(w, r)
	if !ok {
		return
	}
	var req questionRequest
	if !apiresp.Decode(w, r, &req) {
		return
	}
	eq, err := h.svc.AddQuestion(r.Context(), e.ID, req.QuestionID, req.Points, req.OrderIndex)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, eq)
}

func (h *Handler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	e, ok := h.ownedExam(w, r)
	if !ok {
		return
	}
	items, err := h.svc.ListQuestions(r.Context(), e.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) UpdateQuestion(w http.ResponseWriter, r *http.Request) {
	e, ok := h.ownedExam(w, r)
	if !ok {
		return
	}
	eqID, ok := apiresp.PathID(w, r, "eqId")
	if !ok {
		return
	}
	var req updateQuestionRequest
	if !apiresp.Decode(w, r, &req) {
		return
	}
	eq, err := h.svc.UpdateQuestion(r.Context(), e.ID, eqID, req.Points, req.OrderIndex)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, eq)
}

func (h *Handler) DeleteQuestion(w http.ResponseWriter, r *http.Request) {
	e, ok := h.ownedExam(w, r)
	if !ok {
		return
	}
	eqID, ok := apiresp.PathID(w, r, "eqId")
	if !ok {
		return
	}
	if err := h.svc.DeleteQuestion(r.Context(), e.ID, eqID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) ownedExam(w http.ResponseWriter, r *http.Request) (*Exam, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	id, ok := apiresp.PathID(w, r, "id")
	if !ok {
		return nil, false
	}
	e, err := h.svc.GetExam(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return nil, false
	}
	if user.Role != auth.RoleAdmin && e.CreatedBy != user.ID {
		writeServiceError(w, r, errExamForbidden)
		return nil, false
	}
	return e, true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var fields validate.FieldErrors
	switch {
	case errors.As(err, &fields):
		apiresp.WriteValidation(w, r, fields)
	case errors.Is(err, ErrExamNotFound),
		errors.Is(err, ErrExamQuestionNotFound),
		errors.Is(err, question.ErrQuestionNotFound),
		errors.Is(err, matrix.ErrMatrixNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateQuestion):
		apiresp.WriteError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, errExamForbidden), errors.Is(err, ErrMatrixNotOwned):
		apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}

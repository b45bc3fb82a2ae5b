package attempt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"cbtexam/internal/app/apiresp"
	"cbtexam/internal/app/validate"
	"cbtexam/internal/auth"
)

const (
	codeCannotStart  = "CANNOT_START_ATTEMPT"
	codeCannotSave   = "CANNOT_SAVE_ANSWER"
	codeCannotSubmit = "CANNOT_SUBMIT_ATTEMPT"
	codeNotFound     = "ATTEMPT_NOT_FOUND"
)

var errAttemptForbidden = errors.New("attempt belongs to another student")

type attemptService interface {
	CheckAccess(ctx context.Context, examID, studentID int64, password string) (Access, error)
	StartAttempt(ctx context.Context, examID, studentID int64, password string) (*StartResponse, error)
	SaveAnswer(ctx context.Context, in SaveAnswerInput) (*Answer, error)
	Submit(ctx context.Context, attemptID int64) (*SubmitResponse, error)
	GetAttempt(ctx context.Context, attemptID int64) (*Attempt, error)
	LatestAttempt(ctx context.Context, examID, studentID int64) (*Attempt, error)
	ListAttempts(ctx context.Context, examID int64, f Filter) ([]Attempt, error)
	Owner(ctx context.Context, attemptID int64) (Owner, error)
}

type Handler struct {
	svc attemptService
}

func NewHandler(svc attemptService) *Handler {
	return &Handler{svc: svc}
}

type answerRequest struct {
	QuestionID        int64           `json:"questionId" validate:"required,gt=0"`
	SelectedAnswerIDs SelectedIDs     `json:"selectedAnswerIds"`
	TextAnswer        *string         `json:"textAnswer" validate:"omitempty,max=10000"`
	AnswerData        json.RawMessage `json:"answerData"`
}

// Access answers 200 either way; the verdict is in data.ok.
func (h *Handler) Access(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	examID, ok := apiresp.PathID(w, r, "id")
	if !ok {
		return
	}
	studentID := int64(apiresp.QueryInt(r, "studentId", 0))
	if !user.IsStaff() {
		if studentID != 0 && studentID != user.ID {
			apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
			return
		}
		studentID = user.ID
	}
	if studentID <= 0 {
		apiresp.WriteValidation(w, r, validate.FieldErrors{"studentId": "is required"})
		return
	}
	access, err := h.svc.CheckAccess(r.Context(), examID, studentID, r.URL.Query().Get("password"))
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, access)
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	examID, ok := apiresp.PathID(w, r, "id")
	if !ok {
		return
	}
	res, err := h.svc.StartAttempt(r.Context(), examID, user.ID, r.URL.Query().Get("password"))
	var denied *AccessDeniedError
	switch {
	case err == nil:
		apiresp.WriteOK(w, r, http.StatusOK, res)
	case errors.As(err, &denied):
		apiresp.WriteRejected(w, r, http.StatusBadRequest, codeCannotStart, denied.Reasons)
	case errors.Is(err, ErrConcurrentStart):
		apiresp.WriteRejected(w, r, http.StatusBadRequest, codeCannotStart, []string{ReasonConcurrentStart})
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) SaveAnswer(w http.ResponseWriter, r *http.Request) {
	attemptID, ok := h.ownAttempt(w, r)
	if !ok {
		return
	}
	var req answerRequest
	if !apiresp.Decode(w, r, &req) {
		return
	}
	_, err := h.svc.SaveAnswer(r.Context(), SaveAnswerInput{
		AttemptID:         attemptID,
		QuestionID:        req.QuestionID,
		SelectedAnswerIDs: req.SelectedAnswerIDs,
		TextAnswer:        req.TextAnswer,
		AnswerData:        req.AnswerData,
	})
	switch {
	case err == nil:
		apiresp.WriteOK(w, r, http.StatusOK, map[string]bool{"status": true})
	case errors.Is(err, ErrAttemptNotFound):
		apiresp.WriteCode(w, r, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, ErrAttemptAlreadySubmitted), errors.Is(err, ErrQuestionNotInExam):
		apiresp.WriteCode(w, r, http.StatusBadRequest, codeCannotSave, err.Error())
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	attemptID, ok := h.ownAttempt(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Submit(r.Context(), attemptID)
	switch {
	case err == nil:
		apiresp.WriteOK(w, r, http.StatusOK, res)
	case errors.Is(err, ErrAttemptNotFound):
		apiresp.WriteCode(w, r, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, ErrAttemptAlreadySubmitted):
		apiresp.WriteCode(w, r, http.StatusBadRequest, codeCannotSubmit, err.Error())
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// Get shows an attempt to its student or to staff.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	examID, ok := apiresp.PathID(w, r, "id")
	if !ok {
		return
	}
	attemptID, ok := apiresp.PathID(w, r, "attemptId")
	if !ok {
		return
	}
	a, err := h.svc.GetAttempt(r.Context(), attemptID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if a.ExamID != examID {
		writeServiceError(w, r, ErrAttemptNotFound)
		return
	}
	if !user.IsStaff() && a.StudentID != user.ID {
		writeServiceError(w, r, errAttemptForbidden)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, a)
}

func (h *Handler) MyLatest(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	examID, ok := apiresp.PathID(w, r, "id")
	if !ok {
		return
	}
	a, err := h.svc.LatestAttempt(r.Context(), examID, user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, a)
}

// List returns the exam's attempts. Students only ever see their own.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	examID, ok := apiresp.PathID(w, r, "id")
	if !ok {
		return
	}
	f := Filter{Status: strings.TrimSpace(r.URL.Query().Get("status"))}
	if user.IsStaff() {
		f.StudentID = int64(apiresp.QueryInt(r, "studentId", 0))
	} else {
		f.StudentID = user.ID
	}
	items, err := h.svc.ListAttempts(r.Context(), examID, f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

// ownAttempt resolves the path attempt and checks it belongs to the caller
// and to the exam in the path.
func (h *Handler) ownAttempt(w http.ResponseWriter, r *http.Request) (int64, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return 0, false
	}
	examID, ok := apiresp.PathID(w, r, "id")
	if !ok {
		return 0, false
	}
	attemptID, ok := apiresp.PathID(w, r, "attemptId")
	if !ok {
		return 0, false
	}
	owner, err := h.svc.Owner(r.Context(), attemptID)
	if err == nil && owner.ExamID != examID {
		err = ErrAttemptNotFound
	}
	if err != nil {
		writeServiceError(w, r, err)
		return 0, false
	}
	if owner.StudentID != user.ID {
		writeServiceError(w, r, errAttemptForbidden)
		return 0, false
	}
	return attemptID, true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var fields validate.FieldErrors
	switch {
	case errors.As(err, &fields):
		apiresp.WriteValidation(w, r, fields)
	case errors.Is(err, ErrAttemptNotFound):
		apiresp.WriteCode(w, r, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, errAttemptForbidden):
		apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}

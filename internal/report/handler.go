package report

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cbtexam/internal/app/apiresp"
	"cbtexam/internal/auth"
	"cbtexam/internal/exam"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type reportService interface {
	SummaryByExam(ctx context.Context, examID int64) (*ExamSummary, error)
	ExportAttemptsExcel(ctx context.Context, examID int64) ([]byte, error)
}

type Handler struct {
	svc   reportService
	exams ExamGetter
}

func NewHandler(svc reportService, exams ExamGetter) *Handler {
	return &Handler{svc: svc, exams: exams}
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	examID, ok := h.ownedExamID(w, r)
	if !ok {
		return
	}
	sum, err := h.svc.SummaryByExam(r.Context(), examID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, sum)
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	examID, ok := h.ownedExamID(w, r)
	if !ok {
		return
	}
	data, err := h.svc.ExportAttemptsExcel(r.Context(), examID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="exam-%d-attempts.xlsx"`, examID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ownedExamID limits reports to the exam's author and admins.
func (h *Handler) ownedExamID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return 0, false
	}
	id, ok := apiresp.PathID(w, r, "id")
	if !ok {
		return 0, false
	}
	e, err := h.exams.GetExam(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return 0, false
	}
	if user.Role != auth.RoleAdmin && e.CreatedBy != user.ID {
		apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
		return 0, false
	}
	return e.ID, true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, exam.ErrExamNotFound) {
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
		return
	}
	apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
}

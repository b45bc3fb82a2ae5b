package app

import (
	"net/http"
	"time"

	"cbtexam/internal/app/observability"
	"cbtexam/internal/attempt"
	"cbtexam/internal/auth"
	"cbtexam/internal/db"
	"cbtexam/internal/exam"
	"cbtexam/internal/matrix"
	"cbtexam/internal/question"
	"cbtexam/internal/report"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter wires stores, services and handlers over d. A nil limiter gets a
// fresh one sized from cfg.
func NewRouter(cfg Config, d *db.DB, logger *zap.Logger, limiter *IPRateLimiter) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limiter == nil {
		limiter = NewIPRateLimiter(cfg.RateLimitPerMin, time.Minute)
	}

	collector := observability.NewCollector(logger, d.DB)
	metrics := collector.Metrics()

	pool := question.NewPool(d)
	matrixSvc := matrix.NewService(matrix.NewStore(d), pool, logger.Named("matrix"))
	examStore := exam.NewStore(d)
	examSvc := exam.NewService(examStore, pool, cfg.DefaultExamMinutes, logger.Named("exam"))
	generator := exam.NewGenerator(examStore, matrixSvc, pool, exam.GeneratorConfig{
		DefaultMinutes: cfg.DefaultExamMinutes,
		Logger:         logger.Named("generator"),
		Metrics:        metrics,
	})
	attemptSvc := attempt.NewService(attempt.NewStore(d), attempt.Config{
		Logger:  logger.Named("attempt"),
		Metrics: metrics,
	})
	reportSvc := report.NewService(examSvc, attemptSvc)

	matrixHandler := matrix.NewHandler(matrixSvc)
	examHandler := exam.NewHandler(examSvc, generator)
	attemptHandler := attempt.NewHandler(attemptSvc)
	reportHandler := report.NewHandler(reportSvc, examSvc)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.TraceMiddleware)
	r.Use(collector.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := d.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"ok":false}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Handle("/metrics", collector.MetricsHandler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(RateLimitMiddleware(limiter))
		api.Use(CSRFMiddleware(cfg.CSRFEnforced))
		api.Use(auth.RequireAuth)

		api.Group(func(staff chi.Router) {
			staff.Use(auth.RequireRoles(auth.RoleAdmin, auth.RoleTeacher))

			staff.Route("/exam-matrices", func(m chi.Router) {
				m.Post("/", matrixHandler.Create)
				m.Get("/", matrixHandler.List)
				m.Get("/{id}", matrixHandler.Get)
				m.Put("/{id}", matrixHandler.Update)
				m.Delete("/{id}", matrixHandler.Delete)
				m.Post("/{id}/items", matrixHandler.CreateItem)
				m.Get("/{id}/items", matrixHandler.ListItems)
				m.Get("/{id}/items/{itemId}", matrixHandler.GetItem)
				m.Put("/{id}/items/{itemId}", matrixHandler.UpdateItem)
				m.Delete("/{id}/items/{itemId}", matrixHandler.DeleteItem)
				m.Post("/{id}/validate", matrixHandler.Validate)
			})

			staff.Post("/exams", examHandler.Create)
			staff.Post("/exams/from-matrix", examHandler.CreateFromMatrix)
			staff.Get("/exams", examHandler.List)
			staff.Get("/exams/{id}", examHandler.Get)
			staff.Put("/exams/{id}", examHandler.Update)
			staff.Patch("/exams/{id}/status", examHandler.UpdateStatus)
			staff.Post("/exams/{id}/questions", examHandler.AddQuestion)
			staff.Get("/exams/{id}/questions", examHandler.ListQuestions)
			staff.Put("/exams/{id}/questions/{eqId}", examHandler.UpdateQuestion)
			staff.Delete("/exams/{id}/questions/{eqId}", examHandler.DeleteQuestion)
			staff.Get("/exams/{id}/report", reportHandler.Summary)
			staff.Get("/exams/{id}/attempts/export", reportHandler.Export)
		})

		api.Get("/exams/{id}/access", attemptHandler.Access)
		api.Post("/exams/{id}/attempts/start", attemptHandler.Start)
		api.Get("/exams/{id}/attempts", attemptHandler.List)
		api.Get("/exams/{id}/attempts/my-latest", attemptHandler.MyLatest)
		api.Get("/exams/{id}/attempts/{attemptId}", attemptHandler.Get)
		api.Post("/exams/{id}/attempts/{attemptId}/answer", attemptHandler.SaveAnswer)
		api.Post("/exams/{id}/attempts/{attemptId}/submit", attemptHandler.Submit)
	})

	return r
}

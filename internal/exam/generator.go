package exam

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"cbtexam/internal/app/observability"
	"cbtexam/internal/auth"
	"cbtexam/internal/matrix"
	"cbtexam/internal/points"
	"cbtexam/internal/question"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const defaultExamMinutes = 90

type MatrixSource interface {
	GetMatrix(ctx context.Context, id int64) (*matrix.Matrix, error)
}

type Sampler interface {
	EligibleIDs(ctx context.Context, c question.Criteria) ([]int64, error)
}

// FromMatrixInput configures a generated exam. Nil or zero fields fall back
// to the matrix name, the configured default duration, and so on. A non-zero
// OwnerID requires the matrix to belong to that teacher.
type FromMatrixInput struct {
	MatrixID           int64
	CreatedBy          int64
	OwnerID            int64
	Title              *string
	Description        *string
	DurationMinutes    *int
	PassThreshold      points.NullAmount
	RandomizeQuestions bool
	RandomizeAnswers   bool
	MaxAttempts        *int
	StartTime          *time.Time
	EndTime            *time.Time
	Password           string
	TotalPoints        points.NullAmount
}

type GeneratorConfig struct {
	DefaultMinutes int
	Rand           *rand.Rand
	Logger         *zap.Logger
	Metrics        *observability.Metrics
}

// Generator draws exams from matrices. Draws use one shared random source
// guarded by a mutex; seed it through GeneratorConfig.Rand in tests.
type Generator struct {
	store          *Store
	matrices       MatrixSource
	pool           Sampler
	defaultMinutes int
	logger         *zap.Logger
	metrics        *observability.Metrics

	mu  sync.Mutex
	rng *rand.Rand
}

func NewGenerator(store *Store, matrices MatrixSource, pool Sampler, cfg GeneratorConfig) *Generator {
	if cfg.DefaultMinutes <= 0 {
		cfg.DefaultMinutes = defaultExamMinutes
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Generator{
		store:          store,
		matrices:       matrices,
		pool:           pool,
		defaultMinutes: cfg.DefaultMinutes,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		rng:            cfg.Rand,
	}
}

// candidate is one drawn question and the points its item specified.
type candidate struct {
	QuestionID int64
	Points     points.NullAmount
}

func (g *Generator) CreateFromMatrix(ctx context.Context, in FromMatrixInput) (*Exam, error) {
	ctx, span := otel.Tracer("cbtexam/exam").Start(ctx, "exam.CreateFromMatrix")
	defer span.End()
	span.SetAttributes(attribute.Int64("matrix.id", in.MatrixID))

	e, err := g.createFromMatrix(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int64("exam.id", e.ID), attribute.Int("exam.questions", e.TotalQuestions))
	return e, nil
}

func (g *Generator) createFromMatrix(ctx context.Context, in FromMatrixInput) (*Exam, error) {
	m, err := g.matrices.GetMatrix(ctx, in.MatrixID)
	if err != nil {
		return nil, err
	}
	if in.OwnerID > 0 && m.TeacherID != in.OwnerID {
		return nil, ErrMatrixNotOwned
	}

	draws := make([][]candidate, 0, len(m.Items))
	for _, it := range m.Items {
		eligible, err := g.pool.EligibleIDs(ctx, matrix.CriteriaFor(it))
		if err != nil {
			return nil, fmt.Errorf("load eligible questions for item %d: %w", it.ID, err)
		}
		picked := g.sample(eligible, it.QuestionCount)
		draw := make([]candidate, 0, len(picked))
		for _, id := range picked {
			draw = append(draw, candidate{QuestionID: id, Points: it.PointsPerQuestion})
		}
		draws = append(draws, draw)
	}

	total := in.TotalPoints
	if !total.Valid {
		total = m.TotalPoints
	}
	cands := allocatePoints(mergeCandidates(draws), total)

	e := Exam{
		Title:              m.Name,
		Description:        m.Description,
		CreatedBy:          in.CreatedBy,
		DurationMinutes:    g.defaultMinutes,
		PassThreshold:      in.PassThreshold,
		RandomizeQuestions: in.RandomizeQuestions,
		RandomizeAnswers:   in.RandomizeAnswers,
		MaxAttempts:        in.MaxAttempts,
		StartTime:          in.StartTime,
		EndTime:            in.EndTime,
		Status:             StatusDraft,
		MatrixID:           &m.ID,
		TotalQuestions:     len(cands),
	}
	if in.Title != nil && strings.TrimSpace(*in.Title) != "" {
		e.Title = *in.Title
	}
	if in.Description != nil {
		e.Description = *in.Description
	}
	if in.DurationMinutes != nil {
		e.DurationMinutes = *in.DurationMinutes
	}
	if err := e.validate(); err != nil {
		return nil, err
	}
	if in.Password != "" {
		hash, err := auth.HashPassword(in.Password)
		if err != nil {
			return nil, fmt.Errorf("hash exam password: %w", err)
		}
		e.PasswordHash = hash
	}

	questions := make([]Question, 0, len(cands))
	for i, c := range cands {
		e.TotalPoints += c.Points.Amount
		questions = append(questions, Question{
			QuestionID: c.QuestionID,
			OrderIndex: i + 1,
			Points:     c.Points,
		})
	}

	if err := g.store.CreateWithQuestions(ctx, &e, questions); err != nil {
		return nil, err
	}

	g.metrics.ExamGenerated(len(questions))
	g.logger.Info("exam generated from matrix",
		zap.Int64("exam_id", e.ID),
		zap.Int64("matrix_id", m.ID),
		zap.Int("questions", e.TotalQuestions),
		zap.String("total_points", e.TotalPoints.String()),
	)
	return &e, nil
}

// sample returns min(n, len(ids)) distinct ids chosen uniformly at random.
func (g *Generator) sample(ids []int64, n int) []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return sampleIDs(g.rng, ids, n)
}

// sampleIDs runs a partial Fisher-Yates shuffle over a copy of ids.
func sampleIDs(rng *rand.Rand, ids []int64, n int) []int64 {
	if n > len(ids) {
		n = len(ids)
	}
	if n <= 0 {
		return []int64{}
	}
	pool := append([]int64(nil), ids...)
	for i := 0; i < n; i++ {
		j := i + rng.Intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:n]
}

// mergeCandidates concatenates item draws in item order and keeps only the
// first occurrence of each question.
func mergeCandidates(draws [][]candidate) []candidate {
	seen := make(map[int64]struct{})
	out := make([]candidate, 0)
	for _, draw := range draws {
		for _, c := range draw {
			if _, dup := seen[c.QuestionID]; dup {
				continue
			}
			seen[c.QuestionID] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// allocatePoints gives every candidate without explicit points an equal
// floor share of what total leaves after the explicit ones. Without a total
// each such candidate is worth one point.
func allocatePoints(cands []candidate, total points.NullAmount) []candidate {
	var assigned points.Amount
	remaining := 0
	for _, c := range cands {
		if c.Points.Valid {
			assigned += c.Points.Amount
		} else {
			remaining++
		}
	}

	share := points.FromInt(1)
	if total.Valid {
		share = 0
		left := total.Amount - assigned
		if left < 0 {
			left = 0
		}
		if remaining > 0 {
			share = left.DivFloor(remaining)
		}
	}

	out := make([]candidate, len(cands))
	for i, c := range cands {
		if !c.Points.Valid {
			c.Points = points.Some(share)
		}
		out[i] = c
	}
	return out
}

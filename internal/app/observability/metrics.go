package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts exam and attempt outcomes. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	examsGenerated   prometheus.Counter
	questionsDrawn   prometheus.Counter
	attemptsStarted  prometheus.Counter
	attemptsRejected *prometheus.CounterVec
	attemptsGraded   *prometheus.CounterVec
	scorePercentage  prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		examsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exams_generated_total",
			Help:      "Exams assembled from a matrix",
		}),
		questionsDrawn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exam_questions_drawn_total",
			Help:      "Questions placed into generated exams",
		}),
		attemptsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_started_total",
			Help:      "Exam attempts started",
		}),
		attemptsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_rejected_total",
			Help:      "Attempt starts refused, by reason",
		}, []string{"reason"}),
		attemptsGraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_graded_total",
			Help:      "Attempts submitted and graded",
		}, []string{"passed"}),
		scorePercentage: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_score_percentage",
			Help:      "Score percentage of graded attempts",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.examsGenerated, m.questionsDrawn, m.attemptsStarted, m.attemptsRejected, m.attemptsGraded, m.scorePercentage)
	}
	return m
}

func (m *Metrics) ExamGenerated(questions int) {
	if m == nil {
		return
	}
	m.examsGenerated.Inc()
	m.questionsDrawn.Add(float64(questions))
}

func (m *Metrics) AttemptStarted() {
	if m == nil {
		return
	}
	m.attemptsStarted.Inc()
}

func (m *Metrics) AttemptRejected(reasons []string) {
	if m == nil {
		return
	}
	for _, r := range reasons {
		m.attemptsRejected.WithLabelValues(r).Inc()
	}
}

func (m *Metrics) AttemptGraded(passed bool, percentage float64) {
	if m == nil {
		return
	}
	m.attemptsGraded.WithLabelValues(strconv.FormatBool(passed)).Inc()
	m.scorePercentage.Observe(percentage)
}

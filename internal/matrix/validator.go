package matrix

import (
	"context"

	"cbtexam/internal/question"
)

// Counter counts pool questions matching a criteria.
type Counter interface {
	CountEligible(ctx context.Context, c question.Criteria) (int, error)
}

type Shortage struct {
	ItemID    int64 `json:"itemId"`
	Needed    int   `json:"needed"`
	Available int   `json:"available"`
}

type ValidationReport struct {
	OK        bool       `json:"ok"`
	Shortages []Shortage `json:"shortages"`
}

// CriteriaFor maps an item onto pool eligibility filters.
func CriteriaFor(it Item) question.Criteria {
	return question.Criteria{
		BankID:          it.BankID,
		Domain:          it.Domain,
		DifficultyLevel: it.DifficultyLevel,
	}
}

// Check reports, per item, whether the pool can supply its quota. It does
// not write anything.
func Check(ctx context.Context, pool Counter, items []Item) (ValidationReport, error) {
	report := ValidationReport{OK: true, Shortages: []Shortage{}}
	for _, it := range items {
		available, err := pool.CountEligible(ctx, CriteriaFor(it))
		if err != nil {
			return ValidationReport{}, err
		}
		if available < it.QuestionCount {
			report.OK = false
			report.Shortages = append(report.Shortages, Shortage{
				ItemID:    it.ID,
				Needed:    it.QuestionCount,
				Available: available,
			})
		}
	}
	return report, nil
}

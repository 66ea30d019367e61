package usecase

import (
	"math"

	"github.com/atvirokodosprendimai/formsum/internal/core/domain"
)

const (
	// AggregateSumMessage is reported for any total other than 100, whether
	// the rows sum too high or too low.
	AggregateSumMessage = "La somme des pourcentages doit être égale à 100%"

	PercentageTarget = 100.0
	// SumTolerance absorbs float accumulation error from decimal percentages.
	SumTolerance = 1e-9
)

// ValidateAggregate checks that the row percentages add up to 100. It returns
// the aggregate message on violation and "" otherwise. Absent or empty rows
// sum to 0 and therefore violate the rule.
func ValidateAggregate(rows []domain.Row) string {
	if math.Abs(SumPourcentages(rows)-PercentageTarget) <= SumTolerance {
		return ""
	}
	return AggregateSumMessage
}

// SumPourcentages totals the rows after normalization.
func SumPourcentages(rows []domain.Row) float64 {
	var sum float64
	for _, r := range rows {
		sum += normalizePourcentage(r)
	}
	return sum
}

// normalizePourcentage counts an absent or non-numeric percentage as 0. The
// structural check reports those rows separately.
func normalizePourcentage(r domain.Row) float64 {
	if r.Pourcentage == nil {
		return 0
	}
	return *r.Pourcentage
}

package usecase

import (
	"testing"

	"github.com/atvirokodosprendimai/formsum/internal/core/domain"
)

func pct(v float64) *float64 { return &v }

func TestValidateAggregate(t *testing.T) {
	tests := []struct {
		name string
		rows []domain.Row
		want string
	}{
		{name: "exact hundred", rows: []domain.Row{{Pays: "France", Pourcentage: pct(60)}, {Pays: "Belgique", Pourcentage: pct(40)}}, want: ""},
		{name: "under", rows: []domain.Row{{Pays: "France", Pourcentage: pct(60)}}, want: AggregateSumMessage},
		{name: "over", rows: []domain.Row{{Pourcentage: pct(60)}, {Pourcentage: pct(60)}}, want: AggregateSumMessage},
		{name: "nil rows", rows: nil, want: AggregateSumMessage},
		{name: "empty rows", rows: []domain.Row{}, want: AggregateSumMessage},
		{name: "within tolerance", rows: []domain.Row{{Pourcentage: pct(99.9999999995)}}, want: ""},
		{name: "outside tolerance", rows: []domain.Row{{Pourcentage: pct(99.9)}}, want: AggregateSumMessage},
		{name: "decimal accumulation", rows: []domain.Row{{Pourcentage: pct(33.3)}, {Pourcentage: pct(33.3)}, {Pourcentage: pct(33.4)}}, want: ""},
		{name: "missing percentage counts as zero", rows: []domain.Row{{Pays: "France", Pourcentage: pct(100)}, {Pays: "Autre"}}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateAggregate(tt.rows); got != tt.want {
				t.Fatalf("ValidateAggregate = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSumPourcentagesNormalizesMissingValues(t *testing.T) {
	rows := []domain.Row{{Pourcentage: pct(25)}, {}, {Pourcentage: pct(5)}}
	if got := SumPourcentages(rows); got != 30 {
		t.Fatalf("sum = %v, want 30", got)
	}
}

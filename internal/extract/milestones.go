package extract

import (
	"fmt"

	"github.com/joseph-ayodele/plan-analyzer/internal/entity"
)

// Milestone is the first policy year whose total surrender value reaches
// Multiple times the total premium paid.
type Milestone struct {
	Multiple   float64
	PolicyYear int
	Total      float64
	Age        *int // insured's age at that year, when known
}

func (m Milestone) String() string {
	s := fmt.Sprintf("total value reaches %.1fx premiums paid in policy year %d (%.0f)", m.Multiple, m.PolicyYear, m.Total)
	if m.Age != nil {
		s += fmt.Sprintf(", insured age %d", *m.Age)
	}
	return s
}

var milestoneMultiples = []float64{1, 2, 3, 5}

// Milestones finds break-even and multiple-of-cost points in a surrender
// table. It needs the annual premium and payment term; otherwise it returns nil.
func Milestones(t *entity.SurrenderTable, info entity.BasicInfo) []Milestone {
	if t == nil || info.AnnualPremium == nil || info.PaymentYears == nil {
		return nil
	}
	cost := float64(*info.AnnualPremium) * float64(*info.PaymentYears)
	if cost <= 0 {
		return nil
	}
	var out []Milestone
	next := 0
	for _, row := range t.Years {
		for next < len(milestoneMultiples) && row.Total >= cost*milestoneMultiples[next] {
			m := Milestone{Multiple: milestoneMultiples[next], PolicyYear: row.PolicyYear, Total: row.Total}
			if info.InsuredAge != nil {
				age := *info.InsuredAge + row.PolicyYear
				m.Age = &age
			}
			out = append(out, m)
			next++
		}
	}
	return out
}

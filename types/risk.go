package types

// RiskClass is a coarse severity bucket for a proposed change,
// totally ordered LOW < MEDIUM < HIGH
type RiskClass string

const (
	RiskLow    RiskClass = "LOW"
	RiskMedium RiskClass = "MEDIUM"
	RiskHigh   RiskClass = "HIGH"
)

// riskRank gives the total order. Unknown classes rank below LOW so
// they can never win a max comparison.
var riskRank = map[RiskClass]int{
	RiskLow:    1,
	RiskMedium: 2,
	RiskHigh:   3,
}

// Valid reports whether the class is one of the three known buckets
func (r RiskClass) Valid() bool {
	_, ok := riskRank[r]
	return ok
}

// Rank returns the position of the class in the total order, 0 if unknown
func (r RiskClass) Rank() int {
	return riskRank[r]
}

// AtLeast reports whether r is as severe as other
func (r RiskClass) AtLeast(other RiskClass) bool {
	return riskRank[r] >= riskRank[other]
}

// Elevate raises the class by exactly one step. HIGH stays HIGH.
func (r RiskClass) Elevate() RiskClass {
	switch r {
	case RiskLow:
		return RiskMedium
	case RiskMedium:
		return RiskHigh
	default:
		return r
	}
}

// MaxRisk returns the most severe class among the arguments.
// Zero arguments yield LOW.
func MaxRisk(classes ...RiskClass) RiskClass {
	max := RiskLow
	for _, c := range classes {
		if riskRank[c] > riskRank[max] {
			max = c
		}
	}
	return max
}

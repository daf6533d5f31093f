package types

// PolicyOutcome is the per-rule result of a policy evaluation
type PolicyOutcome string

const (
	OutcomePass PolicyOutcome = "PASS"
	OutcomeWarn PolicyOutcome = "WARN"
	OutcomeFail PolicyOutcome = "FAIL"
)

var outcomeRank = map[PolicyOutcome]int{
	OutcomePass: 1,
	OutcomeWarn: 2,
	OutcomeFail: 3,
}

// Valid reports whether the outcome is one of PASS, WARN, FAIL
func (o PolicyOutcome) Valid() bool {
	_, ok := outcomeRank[o]
	return ok
}

// WorstOutcome aggregates per-rule outcomes: FAIL if any rule failed,
// else WARN if any rule warned, else PASS. Worst wins, never majority.
func WorstOutcome(outcomes ...PolicyOutcome) PolicyOutcome {
	worst := OutcomePass
	for _, o := range outcomes {
		if outcomeRank[o] > outcomeRank[worst] {
			worst = o
		}
	}
	return worst
}

// Verdict is the aggregated result a policy evaluator hands back:
// one outcome plus the messages of every rule that spoke up.
type Verdict struct {
	Outcome  PolicyOutcome `json:"outcome"`
	Messages []string      `json:"messages,omitempty"`
}

package types

// ScoredTask is the result of evaluating one task against every active
// scorer: the total and a per-scorer breakdown keyed by scorer name (a map,
// so it carries no evaluation order).
type ScoredTask struct {
	Task      Task
	Total     float64
	Breakdown map[string]float64
}

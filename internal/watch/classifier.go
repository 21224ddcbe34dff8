package watch

import (
	"github.com/interpark/mikage/internal/config"
)

// FindGroupErrors returns the outcomes that count as actionable errors for
// one group: key matches the group's pattern and the outcome is a non-200
// status or carries an application error code (NO_INTERNET excluded).
// Pure function, deterministic given its inputs.
func FindGroupErrors(results []Outcome, group *config.Group) []Outcome {
	var errs []Outcome
	for i := range results {
		if group.Matches(results[i].Key) && results[i].IsActionableError() {
			errs = append(errs, results[i])
		}
	}
	return errs
}

// PartitionErrors assigns each actionable error to the first group whose
// pattern matches its key. Rules are evaluated in order, first-match-wins,
// so a key can never feed two incident lifecycles even if a later pattern
// would also match it.
func PartitionErrors(results []Outcome, groups []config.Group) map[string][]Outcome {
	partition := make(map[string][]Outcome)
	for i := range results {
		if !results[i].IsActionableError() {
			continue
		}
		for g := range groups {
			if groups[g].Matches(results[i].Key) {
				name := groups[g].Name
				partition[name] = append(partition[name], results[i])
				break
			}
		}
	}
	return partition
}

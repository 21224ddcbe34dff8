package watch

import (
	"context"
	"fmt"
	"log"
	"sync"

	"gorm.io/gorm"

	"github.com/interpark/mikage/internal/config"
	"github.com/interpark/mikage/internal/database"
)

// CycleResult is the full outcome of one watch cycle: every probe result
// plus the per-group incident handling.
type CycleResult struct {
	Results []Outcome              `json:"results"`
	Groups  map[string]GroupResult `json:"groups"`
}

// Runner executes watch cycles: probe every target concurrently, persist the
// results, then walk the groups sequentially and let the coordinator advance
// each incident.
type Runner struct {
	db          *gorm.DB
	checker     *Checker
	coordinator *Coordinator
	groups      []config.Group

	mu         sync.Mutex
	groupLocks map[string]*sync.Mutex
}

// NewRunner creates a runner over the given group rules.
func NewRunner(db *gorm.DB, checker *Checker, coordinator *Coordinator, groups []config.Group) *Runner {
	return &Runner{
		db:          db,
		checker:     checker,
		coordinator: coordinator,
		groups:      groups,
		groupLocks:  make(map[string]*sync.Mutex),
	}
}

// Run executes one full cycle. Partial failures (a target list read error,
// a failed log insert, a broken notification channel) degrade the result but
// never abort the cycle.
func (r *Runner) Run(ctx context.Context) CycleResult {
	targets, err := database.ListTargets(r.db)
	if err != nil {
		log.Printf("Runner: failed to list targets: %v", err)
		targets = nil
	}

	results := r.probeAll(ctx, targets)
	r.stampNoInternet(ctx, results)

	logs := make([]database.Log, len(results))
	for i := range results {
		logs[i] = results[i].ToLog()
	}
	if err := database.InsertLogs(r.db, logs); err != nil {
		log.Printf("Runner: failed to insert logs: %v", err)
	}

	partition := PartitionErrors(results, r.groups)

	groupResults := make(map[string]GroupResult, len(r.groups))
	for i := range r.groups {
		group := r.groups[i]
		groupResults[group.Name] = r.processGroup(ctx, group, partition[group.Name])
	}

	return CycleResult{Results: results, Groups: groupResults}
}

// processGroup advances one group's incident lifecycle. The open-incident
// read happens inside the group lock: an overlapping cycle that reads before
// taking the lock could see no open incident and open a second one, so read
// and write are never separated by another writer.
func (r *Runner) processGroup(ctx context.Context, group config.Group, errs []Outcome) GroupResult {
	lock := r.lockFor(group.Name)
	lock.Lock()
	defer lock.Unlock()

	incident, err := database.OpenIncidentForGroup(r.db, group.Name)
	if err != nil {
		log.Printf("Runner: failed to load open incident for %s: %v", group.Name, err)
		return GroupResult{Group: group.Name, Failures: []string{fmt.Sprintf("failed to load open incident: %v", err)}}
	}
	return r.coordinator.Process(ctx, group, errs, incident)
}

// probeAll checks every target concurrently and returns the outcomes in
// target order.
func (r *Runner) probeAll(ctx context.Context, targets []database.Target) []Outcome {
	results := make([]Outcome, len(targets))
	var wg sync.WaitGroup
	for i := range targets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.checker.Check(ctx, &targets[i])
		}(i)
	}
	wg.Wait()
	return results
}

// stampNoInternet re-labels probe failures when our own outbound
// connectivity is down. Stamping happens before the log rows are built, so
// both the logs and the classifier see NO_INTERNET instead of the original
// error code: the targets are probably fine, we just cannot see them.
func (r *Runner) stampNoInternet(ctx context.Context, results []Outcome) {
	failed := false
	for i := range results {
		if results[i].IsProbeFailure() {
			failed = true
			break
		}
	}
	if !failed {
		return
	}
	if r.checker.IsNetworkAvailable(ctx) {
		return
	}

	log.Printf("Runner: outbound connectivity is down, marking probe failures as %s", NoInternetCode)
	code := NoInternetCode
	for i := range results {
		if results[i].IsProbeFailure() {
			c := code
			results[i].ErrorCode = &c
		}
	}
}

// lockFor returns the mutex serializing one group's incident handling.
// Overlapping trigger calls may race on probing, but each group's lifecycle
// advances under its own lock (with the conditional store update as the
// final guard).
func (r *Runner) lockFor(name string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.groupLocks[name]
	if !ok {
		lock = &sync.Mutex{}
		r.groupLocks[name] = lock
	}
	return lock
}

package migrate

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Outcome is the terminal result for one volume (or, for restart failures,
// one instance).
type Outcome string

const (
	// OutcomeEncrypted means the volume was replaced with an encrypted copy.
	OutcomeEncrypted Outcome = "ENCRYPTED"
	// OutcomeAlreadyEncrypted means the volume was skipped because its
	// encrypted flag was already set.
	OutcomeAlreadyEncrypted Outcome = "ALREADY_ENCRYPTED"
	// OutcomeFailed means the migration job reached a terminal failure.
	OutcomeFailed Outcome = "FAILED"
	// OutcomeFailedRestart means every volume finished but the instance
	// could not be returned to its original running state. Reported at
	// instance scope, distinct from volume failures.
	OutcomeFailedRestart Outcome = "FAILED_RESTART"
)

// Result is one report entry. VolumeID is empty for instance-scope entries.
type Result struct {
	InstanceID string
	VolumeID   string
	Outcome    Outcome
	Reason     string
}

// Report accumulates per-volume outcomes across all instance coordinators.
// Append-only; safe for concurrent writers.
type Report struct {
	mu      sync.Mutex
	results []Result
}

func NewReport() *Report {
	return &Report{}
}

// Add appends one result.
func (r *Report) Add(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

// Results returns a copy of all recorded results.
func (r *Report) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Result, len(r.results))
	copy(out, r.results)
	return out
}

// Counts returns the number of results per outcome kind.
func (r *Report) Counts() map[Outcome]int {
	counts := make(map[Outcome]int)
	for _, res := range r.Results() {
		counts[res.Outcome]++
	}
	return counts
}

// FailureCount returns the number of FAILED and FAILED_RESTART entries.
func (r *Report) FailureCount() int {
	counts := r.Counts()
	return counts[OutcomeFailed] + counts[OutcomeFailedRestart]
}

// OK reports whether the run finished with zero failures.
func (r *Report) OK() bool {
	return r.FailureCount() == 0
}

// String renders the report as the run's diagnostic surface: one line per
// result, sorted by instance then volume, followed by summary counts.
func (r *Report) String() string {
	results := r.Results()
	sort.Slice(results, func(i, j int) bool {
		if results[i].InstanceID != results[j].InstanceID {
			return results[i].InstanceID < results[j].InstanceID
		}
		return results[i].VolumeID < results[j].VolumeID
	})

	var b strings.Builder
	b.WriteString("Run report:\n")
	if len(results) == 0 {
		b.WriteString("  no volumes targeted\n")
	}
	for _, res := range results {
		target := res.VolumeID
		if target == "" {
			target = res.InstanceID
		}
		if res.Reason != "" {
			fmt.Fprintf(&b, "  %s %s: %s (%s)\n", res.InstanceID, target, res.Outcome, res.Reason)
		} else {
			fmt.Fprintf(&b, "  %s %s: %s\n", res.InstanceID, target, res.Outcome)
		}
	}

	counts := make(map[Outcome]int)
	for _, res := range results {
		counts[res.Outcome]++
	}
	fmt.Fprintf(&b, "Summary: %d encrypted, %d already encrypted, %d failed, %d restart failures\n",
		counts[OutcomeEncrypted], counts[OutcomeAlreadyEncrypted],
		counts[OutcomeFailed], counts[OutcomeFailedRestart])
	return b.String()
}

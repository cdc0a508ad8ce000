package migrate

import (
	"strings"
	"sync"
	"testing"
)

func TestReportCountsAndOK(t *testing.T) {
	r := NewReport()
	r.Add(Result{InstanceID: "i-1", VolumeID: "vol-1", Outcome: OutcomeEncrypted})
	r.Add(Result{InstanceID: "i-1", VolumeID: "vol-2", Outcome: OutcomeAlreadyEncrypted})
	r.Add(Result{InstanceID: "i-2", VolumeID: "vol-3", Outcome: OutcomeFailed, Reason: "snapshot failed"})
	r.Add(Result{InstanceID: "i-2", Outcome: OutcomeFailedRestart, Reason: "failed to restart instance"})

	counts := r.Counts()
	if counts[OutcomeEncrypted] != 1 || counts[OutcomeAlreadyEncrypted] != 1 ||
		counts[OutcomeFailed] != 1 || counts[OutcomeFailedRestart] != 1 {
		t.Fatalf("counts = %v", counts)
	}
	if r.FailureCount() != 2 {
		t.Errorf("FailureCount() = %d, want 2", r.FailureCount())
	}
	if r.OK() {
		t.Errorf("OK() = true with failures present")
	}
}

func TestReportOKWhenNoFailures(t *testing.T) {
	r := NewReport()
	r.Add(Result{InstanceID: "i-1", VolumeID: "vol-1", Outcome: OutcomeEncrypted})
	r.Add(Result{InstanceID: "i-1", VolumeID: "vol-2", Outcome: OutcomeAlreadyEncrypted})
	if !r.OK() {
		t.Errorf("OK() = false without failures")
	}
}

func TestReportString(t *testing.T) {
	r := NewReport()
	// Added out of order; rendering sorts by instance then volume.
	r.Add(Result{InstanceID: "i-2", VolumeID: "vol-3", Outcome: OutcomeFailed, Reason: "timeout waiting for copy"})
	r.Add(Result{InstanceID: "i-1", VolumeID: "vol-1", Outcome: OutcomeEncrypted})

	out := r.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	want := []string{
		"Run report:",
		"  i-1 vol-1: ENCRYPTED",
		"  i-2 vol-3: FAILED (timeout waiting for copy)",
		"Summary: 1 encrypted, 0 already encrypted, 1 failed, 0 restart failures",
	}
	if len(lines) != len(want) {
		t.Fatalf("output:\n%s", out)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestReportStringInstanceScopeEntry(t *testing.T) {
	r := NewReport()
	r.Add(Result{InstanceID: "i-1", Outcome: OutcomeFailedRestart, Reason: "failed to restart instance"})
	out := r.String()
	if !strings.Contains(out, "  i-1 i-1: FAILED_RESTART (failed to restart instance)") {
		t.Errorf("instance-scope entry missing:\n%s", out)
	}
}

func TestReportEmpty(t *testing.T) {
	r := NewReport()
	if !r.OK() {
		t.Error("empty report should be OK")
	}
	if !strings.Contains(r.String(), "no volumes targeted") {
		t.Errorf("empty report output:\n%s", r.String())
	}
}

func TestReportConcurrentAdds(t *testing.T) {
	r := NewReport()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Add(Result{InstanceID: "i-1", VolumeID: "vol-1", Outcome: OutcomeEncrypted})
			}
		}()
	}
	wg.Wait()
	if got := len(r.Results()); got != 400 {
		t.Errorf("results = %d, want 400", got)
	}
}

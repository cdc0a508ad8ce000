package migrate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSchedulerBoundsConcurrency(t *testing.T) {
	f := newFakeProvider()
	f.describeDelay = 20 * time.Millisecond
	for _, id := range []string{"i-1", "i-2", "i-3", "i-4", "i-5", "i-6"} {
		f.addInstance(id, PowerStopped, VolumeMapping{
			VolumeID:  "vol-" + id,
			Device:    "/dev/sda1",
			Encrypted: true,
		})
	}

	sched := NewScheduler(f, testOptions(), 2)
	report, err := sched.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(report.Results()); got != 6 {
		t.Fatalf("results = %d, want 6", got)
	}
	if max := f.maxActive.Load(); max > 2 {
		t.Errorf("observed %d concurrent coordinators, limit is 2", max)
	}
}

func TestSchedulerIsolatesInstanceFailures(t *testing.T) {
	f := newFakeProvider()
	vol := plainVolume()
	f.addInstance("i-bad", PowerStopped, vol)
	good := vol
	good.VolumeID = "vol-good"
	f.addInstance("i-good", PowerStopped, good)
	f.failWhen = func(op, target string) error {
		if op == "CreateSnapshot" && target == "vol-1" {
			return Terminal(op, errors.New("SnapshotLimitExceeded"))
		}
		return nil
	}

	sched := NewScheduler(f, testOptions(), 1)
	report, err := sched.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	counts := report.Counts()
	if counts[OutcomeFailed] != 1 || counts[OutcomeEncrypted] != 1 {
		t.Fatalf("counts = %v, want one failed and one encrypted", counts)
	}
}

func TestSchedulerReportsUnknownInstanceIDs(t *testing.T) {
	f := newFakeProvider()
	f.addInstance("i-1", PowerStopped, plainVolume())

	sched := NewScheduler(f, testOptions(), 1)
	report, err := sched.Run(context.Background(), []string{"i-1", "i-missing"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var missing *Result
	for _, res := range report.Results() {
		if res.InstanceID == "i-missing" {
			r := res
			missing = &r
		}
	}
	if missing == nil {
		t.Fatalf("no entry for the unknown id: %+v", report.Results())
	}
	if missing.Outcome != OutcomeFailed || missing.Reason != "instance not found" {
		t.Errorf("unknown id entry = %+v", *missing)
	}
	// The known instance is still processed.
	if res := outcomeFor(t, report, "vol-1"); res.Outcome != OutcomeEncrypted {
		t.Errorf("vol-1 outcome = %s (%s)", res.Outcome, res.Reason)
	}
}

func TestSchedulerDiscoveryFailureIsFatal(t *testing.T) {
	f := newFakeProvider()
	f.listErr = Transient("DescribeInstances", errors.New("RequestLimitExceeded"))

	sched := NewScheduler(f, testOptions(), 1)
	report, err := sched.Run(context.Background(), nil)
	if err == nil {
		t.Fatal("expected an error when discovery fails")
	}
	if !strings.Contains(err.Error(), "failed to list instances") {
		t.Errorf("error = %v", err)
	}
	if len(report.Results()) != 0 {
		t.Errorf("results = %+v, want none", report.Results())
	}
}

func TestSchedulerCancellationStopsDispatch(t *testing.T) {
	f := newFakeProvider()
	f.describeDelay = 20 * time.Millisecond
	for _, id := range []string{"i-1", "i-2", "i-3", "i-4"} {
		f.addInstance(id, PowerStopped, VolumeMapping{
			VolumeID:  "vol-" + id,
			Device:    "/dev/sda1",
			Encrypted: true,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The single worker holds whatever it picked up; with the context
	// already cancelled the dispatch loop drains instead of queueing the
	// rest.
	sched := NewScheduler(f, testOptions(), 1)
	if _, err := sched.Run(ctx, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(f.callsMatching("DescribeInstanceVolumes")); got > 1 {
		t.Errorf("%d instances dispatched despite cancellation, want at most 1", got)
	}
}

func TestSchedulerEmptyRegion(t *testing.T) {
	f := newFakeProvider()
	sched := NewScheduler(f, testOptions(), 1)
	report, err := sched.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Results()) != 0 {
		t.Errorf("results = %+v, want none", report.Results())
	}
}

package health

import (
	"context"
	"os"
	"testing"

	"github.com/blink-tracker/backend/internal/tracker"
)

func TestReporterStates(t *testing.T) {
	r := NewReporter(nil, 2)
	fail := tracker.Result{Outcome: tracker.DeliveryFailed, Message: "Eye tracking failed: boom"}

	steps := []struct {
		res  tracker.Result
		want State
	}{
		{fail, Healthy},
		{fail, Degraded},
		{fail, Degraded},
		{fail, Failed},
		{tracker.Result{Outcome: tracker.Stopped}, Healthy},
	}
	for i, s := range steps {
		r.Record(s.res)
		if got := r.Snapshot(context.Background()).Status; got != s.want {
			t.Errorf("after step %d: status = %s, want %s", i, got, s.want)
		}
	}

	rep := r.Snapshot(context.Background())
	if rep.Sessions != 5 {
		t.Errorf("sessions = %d", rep.Sessions)
	}
	if rep.LastFailure != "Eye tracking failed: boom" || rep.LastFailureAt == nil {
		t.Errorf("last failure = %q at %v", rep.LastFailure, rep.LastFailureAt)
	}
}

func TestSnapshotIncludesTrackerAndProcess(t *testing.T) {
	r := NewReporter(func() tracker.Status {
		return tracker.Status{Running: true, BlinkCount: 4}
	}, 0)
	rep := r.Snapshot(context.Background())
	if !rep.Tracker.Running || rep.Tracker.BlinkCount != 4 {
		t.Errorf("tracker = %+v", rep.Tracker)
	}
	if rep.Process.PID != 0 && rep.Process.PID != int32(os.Getpid()) {
		t.Errorf("pid = %d, want %d", rep.Process.PID, os.Getpid())
	}
}

package service

import (
	"testing"

	"go.uber.org/zap"
)

func TestLoopDetectorMonotonicity(t *testing.T) {
	d := NewLoopDetectorState(30, 4, 8, 12, zap.NewNop())
	args := map[string]interface{}{"path": "."}

	var firstCritical int
	var breakerCall int
	for i := 1; i <= 14; i++ {
		verdict := d.RegisterCall("directory_list", args)
		if verdict == VerdictCritical && firstCritical == 0 {
			firstCritical = i
		}
		if d.GlobalBreakerTripped() && breakerCall == 0 {
			breakerCall = i
		}
	}

	if firstCritical != 8 {
		t.Fatalf("expected first critical at call 8, got %d", firstCritical)
	}
	if breakerCall != 12 {
		t.Fatalf("expected global breaker at call 12, got %d", breakerCall)
	}
}

func TestLoopDetectorWarningAtFour(t *testing.T) {
	d := NewLoopDetectorState(30, 4, 8, 12, zap.NewNop())
	args := map[string]interface{}{"path": "."}

	var verdicts []Verdict
	for i := 1; i <= 6; i++ {
		verdicts = append(verdicts, d.RegisterCall("directory_list", args))
	}

	if verdicts[2] != VerdictNone {
		t.Fatalf("call 3 should not yet warn, got %v", verdicts[2])
	}
	if verdicts[3] != VerdictWarning {
		t.Fatalf("call 4 should warn, got %v", verdicts[3])
	}
}

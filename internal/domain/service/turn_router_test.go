// Copyright 2026 TurnEngine. All rights reserved.

package service

import (
	"regexp"
	"testing"
)

var alwaysMatchRe = regexp.MustCompile(`.`)

// newHysteresisTestRouter builds a router whose classifier is driven
// entirely by the test via a stub prompt->lane table, bypassing the real
// keyword rules so the hysteresis machine can be exercised in isolation.
func newHysteresisTestRouter(minDwell int) *TurnRouter {
	cfg := DefaultTurnRouterConfig()
	cfg.MinDwell = minDwell
	return NewTurnRouter(cfg)
}

// decideWithClassifier forces the router's classifyOrHeuristic step to
// return lane by using a single always-matching rule, since the public
// Decide only takes a prompt and an override lane.
func decideWithClassifier(r *TurnRouter, lane Lane) RouteDecision {
	r.mu.Lock()
	r.cfg.Rules = []ClassifierRule{{Name: "stub", Pattern: alwaysMatchRe, Lane: lane, Priority: 1}}
	r.mu.Unlock()
	return r.Decide("stub prompt", "")
}

func TestTurnRouter_HysteresisSuppressesAlternation(t *testing.T) {
	r := newHysteresisTestRouter(2)
	sequence := []Lane{LaneFast, LaneHeavy, LaneFast, LaneHeavy}
	wantLanes := []Lane{LaneFast, LaneFast, LaneFast, LaneFast}

	for i, lane := range sequence {
		d := decideWithClassifier(r, lane)
		if d.Lane != wantLanes[i] {
			t.Fatalf("call %d: lane = %s, want %s", i+1, d.Lane, wantLanes[i])
		}
	}
}

func TestTurnRouter_S6LaneHysteresisScenario(t *testing.T) {
	r := newHysteresisTestRouter(2)
	sequence := []Lane{LaneHeavy, LaneFast, LaneHeavy, LaneHeavy}
	wantLanes := []Lane{LaneHeavy, LaneHeavy, LaneHeavy, LaneHeavy}
	wantSources := []DecisionSource{SourceClassifier, SourceHysteresis, SourceHysteresis, SourceClassifier}

	for i, lane := range sequence {
		d := decideWithClassifier(r, lane)
		if d.Lane != wantLanes[i] {
			t.Fatalf("call %d: lane = %s, want %s", i+1, d.Lane, wantLanes[i])
		}
		if d.Source != wantSources[i] {
			t.Fatalf("call %d: source = %s, want %s", i+1, d.Source, wantSources[i])
		}
	}
}

func TestTurnRouter_OverrideBypassesHysteresisAndResetsStreak(t *testing.T) {
	r := newHysteresisTestRouter(2)
	decideWithClassifier(r, LaneHeavy)

	d := r.Decide("anything", LaneFast)
	if d.Lane != LaneFast || d.Source != SourceOverride {
		t.Fatalf("override decision = %+v, want lane=fast source=override", d)
	}

	// After an override, a single differing classifier candidate should
	// not yet flip the lane (streak restarts at 1).
	d2 := decideWithClassifier(r, LaneHeavy)
	if d2.Lane != LaneFast || d2.Source != SourceHysteresis {
		t.Fatalf("post-override decision = %+v, want lane=fast source=hysteresis", d2)
	}
}

func TestTurnRouter_ResetSessionClearsDwellState(t *testing.T) {
	r := newHysteresisTestRouter(2)
	decideWithClassifier(r, LaneHeavy)
	decideWithClassifier(r, LaneFast) // opens a blocked streak

	r.ResetSession()

	d := decideWithClassifier(r, LaneFast)
	if d.Lane != LaneFast || d.Source != SourceClassifier {
		t.Fatalf("first decision after reset = %+v, want lane=fast source=classifier (fresh state)", d)
	}
}

func TestTurnRouter_ComposeTargetsUnionsFallbacksMinusPrimary(t *testing.T) {
	cfg := DefaultTurnRouterConfig()
	cfg.Lanes[LaneHeavy] = LaneConfig{
		Model:          "heavy-default",
		FallbackModels: []string{"heavy-default", "heavy-backup-a"},
		Providers: []ProviderLaneConfig{
			{Provider: "primary", Model: "heavy-primary-model", FallbackModels: []string{"heavy-primary-model", "heavy-backup-b"}},
			{Provider: "secondary"},
		},
	}
	r := NewTurnRouter(cfg)

	d := decideWithClassifier(r, LaneHeavy)
	if len(d.Targets) != 2 {
		t.Fatalf("expected 2 targets, got %d: %+v", len(d.Targets), d.Targets)
	}

	primary := d.Targets[0]
	if primary.Provider != "primary" || primary.Model != "heavy-primary-model" {
		t.Fatalf("primary target = %+v", primary)
	}
	wantFallbacks := map[string]bool{"heavy-backup-a": true, "heavy-backup-b": true}
	if len(primary.FallbackModels) != len(wantFallbacks) {
		t.Fatalf("primary fallbacks = %v, want 2 entries not equal to primary model", primary.FallbackModels)
	}
	for _, m := range primary.FallbackModels {
		if m == primary.Model {
			t.Fatalf("fallback list must not contain the primary model, got %v", primary.FallbackModels)
		}
		if !wantFallbacks[m] {
			t.Fatalf("unexpected fallback model %q in %v", m, primary.FallbackModels)
		}
	}

	secondary := d.Targets[1]
	if secondary.Provider != "secondary" || secondary.Model != "heavy-default" {
		t.Fatalf("secondary target = %+v, want model to default to lane model", secondary)
	}
}

func TestParseLane(t *testing.T) {
	cases := map[string]Lane{
		"fast":  LaneFast,
		"HEAVY": LaneHeavy,
		" fast ": LaneFast,
		"":      "",
		"auto":  "",
	}
	for in, want := range cases {
		if got := ParseLane(in); got != want {
			t.Errorf("ParseLane(%q) = %q, want %q", in, got, want)
		}
	}
}

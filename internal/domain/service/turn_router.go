// Copyright 2026 TurnEngine. All rights reserved.

package service

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Lane selects which speed/capability tier a turn should run on.
type Lane string

const (
	LaneFast  Lane = "fast"
	LaneHeavy Lane = "heavy"
)

// DecisionSource records which mechanism actually produced a routing
// decision, independent of which lane it produced.
type DecisionSource string

const (
	SourceOverride   DecisionSource = "override"
	SourceClassifier DecisionSource = "classifier"
	SourceHeuristic  DecisionSource = "heuristic"
	SourceHysteresis DecisionSource = "hysteresis"
)

// LaneTarget is one provider to try for a lane, with its resolved model and
// ordered fallback models (primary excluded, duplicates removed).
type LaneTarget struct {
	Provider       string
	Model          string
	FallbackModels []string
}

// RouteDecision is the result of TurnRouter.Decide.
type RouteDecision struct {
	Lane    Lane
	Source  DecisionSource
	Targets []LaneTarget
}

// ClassifierRule matches a prompt against a keyword/regex pattern and, when
// matched, proposes a lane. Rules are evaluated in descending Priority
// order (highest first); the first matching rule within length bounds wins.
type ClassifierRule struct {
	Name      string
	Pattern   *regexp.Regexp
	Lane      Lane
	Priority  int
	MinLength int // 0 = no minimum
	MaxLength int // 0 = no maximum
}

// ProviderLaneConfig is one provider configured under a lane, in the order
// it should be tried (primary first, then fallbacks).
type ProviderLaneConfig struct {
	Provider string
	// Model overrides the lane's default model for this provider; empty
	// means use the lane's Model.
	Model string
	// FallbackModels are this provider's own per-model fallbacks, unioned
	// with the lane's FallbackModels when composing targets.
	FallbackModels []string
}

// LaneConfig configures one lane's default model, fallback models, and the
// ordered list of providers (primary + fallback providers) that serve it.
type LaneConfig struct {
	Model          string
	FallbackModels []string
	Providers      []ProviderLaneConfig
}

// TurnRouterConfig configures classifier rules, heuristic thresholds, lane
// definitions, and the hysteresis dwell requirement.
type TurnRouterConfig struct {
	Rules    []ClassifierRule
	Lanes    map[Lane]LaneConfig
	MinDwell int // default 2 if <= 0
	// HeuristicPromptLengthThreshold: prompts longer than this (in runes)
	// lean heavy, all else equal.
	HeuristicPromptLengthThreshold int
}

// DefaultTurnRouterConfig returns a baseline rule set: code blocks, file
// references, and multi-step instructions lean heavy; short one-liners and
// simple lookups lean fast.
func DefaultTurnRouterConfig() TurnRouterConfig {
	return TurnRouterConfig{
		MinDwell:                       2,
		HeuristicPromptLengthThreshold: 400,
		Rules: []ClassifierRule{
			{Name: "explicit_heavy_keyword", Pattern: regexp.MustCompile(`(?i)\b(refactor|architect|design a|comprehensive|in depth|deep dive|investigate|audit)\b`), Lane: LaneHeavy, Priority: 100},
			{Name: "explicit_fast_keyword", Pattern: regexp.MustCompile(`(?i)\b(quick|simple|just|briefly|tl;dr)\b`), Lane: LaneFast, Priority: 90, MaxLength: 200},
			{Name: "code_block", Pattern: regexp.MustCompile("```"), Lane: LaneHeavy, Priority: 80},
			{Name: "file_reference", Pattern: regexp.MustCompile(`(?i)\b[\w./-]+\.(go|py|js|ts|java|rs|rb|c|cpp|h|yaml|yml|json)\b`), Lane: LaneHeavy, Priority: 50},
		},
		Lanes: map[Lane]LaneConfig{
			LaneFast:  {Model: "fast-default"},
			LaneHeavy: {Model: "heavy-default"},
		},
	}
}

// TurnRouter decides which lane (and resolved provider targets) should
// serve each turn. It enforces override > classifier > heuristic
// precedence and a dwell-based hysteresis that suppresses rapid lane
// flapping, per the stateful dwell machine below.
//
// Dwell semantics: a lane switch away from the classifier/heuristic's
// raw candidate is only honored once that exact candidate value has been
// proposed MinDwell times in a row (comparing the raw candidate to the
// PREVIOUS call's raw candidate, not to the currently active lane). Until
// that streak is reached, the decision is reported with Source =
// SourceHysteresis and the active lane is left unchanged — even on calls
// where the raw candidate happens to already match the active lane.
// Override bypasses this machine entirely and also resets the streak.
type TurnRouter struct {
	cfg TurnRouterConfig

	mu             sync.Mutex
	hasLane        bool
	currentLane    Lane
	prevCandidate  Lane
	hasPrevCand    bool
	candidateStreak int
}

// NewTurnRouter builds a router from cfg, defaulting MinDwell to 2.
func NewTurnRouter(cfg TurnRouterConfig) *TurnRouter {
	if cfg.MinDwell <= 0 {
		cfg.MinDwell = 2
	}
	return &TurnRouter{cfg: cfg}
}

// ResetSession clears all dwell/streak state, as on a fresh session.
func (r *TurnRouter) ResetSession() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hasLane = false
	r.hasPrevCand = false
	r.candidateStreak = 0
}

// Decide routes a single turn. requestedLane is the caller's explicit
// override request ("fast"/"heavy"/"" for none).
func (r *TurnRouter) Decide(prompt string, requestedLane Lane) RouteDecision {
	r.mu.Lock()
	defer r.mu.Unlock()

	if requestedLane == LaneFast || requestedLane == LaneHeavy {
		r.currentLane = requestedLane
		r.hasLane = true
		r.hasPrevCand = false
		r.candidateStreak = 0
		return RouteDecision{Lane: requestedLane, Source: SourceOverride, Targets: r.composeTargets(requestedLane)}
	}

	candidate, source := r.classifyOrHeuristic(prompt)

	if !r.hasLane {
		// First decision this session: nothing to debounce against yet.
		r.currentLane = candidate
		r.hasLane = true
		r.prevCandidate = candidate
		r.hasPrevCand = true
		r.candidateStreak = 1
		return RouteDecision{Lane: candidate, Source: source, Targets: r.composeTargets(candidate)}
	}

	if r.hasPrevCand && candidate == r.prevCandidate {
		r.candidateStreak++
	} else {
		r.candidateStreak = 1
		r.prevCandidate = candidate
		r.hasPrevCand = true
	}

	if r.candidateStreak >= r.cfg.MinDwell {
		r.currentLane = candidate
		return RouteDecision{Lane: candidate, Source: source, Targets: r.composeTargets(candidate)}
	}

	return RouteDecision{Lane: r.currentLane, Source: SourceHysteresis, Targets: r.composeTargets(r.currentLane)}
}

// classifyOrHeuristic runs the keyword classifier first; if no rule
// matches within its length bounds, falls back to the length/structure
// heuristic. Never returns SourceOverride.
func (r *TurnRouter) classifyOrHeuristic(prompt string) (Lane, DecisionSource) {
	if lane, ok := r.runClassifier(prompt); ok {
		return lane, SourceClassifier
	}
	return r.runHeuristic(prompt), SourceHeuristic
}

// runClassifier evaluates rules in descending priority order and returns
// the first match whose length constraints are satisfied.
func (r *TurnRouter) runClassifier(prompt string) (Lane, bool) {
	n := len(prompt)
	best := -1
	var bestLane Lane
	for _, rule := range r.cfg.Rules {
		if rule.MinLength > 0 && n < rule.MinLength {
			continue
		}
		if rule.MaxLength > 0 && n > rule.MaxLength {
			continue
		}
		if rule.Pattern == nil || !rule.Pattern.MatchString(prompt) {
			continue
		}
		if rule.Priority > best {
			best = rule.Priority
			bestLane = rule.Lane
		}
	}
	if best < 0 {
		return "", false
	}
	return bestLane, true
}

// codeBlockRe and commandCategoryRe back the structural heuristic below.
var codeBlockRe = regexp.MustCompile("```")
var complexInstructionRe = regexp.MustCompile(`(?i)\b(then|after that|first|second|finally|step \d)\b`)
var commandCategoryRe = regexp.MustCompile(`(?i)^/?(run|exec|build|deploy|migrate)\b`)
var fileReferenceRe = regexp.MustCompile(`(?i)\b[\w./-]+\.(go|py|js|ts|java|rs|rb|c|cpp|h|yaml|yml|json)\b`)

// runHeuristic estimates complexity from prompt length, a rough token
// count, code-block/file-reference/multi-step-instruction detectors, and
// command category, choosing heavy when any signal indicates complexity.
func (r *TurnRouter) runHeuristic(prompt string) Lane {
	runeLen := len([]rune(prompt))
	estimatedTokens := estimateTokens(prompt)

	threshold := r.cfg.HeuristicPromptLengthThreshold
	if threshold <= 0 {
		threshold = 400
	}

	if runeLen > threshold {
		return LaneHeavy
	}
	if estimatedTokens > threshold/3 {
		return LaneHeavy
	}
	if codeBlockRe.MatchString(prompt) {
		return LaneHeavy
	}
	if fileReferenceRe.MatchString(prompt) {
		return LaneHeavy
	}
	if complexInstructionRe.MatchString(prompt) {
		return LaneHeavy
	}
	if commandCategoryRe.MatchString(strings.TrimSpace(prompt)) {
		return LaneHeavy
	}
	return LaneFast
}

// estimateTokens approximates token count as runes/4, the same rough ratio
// EstimateMessageTokens uses for compaction budgeting.
func estimateTokens(s string) int {
	return len([]rune(s)) / 4
}

// composeTargets builds the ordered provider target list for lane: the
// lane's primary provider followed by its configured fallback providers.
// Each target's effective model is the provider's override model or the
// lane's model; effective fallback models union the lane's fallbacks with
// the provider's own, minus the primary model.
func (r *TurnRouter) composeTargets(lane Lane) []LaneTarget {
	cfg, ok := r.cfg.Lanes[lane]
	if !ok {
		return nil
	}

	targets := make([]LaneTarget, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		model := p.Model
		if model == "" {
			model = cfg.Model
		}

		seen := map[string]bool{model: true}
		fallbacks := make([]string, 0, len(cfg.FallbackModels)+len(p.FallbackModels))
		for _, m := range cfg.FallbackModels {
			if !seen[m] {
				seen[m] = true
				fallbacks = append(fallbacks, m)
			}
		}
		for _, m := range p.FallbackModels {
			if !seen[m] {
				seen[m] = true
				fallbacks = append(fallbacks, m)
			}
		}

		targets = append(targets, LaneTarget{
			Provider:       p.Provider,
			Model:          model,
			FallbackModels: fallbacks,
		})
	}
	return targets
}

// ParseLane normalizes a caller-supplied mode string ("fast"/"heavy") into
// a Lane, returning "" for anything else (no override requested).
func ParseLane(s string) Lane {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fast":
		return LaneFast
	case "heavy":
		return LaneHeavy
	default:
		return ""
	}
}

// formatDwell renders the current streak/threshold, used in diagnostics.
func (r *TurnRouter) formatDwell() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strconv.Itoa(r.candidateStreak) + "/" + strconv.Itoa(r.cfg.MinDwell)
}

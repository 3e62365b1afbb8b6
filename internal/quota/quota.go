// Package quota decides whether a user may perform a tier-limited action,
// using only the locally stored subscription snapshot.
package quota

import (
	"context"
	"fmt"

	"github.com/dukerupert/ideacapture/internal/model"
)

// Unlimited is the MaxIdeas sentinel for tiers without an idea cap.
const Unlimited = -1

// Limits is the fixed entitlement table row for one tier.
type Limits struct {
	MaxIdeas               int
	MaxRecordingMinutes    int
	MaxRefinementQuestions int
	ValidationAllowed      bool
}

var tierLimits = map[model.Tier]Limits{
	model.TierFree: {
		MaxIdeas:               10,
		MaxRecordingMinutes:    2,
		MaxRefinementQuestions: 3,
		ValidationAllowed:      false,
	},
	model.TierPro: {
		MaxIdeas:               Unlimited,
		MaxRecordingMinutes:    5,
		MaxRefinementQuestions: 5,
		ValidationAllowed:      true,
	},
}

// LimitsFor returns the limits for a tier. Unknown tiers get free limits.
func LimitsFor(tier model.Tier) Limits {
	if l, ok := tierLimits[tier]; ok {
		return l
	}
	return tierLimits[model.TierFree]
}

// Action is a quota-gated operation.
type Action string

const (
	ActionCreateIdea Action = "create_idea"
	ActionRefinement Action = "refinement"
	ActionValidation Action = "validation"
)

func ParseAction(s string) (Action, bool) {
	switch a := Action(s); a {
	case ActionCreateIdea, ActionRefinement, ActionValidation:
		return a, true
	}
	return "", false
}

// Decision is the result of Evaluate.
type Decision struct {
	CanCreateIdea     bool       `json:"can_create_idea"`
	CanUseRefinement  bool       `json:"can_use_refinement"`
	CanUseValidation  bool       `json:"can_use_validation"`
	CurrentIdeasCount int        `json:"current_ideas_count"`
	MaxIdeas          int        `json:"max_ideas"`
	Tier              model.Tier `json:"subscription_tier"`
}

// Allows returns nil when the action is permitted, or a *LimitError naming
// the limit that was hit.
func (d Decision) Allows(a Action) error {
	var limit string
	switch a {
	case ActionCreateIdea:
		if !d.CanCreateIdea {
			limit = "max_ideas"
		}
	case ActionRefinement:
		if !d.CanUseRefinement {
			limit = "refinement"
		}
	case ActionValidation:
		if !d.CanUseValidation {
			limit = "validation"
		}
	default:
		return fmt.Errorf("unknown action %q", a)
	}
	if limit == "" {
		return nil
	}
	return &LimitError{
		Action:  a,
		Limit:   limit,
		Current: d.CurrentIdeasCount,
		Max:     d.MaxIdeas,
		Tier:    d.Tier,
	}
}

// LimitError reports a denied action with enough context for the client to
// render an upgrade prompt.
type LimitError struct {
	Action  Action     `json:"action"`
	Limit   string     `json:"limit"`
	Current int        `json:"current_ideas_count"`
	Max     int        `json:"max_ideas"`
	Tier    model.Tier `json:"subscription_tier"`
}

func (e *LimitError) Error() string {
	if e.Action == ActionCreateIdea {
		return fmt.Sprintf("idea limit reached: %d of %d on the %s plan", e.Current, e.Max, e.Tier)
	}
	return fmt.Sprintf("%s is not available on the %s plan", e.Action, e.Tier)
}

// SnapshotStore is the storage the gate needs.
type SnapshotStore interface {
	GetOrCreate(ctx context.Context, userID string) (*model.Snapshot, error)
	IncrementIdeas(ctx context.Context, userID string) (int, error)
	DecrementIdeas(ctx context.Context, userID string) (int, error)
	ResetIdeas(ctx context.Context, userID string) (int, error)
}

type Gate struct {
	store SnapshotStore
}

func NewGate(s SnapshotStore) *Gate {
	return &Gate{store: s}
}

// Evaluate reads the user's snapshot (creating a free one if absent) and
// computes what the user may do. It has no other side effects.
func (g *Gate) Evaluate(ctx context.Context, userID string) (Decision, error) {
	snap, err := g.store.GetOrCreate(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("evaluate quota: %w", err)
	}
	return Decide(snap), nil
}

// Decide computes a Decision from a snapshot.
func Decide(snap *model.Snapshot) Decision {
	tier := snap.Tier
	if _, ok := tierLimits[tier]; !ok {
		tier = model.TierFree
	}
	limits := tierLimits[tier]

	// The stored counter may drift below zero; the stored value is left as is.
	count := max(snap.IdeasCount, 0)

	return Decision{
		CanCreateIdea:     limits.MaxIdeas == Unlimited || count < limits.MaxIdeas,
		CanUseRefinement:  true,
		CanUseValidation:  limits.ValidationAllowed,
		CurrentIdeasCount: count,
		MaxIdeas:          limits.MaxIdeas,
		Tier:              tier,
	}
}

// Check evaluates the gate and returns a *LimitError if the action is denied.
func (g *Gate) Check(ctx context.Context, userID string, a Action) (Decision, error) {
	d, err := g.Evaluate(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	return d, d.Allows(a)
}

// MaxRefinementQuestions returns how many refinement questions the user's tier allows.
func (g *Gate) MaxRefinementQuestions(ctx context.Context, userID string) (int, error) {
	d, err := g.Evaluate(ctx, userID)
	if err != nil {
		return 0, err
	}
	return LimitsFor(d.Tier).MaxRefinementQuestions, nil
}

// MaxRecordingMinutes returns the voice recording cap for the user's tier.
func (g *Gate) MaxRecordingMinutes(ctx context.Context, userID string) (int, error) {
	d, err := g.Evaluate(ctx, userID)
	if err != nil {
		return 0, err
	}
	return LimitsFor(d.Tier).MaxRecordingMinutes, nil
}

// Increment records a created idea. Callers that already completed the
// primary write should log a failure here and carry on.
func (g *Gate) Increment(ctx context.Context, userID string) (int, error) {
	n, err := g.store.IncrementIdeas(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("increment ideas: %w", err)
	}
	return n, nil
}

func (g *Gate) Decrement(ctx context.Context, userID string) (int, error) {
	n, err := g.store.DecrementIdeas(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("decrement ideas: %w", err)
	}
	return n, nil
}

// Reset zeroes the counter after all of a user's ideas are deleted.
func (g *Gate) Reset(ctx context.Context, userID string) error {
	if _, err := g.store.ResetIdeas(ctx, userID); err != nil {
		return fmt.Errorf("reset ideas: %w", err)
	}
	return nil
}

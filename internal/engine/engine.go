package engine

import (
	"errors"
	"fmt"
	"slices"

	"github.com/DoyleJ11/meeting-sync/pkg/types"
)

var ErrIllegalTransition = errors.New("illegal phase transition")
var ErrMeetingEnded = errors.New("meeting already ended")

type Phase string

const (
	PhaseEmpty                Phase = "empty"
	PhaseWaiting              Phase = "waitingForParticipants"
	PhaseChoosingVotingFormat Phase = "choosingVotingFormat"
	PhaseChoosingModerators   Phase = "choosingModerators"
	PhaseMainDiscussion       Phase = "mainDiscussion"
	PhaseDecisionDiscussion   Phase = "decisionDiscussion"
	PhaseDecisionVote         Phase = "decisionVote"
	PhaseEnded                Phase = "ended"
)

var Phases = []Phase{
	PhaseEmpty, PhaseWaiting, PhaseChoosingVotingFormat, PhaseChoosingModerators,
	PhaseMainDiscussion, PhaseDecisionDiscussion, PhaseDecisionVote, PhaseEnded,
}

func ParsePhase(s string) (Phase, bool) {
	p := Phase(s)
	return p, slices.Contains(Phases, p)
}

// InDiscussion reports whether the meeting is past moderator election and
// can therefore be ended.
func (p Phase) InDiscussion() bool {
	return p == PhaseMainDiscussion || p == PhaseDecisionDiscussion || p == PhaseDecisionVote
}

// Procedural reports whether the phase is driven by a leader-run vote.
func (p Phase) Procedural() bool {
	return p == PhaseChoosingVotingFormat || p == PhaseChoosingModerators
}

// CanAdvance reports whether to is reachable from from in one step.
func CanAdvance(from, to Phase) bool {
	return slices.ContainsFunc(Transitions, func(t Transition) bool {
		return t.From == from && t.To == to
	})
}

// Advance validates a single step of the phase cycle.
func Advance(from, to Phase) (Phase, error) {
	if from == PhaseEnded {
		return from, ErrMeetingEnded
	}
	if !CanAdvance(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return to, nil
}

// Next returns the default successor of from, the one reached without an
// explicit moderator action or end announcement.
func Next(from Phase) (Phase, bool) {
	for _, t := range Transitions {
		if t.From == from && t.Default {
			return t.To, true
		}
	}
	return from, false
}

// Announcement returns the tag that announces entering to, if entering it is
// broadcast at all.
func Announcement(to Phase) (types.Tag, bool) {
	for _, t := range Transitions {
		if t.To == to && t.Announce != "" {
			return t.Announce, true
		}
	}
	return "", false
}

// Announced returns the phase a phase-announcement tag moves to.
func Announced(tag types.Tag) (Phase, bool) {
	for _, t := range Transitions {
		if t.Announce == tag {
			return t.To, true
		}
	}
	return "", false
}

package engine

import (
	"errors"
	"testing"

	"github.com/DoyleJ11/meeting-sync/pkg/types"
)

func reachable(from Phase) []Phase {
	var out []Phase
	for _, p := range Phases {
		if CanAdvance(from, p) {
			out = append(out, p)
		}
	}
	return out
}

func TestDefaultCycle(t *testing.T) {
	want := []Phase{
		PhaseEmpty,
		PhaseWaiting,
		PhaseChoosingVotingFormat,
		PhaseChoosingModerators,
		PhaseMainDiscussion,
		PhaseDecisionDiscussion,
		PhaseDecisionVote,
		PhaseMainDiscussion,
	}

	p := want[0]
	for i, next := range want[1:] {
		got, ok := Next(p)
		if !ok || got != next {
			t.Fatalf("step %d: Next(%s) = %s, %v; want %s", i, p, got, ok, next)
		}
		p = got
	}
}

func TestMainDiscussionOnlyReachesDecisionOrEnd(t *testing.T) {
	got := reachable(PhaseMainDiscussion)
	if len(got) != 2 || got[0] != PhaseDecisionDiscussion || got[1] != PhaseEnded {
		t.Fatalf("reachable from mainDiscussion: %v", got)
	}
}

func TestChoosingModeratorsNeverReentered(t *testing.T) {
	for _, from := range []Phase{PhaseMainDiscussion, PhaseDecisionDiscussion, PhaseDecisionVote, PhaseEnded} {
		if CanAdvance(from, PhaseChoosingModerators) {
			t.Fatalf("choosingModerators reachable from %s", from)
		}
	}
}

func TestEndedIsTerminal(t *testing.T) {
	if got := reachable(PhaseEnded); len(got) != 0 {
		t.Fatalf("ended should be terminal, reaches %v", got)
	}
	if _, err := Advance(PhaseEnded, PhaseMainDiscussion); !errors.Is(err, ErrMeetingEnded) {
		t.Fatalf("want ErrMeetingEnded, got %v", err)
	}
}

func TestAdvance(t *testing.T) {
	cases := []struct {
		name    string
		from    Phase
		to      Phase
		wantErr bool
	}{
		{name: "waiting to voting format", from: PhaseWaiting, to: PhaseChoosingVotingFormat},
		{name: "end from decision vote", from: PhaseDecisionVote, to: PhaseEnded},
		{name: "cannot skip voting format", from: PhaseWaiting, to: PhaseChoosingModerators, wantErr: true},
		{name: "cannot end before discussion", from: PhaseChoosingModerators, to: PhaseEnded, wantErr: true},
		{name: "self loop is not a step", from: PhaseMainDiscussion, to: PhaseMainDiscussion, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Advance(tc.from, tc.to)
			if tc.wantErr {
				if !errors.Is(err, ErrIllegalTransition) {
					t.Fatalf("want ErrIllegalTransition, got %v", err)
				}
				if got != tc.from {
					t.Fatalf("failed advance should stay at %s, got %s", tc.from, got)
				}
				return
			}
			if err != nil || got != tc.to {
				t.Fatalf("Advance(%s, %s) = %s, %v", tc.from, tc.to, got, err)
			}
		})
	}
}

func TestAnnouncements(t *testing.T) {
	cases := []struct {
		tag  types.Tag
		want Phase
	}{
		{tag: types.TagMeetingStart, want: PhaseWaiting},
		{tag: types.TagChooseVotingFormatPhase, want: PhaseChoosingVotingFormat},
		{tag: types.TagChooseModsPhase, want: PhaseChoosingModerators},
		{tag: types.TagMeetingDiscussionPhase, want: PhaseMainDiscussion},
		{tag: types.TagStartDecisionProcess, want: PhaseDecisionDiscussion},
		{tag: types.TagEndMeeting, want: PhaseEnded},
	}

	for _, tc := range cases {
		got, ok := Announced(tc.tag)
		if !ok || got != tc.want {
			t.Fatalf("Announced(%s) = %s, %v; want %s", tc.tag, got, ok, tc.want)
		}
		tag, ok := Announcement(tc.want)
		if !ok || tag != tc.tag {
			t.Fatalf("Announcement(%s) = %s, %v; want %s", tc.want, tag, ok, tc.tag)
		}
	}

	if _, ok := Announced(types.TagText); ok {
		t.Fatalf("text is not a phase announcement")
	}
}

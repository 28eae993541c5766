package engine

import "github.com/DoyleJ11/meeting-sync/pkg/types"

type Authority string

const (
	// AuthorityLeader: only the oldest participant may announce it.
	AuthorityLeader Authority = "leader"
	// AuthorityModerator: only a moderator may announce it.
	AuthorityModerator Authority = "moderator"
	// AuthorityModeratorOrLeader: a moderator or the oldest participant.
	AuthorityModeratorOrLeader Authority = "moderatorOrLeader"
	// AuthorityLocal: each client takes the step on its own.
	AuthorityLocal Authority = "local"
)

type Transition struct {
	From     Phase
	To       Phase
	Announce types.Tag
	By       Authority
	Default  bool
}

// Transitions is the whole phase graph. Anything not listed is illegal.
var Transitions = []Transition{
	{From: PhaseEmpty, To: PhaseWaiting, Announce: types.TagMeetingStart, By: AuthorityLeader, Default: true},
	{From: PhaseWaiting, To: PhaseChoosingVotingFormat, Announce: types.TagChooseVotingFormatPhase, By: AuthorityLeader, Default: true},
	{From: PhaseChoosingVotingFormat, To: PhaseChoosingModerators, Announce: types.TagChooseModsPhase, By: AuthorityLeader, Default: true},
	{From: PhaseChoosingModerators, To: PhaseMainDiscussion, Announce: types.TagMeetingDiscussionPhase, By: AuthorityLeader, Default: true},
	{From: PhaseMainDiscussion, To: PhaseDecisionDiscussion, Announce: types.TagStartDecisionProcess, By: AuthorityModerator, Default: true},
	{From: PhaseDecisionDiscussion, To: PhaseDecisionVote, Announce: types.TagNewVote, By: AuthorityModerator, Default: true},
	{From: PhaseDecisionVote, To: PhaseMainDiscussion, By: AuthorityLocal, Default: true},

	{From: PhaseMainDiscussion, To: PhaseEnded, Announce: types.TagEndMeeting, By: AuthorityModeratorOrLeader},
	{From: PhaseDecisionDiscussion, To: PhaseEnded, Announce: types.TagEndMeeting, By: AuthorityModeratorOrLeader},
	{From: PhaseDecisionVote, To: PhaseEnded, Announce: types.TagEndMeeting, By: AuthorityModeratorOrLeader},
}

// Lookup returns the transition edge from -> to.
func Lookup(from, to Phase) (Transition, bool) {
	for _, t := range Transitions {
		if t.From == from && t.To == to {
			return t, true
		}
	}
	return Transition{}, false
}

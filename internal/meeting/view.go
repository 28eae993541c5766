package meeting

import (
	"slices"

	"github.com/DoyleJ11/meeting-sync/internal/engine"
	"github.com/DoyleJ11/meeting-sync/internal/roster"
	"github.com/DoyleJ11/meeting-sync/internal/vote"
)

// View is a detached copy of the state for rendering. Holding on to it does
// not keep the coordinator's state alive or let callers mutate it.
type View struct {
	Self          string
	Leader        string
	Phase         engine.Phase
	SyncTimestamp int64
	Joined        bool
	Roster        []roster.Participant
	Ready         []string
	Chat          []ChatMessage
	VotingMode    vote.Mode
	Vote          *VoteView
}

type VoteView struct {
	ID          string
	Title       string
	Description string
	Mode        vote.Mode
	Effect      vote.Effect
	Finished    bool
	Items       []ItemView
	// Winner and Valid reflect the live tally until the vote finishes.
	Winner string
	Valid  bool
}

type ItemView struct {
	ID          string
	Description string
	Count       int
	Voters      []string
	Selected    bool
}

func (c *Coordinator) View() View {
	s := &c.state
	v := View{
		Self:          c.self.ID,
		Phase:         s.Phase,
		SyncTimestamp: s.SyncTimestamp,
		Joined:        c.joined,
		Roster:        s.Roster.Members(),
		Chat:          slices.Clone(s.ChatLog),
		VotingMode:    s.VotingMode,
	}
	if leader, ok := s.Roster.Leader(); ok {
		v.Leader = leader.ID
	}
	for id, ok := range s.Ready {
		if ok {
			v.Ready = append(v.Ready, id)
		}
	}
	slices.Sort(v.Ready)
	if s.CurrentVote != nil {
		v.Vote = voteView(s.CurrentVote, s.Roster.Len())
	}
	return v
}

func voteView(v *vote.Vote, rosterSize int) *VoteView {
	out := &VoteView{
		ID:          v.ID,
		Title:       v.Title,
		Description: v.Description,
		Mode:        v.Mode,
		Effect:      v.Effect,
		Finished:    v.Finished,
		Items:       make([]ItemView, 0, len(v.Items)),
	}
	for _, it := range v.Items {
		out.Items = append(out.Items, ItemView{
			ID:          it.ID,
			Description: it.Description,
			Count:       it.Count(),
			Voters:      it.Voters(),
			Selected:    it.Selected(),
		})
	}

	res := v.Result
	if res == nil {
		live := v.ComputeResult(rosterSize)
		res = &live
	}
	out.Valid = res.Valid
	if res.Winner != nil {
		out.Winner = res.Winner.ID
	}
	return out
}

package vote

import (
	"maps"

	"github.com/DoyleJ11/meeting-sync/pkg/types"
)

// ToWire converts v for a newVote, phase or syncMeeting message. Ballots are
// included so a snapshot carries live tallies.
func ToWire(v *Vote) types.Vote {
	w := types.Vote{
		ID:         v.ID,
		Title:      v.Title,
		Desc:       v.Description,
		Mode:       string(v.Mode),
		Effect:     string(v.Effect),
		VoteItems:  make([]types.VoteItem, 0, len(v.Items)),
		IsFinished: v.Finished,
	}
	if v.Finished && v.Result != nil && v.Result.Winner != nil {
		w.WinnerID = v.Result.Winner.ID
	}
	for _, it := range v.Items {
		wi := types.VoteItem{
			ID:      it.ID,
			Desc:    it.Description,
			Payload: maps.Clone(it.Payload),
		}
		if it.Count() > 0 {
			wi.Ballots = it.Voters()
		}
		w.VoteItems = append(w.VoteItems, wi)
	}
	return w
}

// FromWire rebuilds a vote from its wire form, reusing every transmitted id.
// A finished vote keeps the winner its sender decided on; the local roster
// may have grown since, so validity is not re-derived from it. Its effect is
// not re-applied: the sender's snapshot already reflects it. rosterSize only
// serves votes finished without a winnerID.
func FromWire(w types.Vote, rosterSize int) *Vote {
	spec := Spec{
		ID:          w.ID,
		Title:       w.Title,
		Description: w.Desc,
		Mode:        Mode(w.Mode),
		Effect:      Effect(w.Effect),
	}
	for _, wi := range w.VoteItems {
		spec.Items = append(spec.Items, ItemSpec{
			ID:          wi.ID,
			Description: wi.Desc,
			Payload:     maps.Clone(wi.Payload),
			Ballots:     wi.Ballots,
		})
	}
	v := New(spec)
	if !w.IsFinished {
		return v
	}

	res := v.ComputeResult(rosterSize)
	if winner, ok := v.Item(w.WinnerID); ok {
		res.Winner = winner
	}
	if res.Winner == nil {
		return v
	}
	res.Valid = true
	v.Finished = true
	v.Result = &res
	return v
}

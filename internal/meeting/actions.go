package meeting

import (
	"context"
	"fmt"

	"github.com/DoyleJ11/meeting-sync/internal/engine"
	"github.com/DoyleJ11/meeting-sync/internal/roster"
	"github.com/DoyleJ11/meeting-sync/internal/vote"
	"github.com/DoyleJ11/meeting-sync/pkg/types"
)

// Local actions mutate local state first and broadcast second. The returned
// error only ever reports a failed precondition; send failures are logged.

// SendText posts a chat line. It shows up in the log when the room echoes it
// back, so every client sees the same order.
func (c *Coordinator) SendText(ctx context.Context, text string) error {
	if !c.joined {
		return ErrNotJoined
	}
	c.send(ctx, types.Text{Text: text})
	return nil
}

func (c *Coordinator) MarkReady(ctx context.Context) error {
	if !c.joined {
		return ErrNotJoined
	}
	if c.state.Phase != engine.PhaseEmpty && c.state.Phase != engine.PhaseWaiting {
		return fmt.Errorf("%w: ready in %s", ErrWrongPhase, c.state.Phase)
	}
	c.state.Ready[c.self.ID] = true
	c.send(ctx, types.ReadyForMeeting{UserID: c.self.ID})
	return nil
}

// SelectItem toggles an item of the current vote in the local UI selection.
// Nothing is sent until SubmitSelection.
func (c *Coordinator) SelectItem(itemID string, selected bool) error {
	cur := c.state.CurrentVote
	if cur == nil {
		return ErrNoCurrentVote
	}
	it, ok := cur.Item(itemID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
	}
	return it.SetSelected(selected)
}

func (c *Coordinator) SubmitSelection(ctx context.Context) error {
	cur := c.state.CurrentVote
	if cur == nil {
		return ErrNoCurrentVote
	}
	return c.CastBallot(ctx, cur.SelectedIDs())
}

// CastBallot makes itemIDs our standing choice on the current vote. An empty
// list withdraws the ballot.
func (c *Coordinator) CastBallot(ctx context.Context, itemIDs []string) error {
	if !c.joined {
		return ErrNotJoined
	}
	cur := c.state.CurrentVote
	if cur == nil {
		return ErrNoCurrentVote
	}
	if cur.Finished {
		return vote.ErrVoteFinished
	}
	for _, id := range itemIDs {
		if _, ok := cur.Item(id); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownItem, id)
		}
	}
	cur.CastBallot(c.self.ID, itemIDs)
	for _, it := range cur.Items {
		_ = it.SetSelected(it.HasBallot(c.self.ID))
	}
	if itemIDs == nil {
		itemIDs = []string{}
	}
	c.send(ctx, types.VotedItem{VoteID: cur.ID, VotedItemID: itemIDs})
	return nil
}

func (c *Coordinator) StartDecisionProcess(ctx context.Context) error {
	if err := c.requireModerator(); err != nil {
		return err
	}
	if c.state.Phase != engine.PhaseMainDiscussion {
		return fmt.Errorf("%w: start decision in %s", ErrWrongPhase, c.state.Phase)
	}
	c.setPhase(c.now().UnixMilli(), engine.PhaseDecisionDiscussion)
	c.send(ctx, types.StartDecisionProcess{})
	return nil
}

// SubmitVote opens a decision vote authored by a moderator. The mode falls
// back to the meeting's voting mode and the vote carries no effect.
func (c *Coordinator) SubmitVote(ctx context.Context, spec vote.Spec) (*vote.Vote, error) {
	if err := c.requireModerator(); err != nil {
		return nil, err
	}
	if c.state.Phase != engine.PhaseDecisionDiscussion {
		return nil, fmt.Errorf("%w: new vote in %s", ErrWrongPhase, c.state.Phase)
	}
	if len(spec.Items) == 0 {
		return nil, ErrEmptyVote
	}
	if spec.Mode == "" {
		spec.Mode = c.state.mode()
	}
	spec.ID = ""
	spec.Effect = vote.EffectNone

	v := vote.New(spec)
	ts := c.now().UnixMilli()
	c.setVote(v)
	c.system(ts, "new vote: "+v.Title)
	c.setPhase(ts, engine.PhaseDecisionVote)
	c.send(ctx, types.NewVote{Vote: vote.ToWire(v)})
	return v, nil
}

// ProposeModeratorRemoval lets any participant put a moderator's role to a
// vote. The leader finishes it once everyone has balloted.
func (c *Coordinator) ProposeModeratorRemoval(ctx context.Context, userID string) (*vote.Vote, error) {
	if !c.joined {
		return nil, ErrNotJoined
	}
	if c.state.Phase != engine.PhaseMainDiscussion {
		return nil, fmt.Errorf("%w: removal vote in %s", ErrWrongPhase, c.state.Phase)
	}
	if cur := c.state.CurrentVote; cur != nil && !cur.Finished {
		return nil, fmt.Errorf("%w: vote %q is still running", ErrWrongPhase, cur.Title)
	}
	target, ok := c.state.Roster.Get(userID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParticipant, userID)
	}
	if target.Role != roster.RoleModerator {
		return nil, fmt.Errorf("%w: %s is not a moderator", ErrUnknownParticipant, userID)
	}

	v := vote.New(vote.Spec{
		Title:       "Remove moderator " + displayName(target),
		Description: "Should " + displayName(target) + " stop moderating?",
		Mode:        c.state.mode(),
		Effect:      vote.EffectDemoteModerator,
		Items: []vote.ItemSpec{
			{Description: "Remove", Payload: map[string]string{vote.PayloadUserID: target.ID}},
			{Description: "Keep"},
		},
	})
	c.setVote(v)
	c.system(c.now().UnixMilli(), "new vote: "+v.Title)
	c.send(ctx, types.NewVote{Vote: vote.ToWire(v)})
	return v, nil
}

func (c *Coordinator) ChangeRole(ctx context.Context, userID string, role roster.Role) error {
	if err := c.requireModeratorOrLeader(); err != nil {
		return err
	}
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}
	if !c.state.Roster.SetRole(userID, role) {
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, userID)
	}
	c.send(ctx, types.ChangeUserRole{UserID: userID, Role: string(role)})
	return nil
}

// FinishVote closes the current vote if its result is decisive. An
// indecisive attempt changes nothing and is not broadcast.
func (c *Coordinator) FinishVote(ctx context.Context) error {
	if err := c.requireModeratorOrLeader(); err != nil {
		return err
	}
	cur := c.state.CurrentVote
	if cur == nil {
		return ErrNoCurrentVote
	}
	if cur.Finished {
		return vote.ErrVoteFinished
	}
	if err := c.finishCurrent(c.now().UnixMilli()); err != nil {
		return err
	}
	c.send(ctx, types.VoteFinished{VoteID: cur.ID})
	return nil
}

func (c *Coordinator) EndMeeting(ctx context.Context) error {
	if err := c.requireModeratorOrLeader(); err != nil {
		return err
	}
	if _, err := engine.Advance(c.state.Phase, engine.PhaseEnded); err != nil {
		return fmt.Errorf("%w: %w", ErrWrongPhase, err)
	}
	c.state.Roster.StripModerators()
	c.setPhase(c.now().UnixMilli(), engine.PhaseEnded)
	c.send(ctx, types.EndMeeting{})
	return nil
}

// Leave announces our departure. The coordinator stops answering sync
// requests afterwards.
func (c *Coordinator) Leave(ctx context.Context) error {
	if !c.joined {
		return ErrNotJoined
	}
	c.send(ctx, types.UserLeave{UserID: c.self.ID})
	c.joined = false
	return nil
}

func (c *Coordinator) requireModerator() error {
	if !c.joined {
		return ErrNotJoined
	}
	if !c.state.Roster.IsModerator(c.self.ID) {
		return ErrNotModerator
	}
	return nil
}

func (c *Coordinator) requireModeratorOrLeader() error {
	if !c.joined {
		return ErrNotJoined
	}
	if !c.state.Roster.IsModerator(c.self.ID) && !c.isLeader() {
		return ErrNotModerator
	}
	return nil
}

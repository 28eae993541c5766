package meeting

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/DoyleJ11/meeting-sync/internal/engine"
	"github.com/DoyleJ11/meeting-sync/internal/vote"
	"github.com/DoyleJ11/meeting-sync/pkg/types"
)

// drive runs the duties that follow a batch. Every client takes the first
// step out of empty on its own; everything after that is driven by the
// leader and announced.
func (c *Coordinator) drive(ctx context.Context) {
	if !c.joined {
		return
	}
	ts := c.now().UnixMilli()

	if c.state.Phase == engine.PhaseEmpty && c.seenSelf {
		c.setPhase(ts, engine.PhaseWaiting)
		if c.isLeader() {
			c.send(ctx, types.MeetingStart{})
		}
	}
	if !c.isLeader() {
		return
	}

	switch c.state.Phase {
	case engine.PhaseWaiting:
		if c.state.allReady() {
			v := votingFormatVote()
			c.setVote(v)
			c.send(ctx, types.ChooseVotingFormatPhase{Vote: vote.ToWire(v)})
			c.setPhase(ts, engine.PhaseChoosingVotingFormat)
		}

	case engine.PhaseChoosingVotingFormat:
		if c.settleProcedural(ctx, ts, vote.EffectSetVotingMode, votingFormatVote) {
			v := c.moderatorVote()
			c.setVote(v)
			c.send(ctx, types.ChooseModsPhase{Vote: vote.ToWire(v)})
			c.setPhase(ts, engine.PhaseChoosingModerators)
		}

	case engine.PhaseChoosingModerators:
		if c.settleProcedural(ctx, ts, vote.EffectPromoteModerator, c.moderatorVote) {
			c.send(ctx, types.MeetingDiscussionPhase{})
			c.setPhase(ts, engine.PhaseMainDiscussion)
		}

	case engine.PhaseMainDiscussion:
		cur := c.state.CurrentVote
		if cur != nil && !cur.Finished && cur.Effect == vote.EffectDemoteModerator && c.state.everyoneVoted(cur) {
			if err := c.finishCurrent(ts); err != nil {
				c.log.Debug("removal vote not decisive", zap.String("vote_id", cur.ID))
				return
			}
			c.send(ctx, types.VoteFinished{VoteID: cur.ID})
		}
	}
}

// settleProcedural finishes the phase's vote once everyone has balloted and
// reports whether the phase is done. A missing or foreign vote, or one that
// ends undecided, is replaced by a fresh one from open.
func (c *Coordinator) settleProcedural(ctx context.Context, ts int64, effect vote.Effect, open func() *vote.Vote) bool {
	cur := c.state.CurrentVote
	if cur == nil || cur.Effect != effect {
		c.reopen(ctx, ts, open())
		return false
	}
	if cur.Finished {
		return true
	}
	if !c.state.everyoneVoted(cur) {
		return false
	}

	err := c.finishCurrent(ts)
	if errors.Is(err, vote.ErrIndecisive) {
		c.log.Info("procedural vote undecided, voting again", zap.String("vote_id", cur.ID))
		c.system(ts, "no decision, voting again")
		c.reopen(ctx, ts, open())
		return false
	}
	c.send(ctx, types.VoteFinished{VoteID: cur.ID})
	return true
}

func (c *Coordinator) reopen(ctx context.Context, ts int64, v *vote.Vote) {
	c.setVote(v)
	c.system(ts, "new vote: "+v.Title)
	c.send(ctx, types.NewVote{Vote: vote.ToWire(v)})
}

func (c *Coordinator) isLeader() bool { return c.state.Roster.IsLeader(c.self.ID) }

func votingFormatVote() *vote.Vote {
	items := make([]vote.ItemSpec, 0, len(vote.Modes))
	for _, m := range vote.Modes {
		items = append(items, vote.ItemSpec{
			Description: string(m),
			Payload:     map[string]string{vote.PayloadMode: string(m)},
		})
	}
	return vote.New(vote.Spec{
		Title:       "Voting format",
		Description: "How should this meeting decide?",
		Mode:        vote.ModeConsensus,
		Effect:      vote.EffectSetVotingMode,
		Items:       items,
	})
}

// moderatorVote offers every participant as a candidate, using the voting
// mode the meeting has settled on.
func (c *Coordinator) moderatorVote() *vote.Vote {
	members := c.state.Roster.Members()
	items := make([]vote.ItemSpec, 0, len(members))
	for _, p := range members {
		items = append(items, vote.ItemSpec{
			Description: displayName(p),
			Payload:     map[string]string{vote.PayloadUserID: p.ID},
		})
	}
	return vote.New(vote.Spec{
		Title:       "Moderator",
		Description: "Who should moderate?",
		Mode:        c.state.mode(),
		Effect:      vote.EffectPromoteModerator,
		Items:       items,
	})
}

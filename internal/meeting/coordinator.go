// Package meeting keeps one client's meeting state in step with its peers.
//
// Every client runs a Coordinator fed with the ordered events of the shared
// room. There is no server-side authority: phase changes are proposed by the
// oldest participant (or a moderator) and honored only when the local roster
// agrees, votes travel with their ids, and clients that notice divergence ask
// for a full snapshot from a longer-tenured peer.
package meeting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/meeting-sync/internal/codec"
	"github.com/DoyleJ11/meeting-sync/internal/engine"
	"github.com/DoyleJ11/meeting-sync/internal/roster"
	"github.com/DoyleJ11/meeting-sync/internal/transport"
	"github.com/DoyleJ11/meeting-sync/internal/vote"
	"github.com/DoyleJ11/meeting-sync/pkg/types"
)

// Hooks let a UI react to local state changes. All are optional and run on
// the goroutine that drives the Coordinator.
type Hooks struct {
	PhaseChanged func(from, to engine.Phase)
	Prompt       func(text string)
}

type Option func(*Coordinator)

func WithLogger(log *zap.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithHooks(h Hooks) Option {
	return func(c *Coordinator) { c.hooks = h }
}

// Coordinator owns a client's State. It is not safe for concurrent use; the
// session runtime calls it from a single goroutine.
type Coordinator struct {
	self  roster.Participant
	out   transport.Sender
	log   *zap.Logger
	now   func() time.Time
	hooks Hooks

	state    State
	joined   bool
	seenSelf bool
	resync   bool
	// ids of votes that were current once; late events for them are
	// expected and not a sign of divergence
	retired map[string]bool
}

func New(userID, displayName string, out transport.Sender, opts ...Option) *Coordinator {
	c := &Coordinator{
		self:    roster.Participant{ID: userID, DisplayName: displayName, Role: roster.RoleNormal},
		out:     out,
		log:     zap.NewNop(),
		now:     time.Now,
		state:   newState(),
		retired: map[string]bool{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("self", userID))
	return c
}

func (c *Coordinator) UserID() string { return c.self.ID }

func (c *Coordinator) Joined() bool { return c.joined }

// Join stamps the client's join time, adds it to its own roster and
// announces it, then asks longer-tenured peers for their state.
func (c *Coordinator) Join(ctx context.Context) error {
	if c.joined {
		return nil
	}
	ts := c.now().UnixMilli()
	c.self.JoinedAt = ts
	c.state.SyncTimestamp = ts
	c.state.Roster.Add(c.self)
	c.joined = true

	c.send(ctx, types.UserEnter{User: participantToWire(c.self)})
	c.send(ctx, types.SyncMeetingRequest{Timestamp: ts})
	return nil
}

// Ingest applies one received batch in order. A bad event is skipped and
// never stops the rest of the batch. Resync requests are coalesced to one
// per batch, after which leader duties run.
func (c *Coordinator) Ingest(ctx context.Context, events []transport.Event) {
	for _, ev := range events {
		c.handle(ctx, ev)
	}
	if c.resync {
		c.resync = false
		c.requestSync(ctx)
	}
	c.drive(ctx)
}

func (c *Coordinator) handle(ctx context.Context, ev transport.Event) {
	msg, err := codec.Decode(ev.Type, ev.Body)
	if err != nil {
		c.log.Warn("skipping malformed event",
			zap.String("event_id", ev.ID),
			zap.String("sender", ev.Sender),
			zap.String("tag", ev.Type),
			zap.Error(err))
		return
	}
	if msg == nil {
		c.log.Debug("ignoring unrecognized event", zap.String("event_id", ev.ID), zap.String("tag", ev.Type))
		return
	}
	c.log.Debug("event", zap.String("event_id", ev.ID), zap.String("sender", ev.Sender), zap.String("tag", ev.Type))

	switch m := msg.(type) {
	case types.Text:
		c.onText(ev, m)
	case types.UserEnter:
		c.onUserEnter(ev, m)
	case types.UserLeave:
		c.onUserLeave(ev, m)
	case types.ReadyForMeeting:
		c.onReady(ev, m)
	case types.MeetingStart:
		c.onAnnouncement(ev, m.Tag(), nil)
	case types.ChooseVotingFormatPhase:
		c.onAnnouncement(ev, m.Tag(), &m.Vote)
	case types.ChooseModsPhase:
		c.onAnnouncement(ev, m.Tag(), &m.Vote)
	case types.MeetingDiscussionPhase:
		c.onAnnouncement(ev, m.Tag(), nil)
	case types.StartDecisionProcess:
		c.onAnnouncement(ev, m.Tag(), nil)
	case types.EndMeeting:
		c.onAnnouncement(ev, m.Tag(), nil)
	case types.ChangeUserRole:
		c.onChangeUserRole(ev, m)
	case types.NewVote:
		c.onNewVote(ev, m)
	case types.VoteFinished:
		c.onVoteFinished(ev, m)
	case types.VotedItem:
		c.onVotedItem(ev, m)
	case types.SyncMeetingRequest:
		c.onSyncRequest(ctx, m)
	case types.SyncMeeting:
		c.onSyncMeeting(ev, m)
	}
}

func (c *Coordinator) onText(ev transport.Event, m types.Text) {
	kind := ChatStandard
	if c.state.Roster.IsModerator(ev.Sender) {
		kind = ChatModerator
	}
	c.state.ChatLog = append(c.state.ChatLog, ChatMessage{
		Author:    ev.Sender,
		Body:      m.Text,
		Timestamp: ev.Timestamp,
		Kind:      kind,
	})
}

// onUserEnter adds the sender. The room's sender field is the identity; the
// id inside the payload is only a claim.
func (c *Coordinator) onUserEnter(ev transport.Event, m types.UserEnter) {
	p := participantFromWire(m.User)
	if ev.Sender != "" && ev.Sender != p.ID {
		c.log.Debug("userEnter id differs from sender", zap.String("claimed", p.ID), zap.String("sender", ev.Sender))
		p.ID = ev.Sender
	}
	p.Role = roster.RoleNormal
	if p.ID == c.self.ID {
		c.seenSelf = true
	}
	if c.state.Roster.Add(p) {
		c.system(ev.Timestamp, fmt.Sprintf("%s joined", displayName(p)))
	}
}

// onReady marks the sender ready, like onUserEnter trusting the room's
// sender over the payload.
func (c *Coordinator) onReady(ev transport.Event, m types.ReadyForMeeting) {
	id := ev.Sender
	if id == "" {
		id = m.UserID
	}
	if id != m.UserID {
		c.log.Debug("readyForMeeting id differs from sender", zap.String("claimed", m.UserID), zap.String("sender", id))
	}
	c.state.Ready[id] = true
}

func (c *Coordinator) onUserLeave(ev transport.Event, m types.UserLeave) {
	p, ok := c.state.Roster.Get(m.UserID)
	if !ok {
		return
	}
	c.state.Roster.Remove(m.UserID)
	delete(c.state.Ready, m.UserID)
	c.system(ev.Timestamp, fmt.Sprintf("%s left", displayName(p)))
}

// onAnnouncement applies a phase announcement. Announcing a phase we already
// hold or have passed is a duplicate and dropped quietly. Skipping ahead, or
// an announcement from a sender our roster does not grant the authority,
// means our view is stale: ignore it and ask for a snapshot.
func (c *Coordinator) onAnnouncement(ev transport.Event, tag types.Tag, wire *types.Vote) {
	to, _ := engine.Announced(tag)
	from := c.state.Phase

	tr, ok := engine.Lookup(from, to)
	if !ok || tr.Announce != tag {
		if rank(to) <= rank(from) {
			c.log.Debug("dropping duplicate phase announcement",
				zap.String("tag", string(tag)), zap.String("phase", string(from)))
			return
		}
		c.stale(ev, tag, fmt.Errorf("%w: %s -> %s", engine.ErrIllegalTransition, from, to))
		return
	}
	if !c.authorized(ev.Sender, tr.By) {
		c.stale(ev, tag, ErrStalePhaseAnnouncement)
		return
	}

	if wire != nil {
		c.setVote(vote.FromWire(*wire, c.state.Roster.Len()))
	}
	if to == engine.PhaseEnded {
		c.state.Roster.StripModerators()
	}
	c.setPhase(ev.Timestamp, to)
}

func (c *Coordinator) stale(ev transport.Event, tag types.Tag, err error) {
	c.log.Warn("ignoring phase announcement",
		zap.String("event_id", ev.ID),
		zap.String("sender", ev.Sender),
		zap.String("tag", string(tag)),
		zap.String("phase", string(c.state.Phase)),
		zap.Error(err))
	c.resync = true
}

func (c *Coordinator) authorized(sender string, by engine.Authority) bool {
	r := c.state.Roster
	switch by {
	case engine.AuthorityLeader:
		return r.IsLeader(sender)
	case engine.AuthorityModerator:
		return r.IsModerator(sender)
	case engine.AuthorityModeratorOrLeader:
		return r.IsModerator(sender) || r.IsLeader(sender)
	case engine.AuthorityLocal:
		return sender == c.self.ID
	}
	return false
}

func (c *Coordinator) onChangeUserRole(ev transport.Event, m types.ChangeUserRole) {
	if !c.authorized(ev.Sender, engine.AuthorityModeratorOrLeader) {
		c.log.Warn("ignoring role change from participant without authority",
			zap.String("sender", ev.Sender), zap.String("user", m.UserID))
		return
	}
	if !c.state.Roster.SetRole(m.UserID, roster.Role(m.Role)) {
		c.log.Debug("role change for unknown participant", zap.String("user", m.UserID))
	}
}

// onNewVote replaces the current vote. Receiving the vote we already hold
// (our own echo, or a repeat) keeps the existing ballots.
func (c *Coordinator) onNewVote(ev transport.Event, m types.NewVote) {
	cur := c.state.CurrentVote
	if cur != nil && cur.ID == m.Vote.ID {
		return
	}
	switch c.state.Phase {
	case engine.PhaseDecisionDiscussion:
		if !c.authorized(ev.Sender, engine.AuthorityModerator) {
			c.stale(ev, m.Tag(), ErrStalePhaseAnnouncement)
			return
		}
	case engine.PhaseDecisionVote, engine.PhaseChoosingVotingFormat, engine.PhaseChoosingModerators:
		// Running votes are only replaced by those who opened them.
		if cur != nil && !cur.Finished && !c.authorized(ev.Sender, engine.AuthorityModeratorOrLeader) {
			c.log.Warn("ignoring vote that would replace a running one",
				zap.String("sender", ev.Sender), zap.String("vote_id", m.Vote.ID), zap.String("held_vote_id", cur.ID))
			return
		}
	}

	c.setVote(vote.FromWire(m.Vote, c.state.Roster.Len()))
	c.system(ev.Timestamp, fmt.Sprintf("new vote: %s", m.Vote.Title))
	if c.state.Phase == engine.PhaseDecisionDiscussion {
		c.setPhase(ev.Timestamp, engine.PhaseDecisionVote)
	}
}

func (c *Coordinator) onVoteFinished(ev transport.Event, m types.VoteFinished) {
	cur, ok := c.voteFor(ev, m.VoteID)
	if !ok || cur.Finished {
		return
	}
	if err := c.finishCurrent(ev.Timestamp); err != nil {
		// The sender saw a decisive result we cannot reproduce, so our
		// ballots have diverged.
		c.log.Warn("announced vote result is not decisive locally",
			zap.String("vote_id", m.VoteID), zap.Error(err))
		c.resync = true
	}
}

func (c *Coordinator) onVotedItem(ev transport.Event, m types.VotedItem) {
	cur, ok := c.voteFor(ev, m.VoteID)
	if !ok {
		return
	}
	if cur.Finished {
		c.log.Debug("ballot after vote finished", zap.String("vote_id", m.VoteID), zap.String("sender", ev.Sender))
		return
	}
	cur.CastBallot(ev.Sender, m.VotedItemID)
}

// voteFor returns the current vote if id names it. Any other id means we
// missed a newVote, so the event is dropped and a resync requested.
func (c *Coordinator) voteFor(ev transport.Event, id string) (*vote.Vote, bool) {
	cur := c.state.CurrentVote
	if cur != nil && cur.ID == id {
		return cur, true
	}
	if c.retired[id] {
		c.log.Debug("event for retired vote", zap.String("tag", ev.Type), zap.String("vote_id", id))
		return nil, false
	}
	held := ""
	if cur != nil {
		held = cur.ID
	}
	c.log.Warn("event for unknown vote",
		zap.String("event_id", ev.ID),
		zap.String("tag", ev.Type),
		zap.String("vote_id", id),
		zap.String("held_vote_id", held),
		zap.Error(ErrUnknownVoteReference))
	c.resync = true
	return nil, false
}

// onSyncRequest answers requests newer than our own snapshot, which is how
// new joiners always get answered by someone who was there before them.
func (c *Coordinator) onSyncRequest(ctx context.Context, m types.SyncMeetingRequest) {
	if !c.joined || m.Timestamp <= c.state.SyncTimestamp {
		return
	}
	c.log.Info("answering sync request",
		zap.Int64("request_ts", m.Timestamp), zap.Int64("sync_ts", c.state.SyncTimestamp))
	c.send(ctx, types.SyncMeeting{Timestamp: c.state.SyncTimestamp, Meeting: c.state.snapshot()})
}

// onSyncMeeting adopts a snapshot older than ours. Lower timestamps belong
// to longer-tenured, more complete views.
func (c *Coordinator) onSyncMeeting(ev transport.Event, m types.SyncMeeting) {
	if !c.joined || m.Timestamp >= c.state.SyncTimestamp {
		return
	}
	from := c.state.Phase
	prev := c.state.CurrentVote
	if err := c.state.restore(m.Meeting); err != nil {
		c.log.Warn("rejecting snapshot", zap.String("sender", ev.Sender), zap.Error(err))
		return
	}
	c.state.SyncTimestamp = m.Timestamp
	if prev != nil && (c.state.CurrentVote == nil || c.state.CurrentVote.ID != prev.ID) {
		c.retired[prev.ID] = true
	}
	// We are in the room even if the snapshot was taken before our
	// userEnter reached its sender.
	c.state.Roster.Add(c.self)
	c.seenSelf = true

	c.log.Info("adopted meeting snapshot",
		zap.String("sender", ev.Sender),
		zap.Int64("sync_ts", m.Timestamp),
		zap.String("phase", string(c.state.Phase)),
		zap.Int("roster", c.state.Roster.Len()))
	if from != c.state.Phase {
		c.notifyPhase(from, c.state.Phase)
	}
}

func (c *Coordinator) setVote(v *vote.Vote) {
	if cur := c.state.CurrentVote; cur != nil && cur.ID != v.ID {
		c.retired[cur.ID] = true
	}
	c.state.CurrentVote = v
}

func (c *Coordinator) requestSync(ctx context.Context) {
	if !c.joined {
		return
	}
	c.log.Info("requesting resync", zap.Int64("sync_ts", c.state.SyncTimestamp))
	c.send(ctx, types.SyncMeetingRequest{Timestamp: c.state.SyncTimestamp})
}

// finishCurrent finishes the current vote locally and moves a decision vote
// back to main discussion.
func (c *Coordinator) finishCurrent(ts int64) error {
	cur := c.state.CurrentVote
	err := cur.Finish(c.state.Roster.Len(), &c.state)
	if errors.Is(err, vote.ErrIndecisive) {
		return err
	}
	if err != nil {
		c.log.Info("vote effect skipped", zap.String("vote_id", cur.ID), zap.Error(err))
	}

	winner := cur.Result.Winner
	c.system(ts, fmt.Sprintf("vote %q finished: %s", cur.Title, winner.Description))
	if c.state.Phase == engine.PhaseDecisionVote {
		c.setPhase(ts, engine.PhaseMainDiscussion)
	}
	return nil
}

func (c *Coordinator) setPhase(ts int64, to engine.Phase) {
	from := c.state.Phase
	if from == to {
		return
	}
	c.state.Phase = to
	c.system(ts, fmt.Sprintf("phase: %s", to))
	c.notifyPhase(from, to)
}

func (c *Coordinator) notifyPhase(from, to engine.Phase) {
	c.log.Info("phase changed", zap.String("from", string(from)), zap.String("to", string(to)))
	if c.hooks.PhaseChanged != nil {
		c.hooks.PhaseChanged(from, to)
	}
	if to == engine.PhaseWaiting {
		c.prompt("waiting for all participants to be ready")
	}
}

func (c *Coordinator) prompt(text string) {
	if c.hooks.Prompt != nil {
		c.hooks.Prompt(text)
	}
}

func (c *Coordinator) system(ts int64, body string) {
	if ts == 0 {
		ts = c.now().UnixMilli()
	}
	c.state.ChatLog = append(c.state.ChatLog, ChatMessage{Author: SystemAuthor, Body: body, Timestamp: ts, Kind: ChatSystem})
}

// send is fire-and-forget: the state change behind it has already been
// committed, so failures are logged and not retried.
func (c *Coordinator) send(ctx context.Context, msg types.Message) {
	tag, body, err := codec.Encode(msg)
	if err != nil {
		c.log.Error("cannot encode outgoing message", zap.String("tag", string(msg.Tag())), zap.Error(err))
		return
	}
	if err := c.out.Send(ctx, tag, body); err != nil {
		c.log.Warn("send failed",
			zap.String("tag", tag),
			zap.Error(fmt.Errorf("%w: %w", ErrSendFailed, err)))
	}
}

// rank orders phases along the cycle; the discussion loop shares one rank.
func rank(p engine.Phase) int {
	switch p {
	case engine.PhaseEmpty:
		return 0
	case engine.PhaseWaiting:
		return 1
	case engine.PhaseChoosingVotingFormat:
		return 2
	case engine.PhaseChoosingModerators:
		return 3
	case engine.PhaseMainDiscussion, engine.PhaseDecisionDiscussion, engine.PhaseDecisionVote:
		return 4
	}
	return 5
}

func displayName(p roster.Participant) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.ID
}

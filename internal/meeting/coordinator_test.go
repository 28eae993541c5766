package meeting

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/DoyleJ11/meeting-sync/internal/codec"
	"github.com/DoyleJ11/meeting-sync/internal/engine"
	"github.com/DoyleJ11/meeting-sync/internal/roster"
	"github.com/DoyleJ11/meeting-sync/internal/transport"
	"github.com/DoyleJ11/meeting-sync/internal/transport/memory"
	"github.com/DoyleJ11/meeting-sync/internal/vote"
	"github.com/DoyleJ11/meeting-sync/pkg/types"
)

// --- single-coordinator helpers ---

type sent struct {
	tag  string
	body string
}

type recorder struct {
	sent []sent
	err  error
}

func (r *recorder) Send(_ context.Context, tag, body string) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, sent{tag, body})
	return nil
}

func (r *recorder) tags() []string {
	out := make([]string, 0, len(r.sent))
	for _, s := range r.sent {
		out = append(out, s.tag)
	}
	return out
}

func (r *recorder) last(t *testing.T) types.Message {
	t.Helper()
	require.NotEmpty(t, r.sent, "nothing sent")
	s := r.sent[len(r.sent)-1]
	msg, err := codec.Decode(s.tag, s.body)
	require.NoError(t, err)
	return msg
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

var evSeq int

func event(t *testing.T, sender string, ts int64, msg types.Message) transport.Event {
	t.Helper()
	tag, body, err := codec.Encode(msg)
	require.NoError(t, err)
	evSeq++
	return transport.Event{ID: "$t" + strconv.Itoa(evSeq), Sender: sender, Type: tag, Body: body, Timestamp: ts}
}

func participant(id string, joinedAt int64, role roster.Role) types.Participant {
	return types.Participant{ID: id, DisplayName: id, JoinedAt: joinedAt, Role: string(role)}
}

// joined returns a coordinator for @me that joined at ts and has seen its own
// userEnter echo.
func joined(t *testing.T, ts int64, opts ...Option) (*Coordinator, *recorder) {
	t.Helper()
	rec := &recorder{}
	opts = append([]Option{WithClock(fixedClock(ts))}, opts...)
	c := New("@me", "me", rec, opts...)
	require.NoError(t, c.Join(context.Background()))
	c.Ingest(context.Background(), []transport.Event{
		event(t, "@me", ts, types.UserEnter{User: participant("@me", ts, roster.RoleNormal)}),
	})
	return c, rec
}

// --- multi-client helpers ---

type peer struct {
	c      *Coordinator
	cl     *memory.Client
	cursor string
}

func newPeer(t *testing.T, room *memory.Room, id string, joinMs int64, opts ...Option) *peer {
	t.Helper()
	cl := room.Client(id)
	head, err := cl.ReceiveNext(context.Background(), "", 0)
	require.NoError(t, err)
	opts = append([]Option{WithClock(fixedClock(joinMs))}, opts...)
	return &peer{c: New(id, id[1:], cl, opts...), cl: cl, cursor: head.Next}
}

// settle delivers room events to every peer until a full round neither
// delivers nor produces anything.
func settle(t *testing.T, room *memory.Room, peers ...*peer) {
	t.Helper()
	ctx := context.Background()
	for range 100 {
		before := len(room.Events())
		received := 0
		for _, p := range peers {
			b, err := p.cl.ReceiveNext(ctx, p.cursor, 0)
			require.NoError(t, err)
			received += len(b.Events)
			p.cursor = b.Next
			p.c.Ingest(ctx, b.Events)
		}
		if received == 0 && len(room.Events()) == before {
			return
		}
	}
	t.Fatalf("room did not settle")
}

func itemID(t *testing.T, v View, desc string) string {
	t.Helper()
	require.NotNil(t, v.Vote, "no current vote")
	for _, it := range v.Vote.Items {
		if it.Description == desc {
			return it.ID
		}
	}
	t.Fatalf("vote %q has no item %q", v.Vote.Title, desc)
	return ""
}

func roleOf(v View, id string) roster.Role {
	for _, p := range v.Roster {
		if p.ID == id {
			return p.Role
		}
	}
	return ""
}

func countTag(room *memory.Room, tag types.Tag) int {
	n := 0
	for _, ev := range room.Events() {
		if ev.Type == string(tag) {
			n++
		}
	}
	return n
}

// meetingChoosingFormat runs three clients from joining until the leader has
// opened the voting-format vote.
func meetingChoosingFormat(t *testing.T) (*memory.Room, []*peer) {
	t.Helper()
	ctx := context.Background()
	room := memory.NewRoom()
	var peers []*peer
	for i, id := range []string{"@ann", "@bob", "@cal"} {
		p := newPeer(t, room, id, int64(i+1)*1000)
		peers = append(peers, p)
		require.NoError(t, p.c.Join(ctx))
		settle(t, room, peers...)
	}
	for _, p := range peers {
		require.Equal(t, engine.PhaseWaiting, p.c.View().Phase, p.c.UserID())
		require.Len(t, p.c.View().Roster, 3, p.c.UserID())
		require.Equal(t, "@ann", p.c.View().Leader, p.c.UserID())
	}

	for _, p := range peers {
		require.NoError(t, p.c.MarkReady(ctx))
	}
	settle(t, room, peers...)
	for _, p := range peers {
		require.Equal(t, engine.PhaseChoosingVotingFormat, p.c.View().Phase, p.c.UserID())
	}
	return room, peers
}

// meetingInMainDiscussion continues through the voting-format and moderator
// votes. @bob ends up moderating.
func meetingInMainDiscussion(t *testing.T) (*memory.Room, []*peer) {
	t.Helper()
	ctx := context.Background()
	room, peers := meetingChoosingFormat(t)

	for _, p := range peers {
		id := itemID(t, p.c.View(), string(vote.ModeRelativeMajority))
		require.NoError(t, p.c.CastBallot(ctx, []string{id}))
	}
	settle(t, room, peers...)
	for _, p := range peers {
		v := p.c.View()
		require.Equal(t, engine.PhaseChoosingModerators, v.Phase, p.c.UserID())
		require.Equal(t, vote.ModeRelativeMajority, v.VotingMode, p.c.UserID())
		require.Equal(t, vote.ModeRelativeMajority, v.Vote.Mode, p.c.UserID())
	}

	for _, p := range peers {
		require.NoError(t, p.c.SelectItem(itemID(t, p.c.View(), "bob"), true))
		require.NoError(t, p.c.SubmitSelection(ctx))
	}
	settle(t, room, peers...)
	for _, p := range peers {
		v := p.c.View()
		require.Equal(t, engine.PhaseMainDiscussion, v.Phase, p.c.UserID())
		require.Equal(t, roster.RoleModerator, roleOf(v, "@bob"), p.c.UserID())
		require.Equal(t, roster.RoleNormal, roleOf(v, "@ann"), p.c.UserID())
	}
	return room, peers
}

func TestJoin_AnnouncesAndRequestsSync(t *testing.T) {
	c, rec := joined(t, 1000)

	assert.Equal(t, []string{"userEnter", "syncMeetingRequest", "meetingStart"}, rec.tags())
	req, ok := codecDecode(t, rec.sent[1]).(types.SyncMeetingRequest)
	require.True(t, ok)
	assert.Equal(t, int64(1000), req.Timestamp)

	v := c.View()
	assert.Equal(t, engine.PhaseWaiting, v.Phase)
	assert.Equal(t, int64(1000), v.SyncTimestamp)
	assert.Equal(t, "@me", v.Leader)
}

func codecDecode(t *testing.T, s sent) types.Message {
	t.Helper()
	msg, err := codec.Decode(s.tag, s.body)
	require.NoError(t, err)
	return msg
}

func TestJoin_NotJoinedIgnoresSync(t *testing.T) {
	rec := &recorder{}
	c := New("@me", "me", rec)
	assert.Equal(t, notJoined, c.View().SyncTimestamp)

	c.Ingest(context.Background(), []transport.Event{
		event(t, "@ann", 1, types.SyncMeetingRequest{Timestamp: 5}),
		event(t, "@ann", 1, types.SyncMeeting{Timestamp: 1, Meeting: types.Snapshot{Phase: string(engine.PhaseMainDiscussion)}}),
	})
	assert.Empty(t, rec.sent)
	assert.Equal(t, engine.PhaseEmpty, c.View().Phase)
	assert.ErrorIs(t, c.SendText(context.Background(), "hi"), ErrNotJoined)
}

func TestIngest_MalformedEventDoesNotBlockBatch(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	c, _ := joined(t, 1000, WithLogger(zap.New(core)))

	c.Ingest(context.Background(), []transport.Event{
		{ID: "$1", Sender: "@ann", Type: string(types.TagNewVote), Body: "{not json", Timestamp: 10},
		{ID: "$2", Sender: "@ann", Type: "m.someFutureThing", Body: "{}", Timestamp: 11},
		event(t, "@ann", 12, types.Text{Text: "hello"}),
	})

	v := c.View()
	assert.Nil(t, v.Vote)
	last := v.Chat[len(v.Chat)-1]
	assert.Equal(t, "hello", last.Body)
	assert.Equal(t, "@ann", last.Author)
	assert.Equal(t, ChatStandard, last.Kind)

	warned := logs.FilterMessage("skipping malformed event").All()
	require.Len(t, warned, 1)
	assert.Equal(t, "$1", warned[0].ContextMap()["event_id"])
}

func TestIngest_UserEnterLeave(t *testing.T) {
	c, _ := joined(t, 1000)
	ctx := context.Background()

	enter := types.UserEnter{User: participant("@bob", 2000, roster.RoleNormal)}
	c.Ingest(ctx, []transport.Event{
		event(t, "@bob", 2000, enter),
		event(t, "@bob", 2001, enter),
	})
	require.Len(t, c.View().Roster, 2)

	// the sender is the identity, not the payload, and nobody enters as moderator
	c.Ingest(ctx, []transport.Event{
		event(t, "@eve", 2002, types.UserEnter{User: participant("@bob", 2002, roster.RoleModerator)}),
	})
	v := c.View()
	require.Len(t, v.Roster, 3)
	assert.Equal(t, roster.RoleNormal, roleOf(v, "@eve"))
	assert.Equal(t, roster.RoleNormal, roleOf(v, "@bob"))

	c.Ingest(ctx, []transport.Event{
		event(t, "@bob", 3000, types.UserLeave{UserID: "@bob"}),
		event(t, "@bob", 3001, types.UserLeave{UserID: "@bob"}),
	})
	assert.Len(t, c.View().Roster, 2)
}

func TestSyncRequest_AnsweredOnlyWhenNewer(t *testing.T) {
	c, rec := joined(t, 2000)
	ctx := context.Background()
	n := len(rec.sent)

	c.Ingest(ctx, []transport.Event{event(t, "@old", 1, types.SyncMeetingRequest{Timestamp: 1000})})
	assert.Len(t, rec.sent, n)

	c.Ingest(ctx, []transport.Event{event(t, "@new", 1, types.SyncMeetingRequest{Timestamp: 3000})})
	require.Len(t, rec.sent, n+1)
	resp, ok := rec.last(t).(types.SyncMeeting)
	require.True(t, ok)
	assert.Equal(t, int64(2000), resp.Timestamp)
	assert.Equal(t, string(engine.PhaseWaiting), resp.Meeting.Phase)
	require.Len(t, resp.Meeting.Roster, 1)
	assert.Equal(t, "@me", resp.Meeting.Roster[0].ID)
}

func TestSyncMeeting_AdoptsOnlyOlderSnapshots(t *testing.T) {
	c, _ := joined(t, 5000)
	ctx := context.Background()

	newer := types.SyncMeeting{Timestamp: 6000, Meeting: types.Snapshot{
		Phase:  string(engine.PhaseDecisionDiscussion),
		Roster: []types.Participant{participant("@zed", 6000, roster.RoleModerator)},
	}}
	c.Ingest(ctx, []transport.Event{event(t, "@zed", 1, newer)})
	assert.Equal(t, engine.PhaseWaiting, c.View().Phase)

	older := types.SyncMeeting{Timestamp: 1000, Meeting: types.Snapshot{
		Phase:      string(engine.PhaseMainDiscussion),
		Roster:     []types.Participant{participant("@ann", 1000, roster.RoleModerator)},
		ChatLog:    []types.ChatMessage{{Author: "@ann", Body: "earlier", Timestamp: 900, Kind: string(ChatStandard)}},
		VotingMode: string(vote.ModeAbsoluteMajority),
	}}
	c.Ingest(ctx, []transport.Event{event(t, "@ann", 2, older)})

	v := c.View()
	assert.Equal(t, engine.PhaseMainDiscussion, v.Phase)
	assert.Equal(t, int64(1000), v.SyncTimestamp)
	assert.Equal(t, vote.ModeAbsoluteMajority, v.VotingMode)
	require.Len(t, v.Roster, 2, "self is re-added to the adopted roster")
	assert.Equal(t, "@ann", v.Leader)
	require.Len(t, v.Chat, 1)
	assert.Equal(t, "earlier", v.Chat[0].Body)
}

func TestStaleAnnouncement_IgnoredAndResyncs(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	c, rec := joined(t, 1000, WithLogger(zap.New(core)))
	ctx := context.Background()

	c.Ingest(ctx, []transport.Event{
		event(t, "@bob", 2000, types.UserEnter{User: participant("@bob", 2000, roster.RoleNormal)}),
	})
	n := len(rec.sent)

	bogus := vote.ToWire(votingFormatVote())
	c.Ingest(ctx, []transport.Event{
		event(t, "@bob", 2100, types.ChooseVotingFormatPhase{Vote: bogus}),
		event(t, "@bob", 2101, types.EndMeeting{}),
	})

	assert.Equal(t, engine.PhaseWaiting, c.View().Phase)
	assert.Nil(t, c.View().Vote)
	require.Len(t, rec.sent, n+1, "one resync per batch")
	req, ok := rec.last(t).(types.SyncMeetingRequest)
	require.True(t, ok)
	assert.Equal(t, int64(1000), req.Timestamp)
	assert.NotEmpty(t, logs.FilterMessage("ignoring phase announcement").All())
}

func TestDuplicateAnnouncement_DroppedQuietly(t *testing.T) {
	c, rec := joined(t, 1000)
	n := len(rec.sent)

	// our own meetingStart echo
	c.Ingest(context.Background(), []transport.Event{event(t, "@me", 1001, types.MeetingStart{})})
	assert.Equal(t, engine.PhaseWaiting, c.View().Phase)
	assert.Len(t, rec.sent, n)
}

func TestUnknownVoteReference_Resyncs(t *testing.T) {
	c, rec := joined(t, 1000)
	ctx := context.Background()
	n := len(rec.sent)

	c.Ingest(ctx, []transport.Event{
		event(t, "@bob", 10, types.VotedItem{VoteID: "nope", VotedItemID: []string{"x"}}),
		event(t, "@bob", 11, types.VoteFinished{VoteID: "nope"}),
	})
	require.Len(t, rec.sent, n+1)
	_, ok := rec.last(t).(types.SyncMeetingRequest)
	assert.True(t, ok)
}

func TestNewVote_EchoKeepsBallots(t *testing.T) {
	c, _ := joined(t, 1000)
	ctx := context.Background()

	v := vote.New(vote.Spec{Title: "Lunch", Mode: vote.ModeRelativeMajority, Items: []vote.ItemSpec{{ID: "a", Description: "pizza"}}})
	nv := types.NewVote{Vote: vote.ToWire(v)}
	c.Ingest(ctx, []transport.Event{
		event(t, "@bob", 10, nv),
		event(t, "@bob", 11, types.VotedItem{VoteID: v.ID, VotedItemID: []string{"a"}}),
		event(t, "@bob", 12, nv),
	})

	view := c.View()
	require.NotNil(t, view.Vote)
	assert.Equal(t, 1, view.Vote.Items[0].Count)
	assert.Equal(t, []string{"@bob"}, view.Vote.Items[0].Voters)
}

func TestEndMeeting_StripsModerators(t *testing.T) {
	c, _ := joined(t, 5000)
	ctx := context.Background()

	c.Ingest(ctx, []transport.Event{event(t, "@ann", 1, types.SyncMeeting{Timestamp: 1000, Meeting: types.Snapshot{
		Phase: string(engine.PhaseMainDiscussion),
		Roster: []types.Participant{
			participant("@ann", 1000, roster.RoleNormal),
			participant("@bob", 2000, roster.RoleModerator),
			participant("@me", 5000, roster.RoleNormal),
		},
	}})})
	require.Equal(t, engine.PhaseMainDiscussion, c.View().Phase)

	c.Ingest(ctx, []transport.Event{event(t, "@bob", 10, types.EndMeeting{})})

	v := c.View()
	assert.Equal(t, engine.PhaseEnded, v.Phase)
	for _, p := range v.Roster {
		assert.NotEqual(t, roster.RoleModerator, p.Role, p.ID)
	}
}

func TestChangeUserRole_RequiresAuthority(t *testing.T) {
	c, _ := joined(t, 5000)
	ctx := context.Background()
	c.Ingest(ctx, []transport.Event{
		event(t, "@ann", 1, types.UserEnter{User: participant("@ann", 1000, roster.RoleNormal)}),
		event(t, "@bob", 2, types.UserEnter{User: participant("@bob", 2000, roster.RoleNormal)}),
	})

	c.Ingest(ctx, []transport.Event{event(t, "@bob", 3, types.ChangeUserRole{UserID: "@bob", Role: string(roster.RoleModerator)})})
	assert.Equal(t, roster.RoleNormal, roleOf(c.View(), "@bob"))

	c.Ingest(ctx, []transport.Event{event(t, "@ann", 4, types.ChangeUserRole{UserID: "@bob", Role: string(roster.RoleModerator)})})
	assert.Equal(t, roster.RoleModerator, roleOf(c.View(), "@bob"))

	assert.ErrorIs(t, c.ChangeRole(ctx, "@ann", roster.RoleModerator), ErrNotModerator)
}

func TestSendFailure_LoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	c, rec := joined(t, 1000, WithLogger(zap.New(core)))
	rec.err = errors.New("homeserver down")

	require.NoError(t, c.SendText(context.Background(), "hi"))
	require.NoError(t, c.MarkReady(context.Background()))
	assert.True(t, slicesContain(c.View().Ready, "@me"), "local state changes before the send")

	failed := logs.FilterMessage("send failed").All()
	require.Len(t, failed, 2)
	var logged error
	for _, f := range failed[0].Context {
		if f.Key == "error" {
			logged, _ = f.Interface.(error)
		}
	}
	assert.ErrorIs(t, logged, ErrSendFailed)
}

func slicesContain(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func TestMeeting_ThreeClientsReachMainDiscussion(t *testing.T) {
	room, peers := meetingInMainDiscussion(t)

	assert.Equal(t, 1, countTag(room, types.TagChooseVotingFormatPhase))
	assert.Equal(t, 1, countTag(room, types.TagChooseModsPhase))
	assert.Equal(t, 1, countTag(room, types.TagMeetingDiscussionPhase))
	assert.Equal(t, 2, countTag(room, types.TagVoteFinished))

	want := peers[0].c.View()
	for _, p := range peers[1:] {
		got := p.c.View()
		assert.Equal(t, want.Roster, got.Roster, p.c.UserID())
		assert.Equal(t, want.Vote.ID, got.Vote.ID, p.c.UserID())
		assert.True(t, got.Vote.Finished, p.c.UserID())
	}
}

func TestMeeting_DecisionCycle(t *testing.T) {
	room, peers := meetingInMainDiscussion(t)
	ann, bob, cal := peers[0], peers[1], peers[2]
	ctx := context.Background()

	assert.ErrorIs(t, ann.c.StartDecisionProcess(ctx), ErrNotModerator)
	require.NoError(t, bob.c.StartDecisionProcess(ctx))
	settle(t, room, peers...)
	for _, p := range peers {
		require.Equal(t, engine.PhaseDecisionDiscussion, p.c.View().Phase, p.c.UserID())
	}

	_, err := bob.c.SubmitVote(ctx, vote.Spec{Title: "Lunch", Items: []vote.ItemSpec{
		{Description: "pizza"},
		{Description: "salad"},
	}})
	require.NoError(t, err)
	settle(t, room, peers...)
	for _, p := range peers {
		v := p.c.View()
		require.Equal(t, engine.PhaseDecisionVote, v.Phase, p.c.UserID())
		require.Equal(t, "Lunch", v.Vote.Title, p.c.UserID())
	}

	pizza := itemID(t, ann.c.View(), "pizza")
	salad := itemID(t, ann.c.View(), "salad")
	require.NoError(t, ann.c.CastBallot(ctx, []string{pizza}))
	require.NoError(t, bob.c.CastBallot(ctx, []string{salad}))
	settle(t, room, peers...)

	finished := countTag(room, types.TagVoteFinished)
	assert.ErrorIs(t, bob.c.FinishVote(ctx), ErrInvalidVoteResult)
	assert.Equal(t, finished, countTag(room, types.TagVoteFinished), "indecisive finish is not broadcast")
	assert.Equal(t, engine.PhaseDecisionVote, bob.c.View().Phase)

	require.NoError(t, cal.c.CastBallot(ctx, []string{pizza}))
	settle(t, room, peers...)
	require.NoError(t, bob.c.FinishVote(ctx))
	settle(t, room, peers...)

	for _, p := range peers {
		v := p.c.View()
		assert.Equal(t, engine.PhaseMainDiscussion, v.Phase, p.c.UserID())
		assert.True(t, v.Vote.Finished, p.c.UserID())
		assert.Equal(t, pizza, v.Vote.Winner, p.c.UserID())
	}
	assert.Equal(t, finished+1, countTag(room, types.TagVoteFinished))
	assert.ErrorIs(t, ann.c.SelectItem(salad, true), vote.ErrVoteFinished)
}

func TestMeeting_ModeratorRemoval(t *testing.T) {
	room, peers := meetingInMainDiscussion(t)
	cal := peers[2]
	ctx := context.Background()

	_, err := cal.c.ProposeModeratorRemoval(ctx, "@ann")
	require.ErrorIs(t, err, ErrUnknownParticipant)

	_, err = cal.c.ProposeModeratorRemoval(ctx, "@bob")
	require.NoError(t, err)
	settle(t, room, peers...)

	for _, p := range peers {
		require.NoError(t, p.c.CastBallot(ctx, []string{itemID(t, p.c.View(), "Remove")}))
	}
	settle(t, room, peers...)

	for _, p := range peers {
		v := p.c.View()
		assert.Equal(t, engine.PhaseMainDiscussion, v.Phase, p.c.UserID())
		assert.Equal(t, roster.RoleNormal, roleOf(v, "@bob"), p.c.UserID())
	}
}

func TestMeeting_EndedByLeader(t *testing.T) {
	room, peers := meetingInMainDiscussion(t)
	ann := peers[0]

	assert.ErrorIs(t, peers[2].c.EndMeeting(context.Background()), ErrNotModerator)
	require.NoError(t, ann.c.EndMeeting(context.Background()))
	settle(t, room, peers...)

	for _, p := range peers {
		v := p.c.View()
		assert.Equal(t, engine.PhaseEnded, v.Phase, p.c.UserID())
		assert.Equal(t, roster.RoleNormal, roleOf(v, "@bob"), p.c.UserID())
	}
	assert.ErrorIs(t, ann.c.EndMeeting(context.Background()), ErrWrongPhase)
}

func TestMeeting_LateJoinerCatchesUp(t *testing.T) {
	room, peers := meetingInMainDiscussion(t)
	ctx := context.Background()

	dan := newPeer(t, room, "@dan", 9000)
	require.NoError(t, dan.c.Join(ctx))
	all := append(peers, dan)
	settle(t, room, all...)

	v := dan.c.View()
	assert.Equal(t, engine.PhaseMainDiscussion, v.Phase)
	assert.Equal(t, int64(1000), v.SyncTimestamp)
	assert.Len(t, v.Roster, 4)
	assert.Equal(t, roster.RoleModerator, roleOf(v, "@bob"))
	for _, p := range peers {
		assert.Len(t, p.c.View().Roster, 4, p.c.UserID())
	}

	// @ann answered first, so @dan holds exactly her state.
	want := peers[0].c.View()
	assert.Equal(t, want.Phase, v.Phase)
	assert.Equal(t, want.VotingMode, v.VotingMode)
	assert.Equal(t, want.Roster, v.Roster)
	assert.Equal(t, want.Ready, v.Ready)
	assert.Equal(t, want.Chat, v.Chat)
	require.NotNil(t, v.Vote)
	assert.Equal(t, sharedVote(want.Vote), sharedVote(v.Vote))
	assert.True(t, v.Vote.Finished)
	assert.True(t, v.Vote.Valid)
}

// sharedVote drops the local item selection, which is not synced.
func sharedVote(v *VoteView) VoteView {
	out := *v
	out.Items = make([]ItemView, len(v.Items))
	for i, it := range v.Items {
		it.Selected = false
		out.Items[i] = it
	}
	return out
}

func TestSyncMeeting_FinishedVoteKeepsSendersResult(t *testing.T) {
	c, _ := joined(t, 5000)

	// Decided 2 of 3 when it finished; the roster has grown to five since.
	finished := types.Vote{
		ID:   "v1",
		Mode: string(vote.ModeAbsoluteMajority),
		VoteItems: []types.VoteItem{
			{ID: "a", Desc: "pizza", Ballots: []string{"@a", "@b"}},
			{ID: "b", Desc: "salad", Ballots: []string{"@c"}},
		},
		IsFinished: true,
		WinnerID:   "a",
	}
	c.Ingest(context.Background(), []transport.Event{event(t, "@a", 1, types.SyncMeeting{Timestamp: 1000, Meeting: types.Snapshot{
		Phase: string(engine.PhaseMainDiscussion),
		Roster: []types.Participant{
			participant("@a", 1000, roster.RoleNormal),
			participant("@b", 2000, roster.RoleModerator),
			participant("@c", 3000, roster.RoleNormal),
			participant("@d", 4000, roster.RoleNormal),
			participant("@me", 5000, roster.RoleNormal),
		},
		CurrentVote: &finished,
	}})})

	v := c.View()
	require.Len(t, v.Roster, 5)
	require.NotNil(t, v.Vote)
	assert.Equal(t, "v1", v.Vote.ID)
	assert.True(t, v.Vote.Finished)
	assert.True(t, v.Vote.Valid)
	assert.Equal(t, "a", v.Vote.Winner)
	assert.ErrorIs(t, c.CastBallot(context.Background(), []string{"b"}), vote.ErrVoteFinished)
}

func TestReady_MarksSender(t *testing.T) {
	c, _ := joined(t, 1000)
	c.Ingest(context.Background(), []transport.Event{
		event(t, "@bob", 1100, types.UserEnter{User: participant("@bob", 1100, roster.RoleNormal)}),
		event(t, "@bob", 1200, types.ReadyForMeeting{UserID: "@eve"}),
	})

	assert.Equal(t, []string{"@bob"}, c.View().Ready)
}

func TestMeeting_UndecidedFormatVoteReopens(t *testing.T) {
	room, peers := meetingChoosingFormat(t)
	ctx := context.Background()
	first := peers[0].c.View().Vote.ID

	// Consensus needs every ballot on one item.
	picks := []vote.Mode{vote.ModeConsensus, vote.ModeRelativeMajority, vote.ModeRelativeMajority}
	for i, p := range peers {
		require.NoError(t, p.c.CastBallot(ctx, []string{itemID(t, p.c.View(), string(picks[i]))}))
	}
	settle(t, room, peers...)

	second := peers[0].c.View().Vote.ID
	assert.NotEqual(t, first, second)
	for _, p := range peers {
		v := p.c.View()
		assert.Equal(t, engine.PhaseChoosingVotingFormat, v.Phase, p.c.UserID())
		require.NotNil(t, v.Vote, p.c.UserID())
		assert.Equal(t, second, v.Vote.ID, p.c.UserID())
		assert.False(t, v.Vote.Finished, p.c.UserID())
		for _, it := range v.Vote.Items {
			assert.Zero(t, it.Count, p.c.UserID())
		}
	}
	assert.Equal(t, 0, countTag(room, types.TagVoteFinished))

	for _, p := range peers {
		require.NoError(t, p.c.CastBallot(ctx, []string{itemID(t, p.c.View(), string(vote.ModeRelativeMajority))}))
	}
	settle(t, room, peers...)
	for _, p := range peers {
		assert.Equal(t, engine.PhaseChoosingModerators, p.c.View().Phase, p.c.UserID())
	}
}

func TestPhaseHooks(t *testing.T) {
	var changes [][2]engine.Phase
	var prompts []string
	_, _ = joined(t, 1000, WithHooks(Hooks{
		PhaseChanged: func(from, to engine.Phase) { changes = append(changes, [2]engine.Phase{from, to}) },
		Prompt:       func(text string) { prompts = append(prompts, text) },
	}))

	assert.Equal(t, [][2]engine.Phase{{engine.PhaseEmpty, engine.PhaseWaiting}}, changes)
	assert.Len(t, prompts, 1)
}

package meeting

import (
	"fmt"
	"math"
	"slices"

	"github.com/DoyleJ11/meeting-sync/internal/engine"
	"github.com/DoyleJ11/meeting-sync/internal/roster"
	"github.com/DoyleJ11/meeting-sync/internal/vote"
	"github.com/DoyleJ11/meeting-sync/pkg/types"
)

// notJoined is the sync timestamp of a client that has not joined yet. No
// request is ever newer than it and no snapshot older.
const notJoined int64 = math.MaxInt64

type ChatKind string

const (
	ChatStandard  ChatKind = "standard"
	ChatModerator ChatKind = "moderator"
	ChatSystem    ChatKind = "system"
)

// SystemAuthor is the author of chat lines the meeting itself writes.
const SystemAuthor = "system"

type ChatMessage struct {
	Author    string
	Body      string
	Timestamp int64
	Kind      ChatKind
}

// State is one client's view of the meeting. Everything here is what the
// sync protocol tries to keep identical across clients.
type State struct {
	Phase         engine.Phase
	SyncTimestamp int64
	Roster        *roster.Roster
	ChatLog       []ChatMessage
	CurrentVote   *vote.Vote
	VotingMode    vote.Mode
	Ready         map[string]bool
}

func newState() State {
	return State{
		Phase:         engine.PhaseEmpty,
		SyncTimestamp: notJoined,
		Roster:        roster.New(),
		Ready:         map[string]bool{},
	}
}

// SetRole and SetVotingMode let a finishing vote apply its effect.
func (s *State) SetRole(userID string, role roster.Role) bool {
	return s.Roster.SetRole(userID, role)
}

func (s *State) SetVotingMode(m vote.Mode) { s.VotingMode = m }

// mode is the voting mode new votes use, relative majority until the
// voting-format vote has decided one.
func (s *State) mode() vote.Mode {
	if s.VotingMode == "" {
		return vote.ModeRelativeMajority
	}
	return s.VotingMode
}

func (s *State) allReady() bool {
	if s.Roster.Len() == 0 {
		return false
	}
	for _, p := range s.Roster.Members() {
		if !s.Ready[p.ID] {
			return false
		}
	}
	return true
}

func (s *State) everyoneVoted(v *vote.Vote) bool {
	if s.Roster.Len() == 0 {
		return false
	}
	for _, p := range s.Roster.Members() {
		if !v.HasVoted(p.ID) {
			return false
		}
	}
	return true
}

func (s *State) snapshot() types.Snapshot {
	snap := types.Snapshot{
		Phase:      string(s.Phase),
		Roster:     make([]types.Participant, 0, s.Roster.Len()),
		ChatLog:    make([]types.ChatMessage, 0, len(s.ChatLog)),
		VotingMode: string(s.VotingMode),
	}
	for _, p := range s.Roster.Members() {
		snap.Roster = append(snap.Roster, participantToWire(p))
	}
	for _, m := range s.ChatLog {
		snap.ChatLog = append(snap.ChatLog, types.ChatMessage{
			Author:    m.Author,
			Body:      m.Body,
			Timestamp: m.Timestamp,
			Kind:      string(m.Kind),
		})
	}
	for id, ok := range s.Ready {
		if ok {
			snap.Ready = append(snap.Ready, id)
		}
	}
	slices.Sort(snap.Ready)
	if s.CurrentVote != nil {
		w := vote.ToWire(s.CurrentVote)
		snap.CurrentVote = &w
	}
	return snap
}

// restore replaces the state wholesale with snap. Local item selections
// survive when the snapshot carries the vote we already hold.
func (s *State) restore(snap types.Snapshot) error {
	phase, ok := engine.ParsePhase(snap.Phase)
	if !ok {
		return fmt.Errorf("unknown phase %q", snap.Phase)
	}

	members := make([]roster.Participant, 0, len(snap.Roster))
	for _, p := range snap.Roster {
		members = append(members, participantFromWire(p))
	}

	var current *vote.Vote
	if snap.CurrentVote != nil {
		current = vote.FromWire(*snap.CurrentVote, len(members))
		if prev := s.CurrentVote; prev != nil && prev.ID == current.ID && !current.Finished {
			for _, it := range prev.Items {
				if other, ok := current.Item(it.ID); ok && it.Selected() {
					_ = other.SetSelected(true)
				}
			}
		}
	}

	chat := make([]ChatMessage, 0, len(snap.ChatLog))
	for _, m := range snap.ChatLog {
		chat = append(chat, ChatMessage{Author: m.Author, Body: m.Body, Timestamp: m.Timestamp, Kind: ChatKind(m.Kind)})
	}

	ready := make(map[string]bool, len(snap.Ready))
	for _, id := range snap.Ready {
		ready[id] = true
	}

	mode, _ := vote.ParseMode(snap.VotingMode)

	s.Phase = phase
	s.Roster.Replace(members)
	s.ChatLog = chat
	s.CurrentVote = current
	s.VotingMode = mode
	s.Ready = ready
	return nil
}

func participantToWire(p roster.Participant) types.Participant {
	return types.Participant{ID: p.ID, DisplayName: p.DisplayName, JoinedAt: p.JoinedAt, Role: string(p.Role)}
}

func participantFromWire(p types.Participant) roster.Participant {
	role := roster.Role(p.Role)
	if !role.Valid() {
		role = roster.RoleNormal
	}
	return roster.Participant{ID: p.ID, DisplayName: p.DisplayName, JoinedAt: p.JoinedAt, Role: role}
}

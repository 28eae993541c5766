package types

import (
	"errors"
	"fmt"
)

// Tag is the type tag a control message travels under. Bodies are JSON
// strings whose schema is fixed per tag.
type Tag string

const (
	TagText                    Tag = "text"
	TagUserEnter               Tag = "userEnter"
	TagUserLeave               Tag = "userLeave"
	TagReadyForMeeting         Tag = "readyForMeeting"
	TagMeetingStart            Tag = "meetingStart"
	TagChooseVotingFormatPhase Tag = "chooseVotingFormatPhase"
	TagChooseModsPhase         Tag = "chooseModsPhase"
	TagMeetingDiscussionPhase  Tag = "meetingDiscussionPhase"
	TagStartDecisionProcess    Tag = "startDecisionProcess"
	TagEndMeeting              Tag = "endMeeting"
	TagChangeUserRole          Tag = "changeUserRole"
	TagNewVote                 Tag = "newVote"
	TagVoteFinished            Tag = "voteFinished"
	TagVotedItem               Tag = "votedItem"
	TagSyncMeetingRequest      Tag = "syncMeetingRequest"
	TagSyncMeeting             Tag = "syncMeeting"
)

// Tags is the closed set of recognized tags.
var Tags = []Tag{
	TagText, TagUserEnter, TagUserLeave, TagReadyForMeeting, TagMeetingStart,
	TagChooseVotingFormatPhase, TagChooseModsPhase, TagMeetingDiscussionPhase,
	TagStartDecisionProcess, TagEndMeeting, TagChangeUserRole, TagNewVote,
	TagVoteFinished, TagVotedItem, TagSyncMeetingRequest, TagSyncMeeting,
}

// Message is implemented by every payload struct below.
type Message interface {
	Tag() Tag
	Validate() error
}

var errMissing = errors.New("missing field")

func missing(field string) error { return fmt.Errorf("%w: %s", errMissing, field) }

// Participant on the wire.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	JoinedAt    int64  `json:"joinedAt"`
	Role        string `json:"role"`
}

func (p Participant) Validate() error {
	if p.ID == "" {
		return missing("user.id")
	}
	switch p.Role {
	case "", "normal", "mod", "none":
	default:
		return fmt.Errorf("unknown role %q", p.Role)
	}
	return nil
}

// VoteItem on the wire. Ballots lists voter ids; it is empty in creation
// messages and populated in sync snapshots.
type VoteItem struct {
	ID      string            `json:"id"`
	Desc    string            `json:"desc"`
	Ballots []string          `json:"ballots,omitempty"`
	Payload map[string]string `json:"payload,omitempty"`
}

// Vote on the wire, including the id every client must reuse.
type Vote struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Desc       string     `json:"desc"`
	Mode       string     `json:"mode"`
	Effect     string     `json:"effect,omitempty"`
	VoteItems  []VoteItem `json:"voteItems"`
	IsFinished bool       `json:"isFinished"`
	// WinnerID is the decided item of a finished vote.
	WinnerID   string     `json:"winnerID,omitempty"`
}

func (v Vote) Validate() error {
	if v.ID == "" {
		return missing("vote.id")
	}
	switch v.Mode {
	case "consensus", "absMajority", "relMajority":
	default:
		return fmt.Errorf("unknown vote mode %q", v.Mode)
	}
	switch v.Effect {
	case "", "none", "promoteModerator", "demoteModerator", "setVotingMode":
	default:
		return fmt.Errorf("unknown vote effect %q", v.Effect)
	}
	seen := make(map[string]bool, len(v.VoteItems))
	for _, item := range v.VoteItems {
		if item.ID == "" {
			return missing("voteItems[].id")
		}
		if seen[item.ID] {
			return fmt.Errorf("duplicate vote item %q", item.ID)
		}
		seen[item.ID] = true
	}
	switch {
	case v.IsFinished && v.WinnerID == "":
		return missing("vote.winnerID")
	case !v.IsFinished && v.WinnerID != "":
		return fmt.Errorf("winnerID on unfinished vote %q", v.ID)
	case v.WinnerID != "" && !seen[v.WinnerID]:
		return fmt.Errorf("winnerID %q is not a vote item", v.WinnerID)
	}
	return nil
}

type Text struct {
	Text string `json:"text"`
}

type UserEnter struct {
	User Participant `json:"user"`
}

type UserLeave struct {
	UserID string `json:"userID"`
}

type ReadyForMeeting struct {
	UserID string `json:"userID"`
}

type MeetingStart struct{}

type ChooseVotingFormatPhase struct {
	Vote Vote `json:"vote"`
}

type ChooseModsPhase struct {
	Vote Vote `json:"vote"`
}

type MeetingDiscussionPhase struct{}

type StartDecisionProcess struct{}

type EndMeeting struct{}

type ChangeUserRole struct {
	UserID string `json:"userID"`
	Role   string `json:"role"`
}

type NewVote struct {
	Vote Vote `json:"vote"`
}

type VoteFinished struct {
	VoteID string `json:"voteID"`
}

type VotedItem struct {
	VoteID      string   `json:"voteID"`
	VotedItemID []string `json:"votedItemID"`
}

type SyncMeetingRequest struct {
	Timestamp int64 `json:"timestamp"`
}

type SyncMeeting struct {
	Timestamp int64    `json:"timestamp"`
	Meeting   Snapshot `json:"meeting"`
}

func (Text) Tag() Tag                    { return TagText }
func (UserEnter) Tag() Tag               { return TagUserEnter }
func (UserLeave) Tag() Tag               { return TagUserLeave }
func (ReadyForMeeting) Tag() Tag         { return TagReadyForMeeting }
func (MeetingStart) Tag() Tag            { return TagMeetingStart }
func (ChooseVotingFormatPhase) Tag() Tag { return TagChooseVotingFormatPhase }
func (ChooseModsPhase) Tag() Tag         { return TagChooseModsPhase }
func (MeetingDiscussionPhase) Tag() Tag  { return TagMeetingDiscussionPhase }
func (StartDecisionProcess) Tag() Tag    { return TagStartDecisionProcess }
func (EndMeeting) Tag() Tag              { return TagEndMeeting }
func (ChangeUserRole) Tag() Tag          { return TagChangeUserRole }
func (NewVote) Tag() Tag                 { return TagNewVote }
func (VoteFinished) Tag() Tag            { return TagVoteFinished }
func (VotedItem) Tag() Tag               { return TagVotedItem }
func (SyncMeetingRequest) Tag() Tag      { return TagSyncMeetingRequest }
func (SyncMeeting) Tag() Tag             { return TagSyncMeeting }

func (Text) Validate() error                      { return nil }
func (m UserEnter) Validate() error               { return m.User.Validate() }
func (MeetingStart) Validate() error              { return nil }
func (m ChooseVotingFormatPhase) Validate() error { return m.Vote.Validate() }
func (m ChooseModsPhase) Validate() error         { return m.Vote.Validate() }
func (MeetingDiscussionPhase) Validate() error    { return nil }
func (StartDecisionProcess) Validate() error      { return nil }
func (EndMeeting) Validate() error                { return nil }
func (m NewVote) Validate() error                 { return m.Vote.Validate() }

func (m UserLeave) Validate() error {
	if m.UserID == "" {
		return missing("userID")
	}
	return nil
}

func (m ReadyForMeeting) Validate() error {
	if m.UserID == "" {
		return missing("userID")
	}
	return nil
}

func (m ChangeUserRole) Validate() error {
	if m.UserID == "" {
		return missing("userID")
	}
	switch m.Role {
	case "normal", "mod", "none":
		return nil
	}
	return fmt.Errorf("unknown role %q", m.Role)
}

func (m VoteFinished) Validate() error {
	if m.VoteID == "" {
		return missing("voteID")
	}
	return nil
}

func (m VotedItem) Validate() error {
	if m.VoteID == "" {
		return missing("voteID")
	}
	for _, id := range m.VotedItemID {
		if id == "" {
			return missing("votedItemID[]")
		}
	}
	return nil
}

func (m SyncMeetingRequest) Validate() error {
	if m.Timestamp <= 0 {
		return missing("timestamp")
	}
	return nil
}

func (m SyncMeeting) Validate() error {
	if m.Timestamp <= 0 {
		return missing("timestamp")
	}
	return m.Meeting.Validate()
}

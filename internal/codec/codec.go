// Package codec maps typed control messages to and from the (tag, body)
// pairs the room transport carries.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DoyleJ11/meeting-sync/pkg/types"
)

var ErrMalformedMessage = errors.New("malformed message")

var factories = map[types.Tag]func() types.Message{
	types.TagText:                    func() types.Message { return &types.Text{} },
	types.TagUserEnter:               func() types.Message { return &types.UserEnter{} },
	types.TagUserLeave:               func() types.Message { return &types.UserLeave{} },
	types.TagReadyForMeeting:         func() types.Message { return &types.ReadyForMeeting{} },
	types.TagMeetingStart:            func() types.Message { return &types.MeetingStart{} },
	types.TagChooseVotingFormatPhase: func() types.Message { return &types.ChooseVotingFormatPhase{} },
	types.TagChooseModsPhase:         func() types.Message { return &types.ChooseModsPhase{} },
	types.TagMeetingDiscussionPhase:  func() types.Message { return &types.MeetingDiscussionPhase{} },
	types.TagStartDecisionProcess:    func() types.Message { return &types.StartDecisionProcess{} },
	types.TagEndMeeting:              func() types.Message { return &types.EndMeeting{} },
	types.TagChangeUserRole:          func() types.Message { return &types.ChangeUserRole{} },
	types.TagNewVote:                 func() types.Message { return &types.NewVote{} },
	types.TagVoteFinished:            func() types.Message { return &types.VoteFinished{} },
	types.TagVotedItem:               func() types.Message { return &types.VotedItem{} },
	types.TagSyncMeetingRequest:      func() types.Message { return &types.SyncMeetingRequest{} },
	types.TagSyncMeeting:             func() types.Message { return &types.SyncMeeting{} },
}

// Known reports whether tag belongs to the recognized vocabulary.
func Known(tag string) bool {
	_, ok := factories[types.Tag(tag)]
	return ok
}

// Encode validates msg and serializes it to its tag and JSON body.
func Encode(msg types.Message) (string, string, error) {
	if err := msg.Validate(); err != nil {
		return "", "", fmt.Errorf("encode %s: %w", msg.Tag(), err)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return "", "", fmt.Errorf("encode %s: %w", msg.Tag(), err)
	}
	return string(msg.Tag()), string(body), nil
}

// Decode parses body according to tag. Unrecognized tags return (nil, nil)
// so newer peers can extend the vocabulary. A recognized tag whose body does
// not parse or validate returns an error wrapping ErrMalformedMessage.
//
// The returned message is a value (types.Text, not *types.Text) so callers can
// type-switch on the plain struct types.
func Decode(tag, body string) (types.Message, error) {
	factory, ok := factories[types.Tag(tag)]
	if !ok {
		return nil, nil
	}
	ptr := factory()

	raw := bytes.TrimSpace([]byte(body))
	if len(raw) == 0 || raw[0] != '{' {
		return nil, fmt.Errorf("%w: %s: body is not a JSON object", ErrMalformedMessage, tag)
	}
	if err := json.Unmarshal(raw, ptr); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, tag, err)
	}

	msg := deref(ptr)
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, tag, err)
	}
	return msg, nil
}

func deref(m types.Message) types.Message {
	switch v := m.(type) {
	case *types.Text:
		return *v
	case *types.UserEnter:
		return *v
	case *types.UserLeave:
		return *v
	case *types.ReadyForMeeting:
		return *v
	case *types.MeetingStart:
		return *v
	case *types.ChooseVotingFormatPhase:
		return *v
	case *types.ChooseModsPhase:
		return *v
	case *types.MeetingDiscussionPhase:
		return *v
	case *types.StartDecisionProcess:
		return *v
	case *types.EndMeeting:
		return *v
	case *types.ChangeUserRole:
		return *v
	case *types.NewVote:
		return *v
	case *types.VoteFinished:
		return *v
	case *types.VotedItem:
		return *v
	case *types.SyncMeetingRequest:
		return *v
	case *types.SyncMeeting:
		return *v
	}
	return m
}

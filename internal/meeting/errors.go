package meeting

import (
	"errors"

	"github.com/DoyleJ11/meeting-sync/internal/vote"
)

var ErrUnknownVoteReference = errors.New("event refers to a vote we do not hold")
var ErrStalePhaseAnnouncement = errors.New("phase announcement from a participant without authority")
var ErrSendFailed = errors.New("send failed")

var ErrNotJoined = errors.New("not joined")
var ErrNotModerator = errors.New("only a moderator can do that")
var ErrWrongPhase = errors.New("not possible in the current phase")
var ErrNoCurrentVote = errors.New("no current vote")
var ErrUnknownItem = errors.New("no such vote item")
var ErrUnknownParticipant = errors.New("no such participant")
var ErrEmptyVote = errors.New("vote needs at least one item")

// ErrInvalidVoteResult is returned to the local actor when a finish attempt
// does not meet the vote mode's decision rule. It is never broadcast.
var ErrInvalidVoteResult = vote.ErrIndecisive

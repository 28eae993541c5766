package vote

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/DoyleJ11/meeting-sync/internal/roster"
)

var ErrIndecisive = errors.New("vote not decisive yet")
var ErrVoteFinished = errors.New("vote has finished already")
var ErrNoVote = errors.New("item has no associated vote")
var ErrEffectPayload = errors.New("vote effect payload unusable")

type Mode string

const (
	ModeConsensus        Mode = "consensus"
	ModeAbsoluteMajority Mode = "absMajority"
	ModeRelativeMajority Mode = "relMajority"
)

// Modes lists every voting mode in the order the voting-format vote offers them.
var Modes = []Mode{ModeConsensus, ModeAbsoluteMajority, ModeRelativeMajority}

func ParseMode(s string) (Mode, bool) {
	m := Mode(s)
	return m, slices.Contains(Modes, m)
}

type Effect string

const (
	EffectNone             Effect = "none"
	EffectPromoteModerator Effect = "promoteModerator"
	EffectDemoteModerator  Effect = "demoteModerator"
	EffectSetVotingMode    Effect = "setVotingMode"
)

// Payload keys used by procedural votes.
const (
	PayloadUserID = "userID"
	PayloadMode   = "mode"
)

// Effects is the slice of session state a finished vote may change.
type Effects interface {
	SetRole(userID string, role roster.Role) bool
	SetVotingMode(Mode)
}

type Item struct {
	ID          string
	VoteID      string
	Description string
	Payload     map[string]string

	ballots  map[string]struct{}
	selected bool
	vote     *Vote
}

func (it *Item) Count() int { return len(it.ballots) }

func (it *Item) HasBallot(voterID string) bool {
	_, ok := it.ballots[voterID]
	return ok
}

// Voters returns the ballot set sorted, for stable snapshots.
func (it *Item) Voters() []string {
	out := make([]string, 0, len(it.ballots))
	for id := range it.ballots {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (it *Item) Selected() bool { return it.selected }

// SetSelected toggles the local UI selection. It refuses once the vote has
// finished so the displayed choice cannot drift from the recorded ballots.
func (it *Item) SetSelected(selected bool) error {
	if it.vote == nil {
		return ErrNoVote
	}
	if it.vote.Finished {
		return ErrVoteFinished
	}
	it.selected = selected
	return nil
}

type Vote struct {
	ID          string
	Title       string
	Description string
	Items       []*Item
	Mode        Mode
	Effect      Effect
	Finished    bool
	Result      *Result
}

type Tally struct {
	Item  *Item
	Count int
}

type Result struct {
	Winner *Item
	Tally  []Tally
	Valid  bool
}

type ItemSpec struct {
	ID          string
	Description string
	Payload     map[string]string
	Ballots     []string
}

type Spec struct {
	ID          string
	Title       string
	Description string
	Mode        Mode
	Effect      Effect
	Items       []ItemSpec
}

// New builds a vote. Ids are minted only when the spec leaves them empty, so
// a vote rebuilt from a wire message keeps the id every other client holds.
func New(spec Spec) *Vote {
	v := &Vote{
		ID:          spec.ID,
		Title:       spec.Title,
		Description: spec.Description,
		Mode:        spec.Mode,
		Effect:      spec.Effect,
	}
	if v.ID == "" {
		v.ID = NewID()
	}
	if v.Mode == "" {
		v.Mode = ModeConsensus
	}
	if v.Effect == "" {
		v.Effect = EffectNone
	}
	for _, is := range spec.Items {
		v.AddItem(is)
	}
	return v
}

// NewID returns "<unix ms>-<uuid>", sortable by creation time.
func NewID() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + uuid.NewString()
}

func (v *Vote) AddItem(spec ItemSpec) *Item {
	it := &Item{
		ID:          spec.ID,
		VoteID:      v.ID,
		Description: spec.Description,
		Payload:     spec.Payload,
		ballots:     make(map[string]struct{}, len(spec.Ballots)),
		vote:        v,
	}
	if it.ID == "" {
		it.ID = v.ID + "/" + uuid.NewString()
	}
	for _, voter := range spec.Ballots {
		it.ballots[voter] = struct{}{}
	}
	v.Items = append(v.Items, it)
	return it
}

func (v *Vote) Item(id string) (*Item, bool) {
	for _, it := range v.Items {
		if it.ID == id {
			return it, true
		}
	}
	return nil, false
}

// SelectedIDs returns the ids of locally selected items.
func (v *Vote) SelectedIDs() []string {
	out := []string{}
	for _, it := range v.Items {
		if it.selected {
			out = append(out, it.ID)
		}
	}
	return out
}

// CastBallot makes itemIDs the voter's complete standing choice: the voter is
// removed from every item first, then added to each listed item. Unknown ids
// are ignored.
func (v *Vote) CastBallot(voterID string, itemIDs []string) {
	for _, it := range v.Items {
		delete(it.ballots, voterID)
	}
	for _, it := range v.Items {
		if slices.Contains(itemIDs, it.ID) {
			it.ballots[voterID] = struct{}{}
		}
	}
}

// HasVoted reports whether voterID currently backs at least one item.
func (v *Vote) HasVoted(voterID string) bool {
	for _, it := range v.Items {
		if it.HasBallot(voterID) {
			return true
		}
	}
	return false
}

// ComputeResult tallies the vote and applies the mode's decision rule. The
// result is returned even when invalid so live tallies stay inspectable.
func (v *Vote) ComputeResult(rosterSize int) Result {
	res := Result{Tally: make([]Tally, 0, len(v.Items))}
	if len(v.Items) == 0 {
		return res
	}

	total := 0
	withBallots := 0
	var backed *Item
	best := v.Items[0]
	multipleBest := false
	for i, it := range v.Items {
		n := it.Count()
		res.Tally = append(res.Tally, Tally{Item: it, Count: n})
		total += n
		if n > 0 {
			withBallots++
			backed = it
		}
		if i == 0 {
			continue
		}
		if n > best.Count() {
			best = it
			multipleBest = false
		} else if n == best.Count() {
			multipleBest = true
		}
	}

	if total == 0 {
		return res
	}

	switch v.Mode {
	case ModeRelativeMajority:
		res.Winner = best
		res.Valid = !multipleBest
	case ModeAbsoluteMajority:
		res.Winner = best
		res.Valid = !multipleBest && best.Count() > rosterSize/2
	case ModeConsensus:
		if withBallots == 1 {
			res.Winner = backed
			res.Valid = true
		} else {
			res.Winner = best
		}
	}
	return res
}

// Finish closes the vote if its result is decisive under the vote's mode and
// applies the vote's effect once. An indecisive result leaves the vote open
// and Result nil. Finishing an already finished vote is a no-op.
func (v *Vote) Finish(rosterSize int, fx Effects) error {
	if v.Finished {
		return nil
	}
	res := v.ComputeResult(rosterSize)
	if !res.Valid {
		v.Result = nil
		return ErrIndecisive
	}
	v.Finished = true
	v.Result = &res
	return v.applyEffect(fx)
}

func (v *Vote) applyEffect(fx Effects) error {
	if fx == nil || v.Effect == EffectNone {
		return nil
	}
	winner := v.Result.Winner
	switch v.Effect {
	case EffectPromoteModerator, EffectDemoteModerator:
		userID := winner.Payload[PayloadUserID]
		if userID == "" {
			return fmt.Errorf("%w: item %s has no %s", ErrEffectPayload, winner.ID, PayloadUserID)
		}
		role := roster.RoleModerator
		if v.Effect == EffectDemoteModerator {
			role = roster.RoleNormal
		}
		if !fx.SetRole(userID, role) {
			return fmt.Errorf("%w: unknown participant %s", ErrEffectPayload, userID)
		}
	case EffectSetVotingMode:
		mode, ok := ParseMode(winner.Payload[PayloadMode])
		if !ok {
			return fmt.Errorf("%w: item %s has mode %q", ErrEffectPayload, winner.ID, winner.Payload[PayloadMode])
		}
		fx.SetVotingMode(mode)
	}
	return nil
}

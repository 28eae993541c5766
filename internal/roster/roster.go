package roster

import (
	"slices"
)

type Role string

const (
	RoleNormal    Role = "normal"
	RoleModerator Role = "mod"
	RoleNone      Role = "none"
)

func (r Role) Valid() bool {
	switch r {
	case RoleNormal, RoleModerator, RoleNone:
		return true
	}
	return false
}

// Participant is one meeting member. JoinedAt is unix milliseconds and never
// changes after creation; only Role is mutable.
type Participant struct {
	ID          string
	DisplayName string
	JoinedAt    int64
	Role        Role
}

// Roster keeps participants in the order they were added. Iteration order is
// what snapshots carry, so every client that applies the same events sees the
// same order.
type Roster struct {
	members []*Participant
}

func New(members ...Participant) *Roster {
	r := &Roster{}
	for _, p := range members {
		r.Add(p)
	}
	return r
}

// Add inserts p unless a participant with the same id is already present.
func (r *Roster) Add(p Participant) bool {
	if _, ok := r.Get(p.ID); ok {
		return false
	}
	if p.Role == "" {
		p.Role = RoleNormal
	}
	r.members = append(r.members, &p)
	return true
}

func (r *Roster) Remove(id string) bool {
	i := r.index(id)
	if i < 0 {
		return false
	}
	r.members = slices.Delete(r.members, i, i+1)
	return true
}

func (r *Roster) Get(id string) (Participant, bool) {
	i := r.index(id)
	if i < 0 {
		return Participant{}, false
	}
	return *r.members[i], true
}

func (r *Roster) Has(id string) bool { return r.index(id) >= 0 }

func (r *Roster) SetRole(id string, role Role) bool {
	i := r.index(id)
	if i < 0 {
		return false
	}
	r.members[i].Role = role
	return true
}

// StripModerators demotes every moderator to a normal participant.
func (r *Roster) StripModerators() {
	for _, p := range r.members {
		if p.Role == RoleModerator {
			p.Role = RoleNormal
		}
	}
}

func (r *Roster) IsModerator(id string) bool {
	p, ok := r.Get(id)
	return ok && p.Role == RoleModerator
}

func (r *Roster) Len() int { return len(r.members) }

// Members returns a copy of the roster in insertion order.
func (r *Roster) Members() []Participant {
	out := make([]Participant, 0, len(r.members))
	for _, p := range r.members {
		out = append(out, *p)
	}
	return out
}

// Replace swaps the whole membership, used when a resync snapshot is accepted.
func (r *Roster) Replace(members []Participant) {
	r.members = r.members[:0]
	for _, p := range members {
		r.Add(p)
	}
}

func (r *Roster) Leader() (Participant, bool) {
	return ElectLeader(r.Members())
}

func (r *Roster) IsLeader(id string) bool {
	leader, ok := r.Leader()
	return ok && leader.ID == id
}

func (r *Roster) index(id string) int {
	return slices.IndexFunc(r.members, func(p *Participant) bool { return p.ID == id })
}

// ElectLeader picks the oldest participant: lowest JoinedAt, ties broken by the
// lexicographically lowest id. The result does not depend on slice order.
func ElectLeader(members []Participant) (Participant, bool) {
	if len(members) == 0 {
		return Participant{}, false
	}
	leader := members[0]
	for _, p := range members[1:] {
		if p.JoinedAt < leader.JoinedAt || (p.JoinedAt == leader.JoinedAt && p.ID < leader.ID) {
			leader = p
		}
	}
	return leader, true
}

package types

import "fmt"

// ChatMessage as carried in a snapshot's chat log.
type ChatMessage struct {
	Author    string `json:"author"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
	Kind      string `json:"kind"`
}

// Snapshot is the full meeting state a syncMeeting message carries:
//
//	phase: "empty" | "waitingForParticipants" | "choosingVotingFormat" |
//	       "choosingModerators" | "mainDiscussion" | "decisionDiscussion" |
//	       "decisionVote" | "ended"
//	roster: Participant[]     // roster order is preserved
//	ready: string[]           // user ids that sent readyForMeeting
//	chatLog: ChatMessage[]    // arrival order
//	currentVote: Vote | null  // with ballots, isFinished and winnerID
//	votingMode: "consensus" | "absMajority" | "relMajority" | ""
type Snapshot struct {
	Phase       string        `json:"phase"`
	Roster      []Participant `json:"roster"`
	Ready       []string      `json:"ready,omitempty"`
	ChatLog     []ChatMessage `json:"chatLog"`
	CurrentVote *Vote         `json:"currentVote,omitempty"`
	VotingMode  string        `json:"votingMode,omitempty"`
}

func (s Snapshot) Validate() error {
	if s.Phase == "" {
		return missing("meeting.phase")
	}
	for _, p := range s.Roster {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("roster: %w", err)
		}
	}
	if s.CurrentVote != nil {
		if err := s.CurrentVote.Validate(); err != nil {
			return fmt.Errorf("currentVote: %w", err)
		}
	}
	switch s.VotingMode {
	case "", "consensus", "absMajority", "relMajority":
		return nil
	}
	return fmt.Errorf("unknown voting mode %q", s.VotingMode)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/DoyleJ11/meeting-sync/internal/meeting"
	"github.com/DoyleJ11/meeting-sync/internal/roster"
	"github.com/DoyleJ11/meeting-sync/internal/vote"
)

var errUsage = errors.New("usage")

// action runs on the session's owner goroutine.
type action func(ctx context.Context, c *meeting.Coordinator) error

const help = `commands:
  <text>                          chat
  /ready                          ready for the meeting
  /vote 1,3                       vote for items by number (empty withdraws)
  /select 2 | /unselect 2         mark items, then /submit
  /decide                         moderator: start a decision
  /propose title | item | item    moderator: put a vote up
  /finish                         close the current vote
  /remove @user                   propose removing a moderator
  /role @user normal|mod|none     change a role
  /end                            end the meeting
  /show                           print the meeting state
  /quit                           leave`

// parse turns one input line into an action. quit is set for /quit.
func parse(line string, out io.Writer) (act action, quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return func(ctx context.Context, c *meeting.Coordinator) error {
			return c.SendText(ctx, line)
		}, false, nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "help":
		fmt.Fprintln(out, help)
		return nil, false, nil

	case "ready":
		return func(ctx context.Context, c *meeting.Coordinator) error { return c.MarkReady(ctx) }, false, nil

	case "vote":
		nums, err := numbers(rest)
		if err != nil {
			return nil, false, err
		}
		return func(ctx context.Context, c *meeting.Coordinator) error {
			ids, err := itemIDs(c.View(), nums)
			if err != nil {
				return err
			}
			return c.CastBallot(ctx, ids)
		}, false, nil

	case "select", "unselect":
		nums, err := numbers(rest)
		if err != nil || len(nums) == 0 {
			return nil, false, fmt.Errorf("%w: /%s <item number>", errUsage, name)
		}
		on := name == "select"
		return func(_ context.Context, c *meeting.Coordinator) error {
			ids, err := itemIDs(c.View(), nums)
			if err != nil {
				return err
			}
			for _, id := range ids {
				if err := c.SelectItem(id, on); err != nil {
					return err
				}
			}
			return nil
		}, false, nil

	case "submit":
		return func(ctx context.Context, c *meeting.Coordinator) error { return c.SubmitSelection(ctx) }, false, nil

	case "decide":
		return func(ctx context.Context, c *meeting.Coordinator) error { return c.StartDecisionProcess(ctx) }, false, nil

	case "propose":
		spec, err := proposal(rest)
		if err != nil {
			return nil, false, err
		}
		return func(ctx context.Context, c *meeting.Coordinator) error {
			_, err := c.SubmitVote(ctx, spec)
			return err
		}, false, nil

	case "finish":
		return func(ctx context.Context, c *meeting.Coordinator) error { return c.FinishVote(ctx) }, false, nil

	case "remove":
		if rest == "" {
			return nil, false, fmt.Errorf("%w: /remove <user id>", errUsage)
		}
		return func(ctx context.Context, c *meeting.Coordinator) error {
			_, err := c.ProposeModeratorRemoval(ctx, rest)
			return err
		}, false, nil

	case "role":
		user, raw, _ := strings.Cut(rest, " ")
		role := roster.Role(strings.TrimSpace(raw))
		if user == "" || !role.Valid() {
			return nil, false, fmt.Errorf("%w: /role <user id> normal|mod|none", errUsage)
		}
		return func(ctx context.Context, c *meeting.Coordinator) error {
			return c.ChangeRole(ctx, user, role)
		}, false, nil

	case "end":
		return func(ctx context.Context, c *meeting.Coordinator) error { return c.EndMeeting(ctx) }, false, nil

	case "show":
		return func(_ context.Context, c *meeting.Coordinator) error {
			render(out, c.View())
			return nil
		}, false, nil

	case "quit":
		return func(ctx context.Context, c *meeting.Coordinator) error { return c.Leave(ctx) }, true, nil
	}
	return nil, false, fmt.Errorf("unknown command /%s, try /help", name)
}

// numbers parses "1,3" or "1 3" into 1-based item numbers.
func numbers(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%w: item numbers start at 1, got %q", errUsage, f)
		}
		out = append(out, n)
	}
	return out, nil
}

func itemIDs(v meeting.View, nums []int) ([]string, error) {
	if v.Vote == nil {
		return nil, meeting.ErrNoCurrentVote
	}
	ids := make([]string, 0, len(nums))
	for _, n := range nums {
		if n > len(v.Vote.Items) {
			return nil, fmt.Errorf("%w: %d", meeting.ErrUnknownItem, n)
		}
		ids = append(ids, v.Vote.Items[n-1].ID)
	}
	return ids, nil
}

// proposal parses "title | item | item".
func proposal(s string) (vote.Spec, error) {
	parts := strings.Split(s, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < 3 || parts[0] == "" {
		return vote.Spec{}, fmt.Errorf("%w: /propose title | item | item", errUsage)
	}
	spec := vote.Spec{Title: parts[0]}
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		spec.Items = append(spec.Items, vote.ItemSpec{Description: p})
	}
	if len(spec.Items) < 2 {
		return vote.Spec{}, fmt.Errorf("%w: a vote needs two items", errUsage)
	}
	return spec, nil
}

func render(out io.Writer, v meeting.View) {
	fmt.Fprintf(out, "phase %s, mode %s, leader %s\n", v.Phase, v.VotingMode, v.Leader)
	for _, p := range v.Roster {
		fmt.Fprintf(out, "  %-24s %s\n", p.ID, p.Role)
	}
	if v.Vote == nil {
		return
	}
	state := "open"
	if v.Vote.Finished {
		state = "finished"
	}
	fmt.Fprintf(out, "vote %q (%s, %s)\n", v.Vote.Title, v.Vote.Mode, state)
	winner := ""
	for i, it := range v.Vote.Items {
		mark := " "
		if it.Selected {
			mark = "*"
		}
		fmt.Fprintf(out, " %s%d. %-20s %d\n", mark, i+1, it.Description, it.Count)
		if it.ID == v.Vote.Winner {
			winner = it.Description
		}
	}
	if v.Vote.Valid {
		fmt.Fprintf(out, "leading: %s\n", winner)
	}
}

package dispatch

import (
	"time"

	"github.com/nextcaller/sip-guard/extract"
)

// Action is what Handle did about a request.
type Action string

const (
	// ActionNone means the firewall already agreed with the allow-list.
	ActionNone = Action("none")
	// ActionBlock means a DROP rule was added for the source.
	ActionBlock = Action("block")
	// ActionUnblock means the DROP rule for the source was removed.
	ActionUnblock = Action("unblock")
	// ActionFailed means a block or unblock was attempted and failed.
	ActionFailed = Action("failed")
)

// Event describes a block or unblock attempt.  It exists to create a JSON
// envelope for publishing.  Action is always ActionBlock or ActionUnblock;
// Error is set if the attempt failed.  Verified is only meaningful for
// blocks, and records whether the follow-up check saw the new rule.
type Event struct {
	Time      time.Time `json:"time"`
	Action    Action    `json:"action"`
	IP        string    `json:"ip"`
	Method    string    `json:"method"`
	UserAgent string    `json:"user_agent"`
	Verified  bool      `json:"verified"`
	Error     string    `json:"error,omitempty"`
}

func newEvent(at time.Time, action Action, req *extract.Request) *Event {
	return &Event{
		Time:      at.UTC(),
		Action:    action,
		IP:        req.Source.String(),
		Method:    req.Method.String(),
		UserAgent: req.UserAgent,
	}
}

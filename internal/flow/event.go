package flow

import "strings"

// Kind is the shape of an inbound event.
type Kind int

const (
	KindCommand Kind = iota
	KindButton
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindButton:
		return "button"
	case KindText:
		return "text"
	}
	return "unknown"
}

// Command is an explicit menu or slash action.
type Command string

const (
	CmdStart      Command = "start"
	CmdMenu       Command = "menu"
	CmdCancel     Command = "cancel"
	CmdCreateDeal Command = "create_deal"
	CmdSupport    Command = "support"
	CmdHowItWorks Command = "how_it_works"
	CmdReviews    Command = "reviews"
	CmdBonuses    Command = "bonuses"
	CmdBindCard   Command = "bind_card"
	CmdAdmin      Command = "admin"
)

// Action is the closed set of deal buttons. The code travels in the button
// payload and is never trusted beyond picking the transition to attempt.
type Action string

const (
	ActionPay         Action = "pay"
	ActionSent        Action = "sent"
	ActionReceived    Action = "received"
	ActionNotReceived Action = "not_received"
)

// Actions lists every known action in display order.
var Actions = []Action{ActionPay, ActionSent, ActionReceived, ActionNotReceived}

// ParseAction maps a button code onto an Action.
func ParseAction(code string) (Action, bool) {
	a := Action(strings.ToLower(strings.TrimSpace(code)))
	for _, known := range Actions {
		if a == known {
			return a, true
		}
	}
	return "", false
}

// User is the identity supplied by the messaging layer.
type User struct {
	ID   int64
	Name string
}

// Event is one inbound interaction.
type Event struct {
	Kind Kind
	User User

	// Command and Arg are set for KindCommand; Arg carries the /start payload.
	Command Command
	Arg     string

	// Action and DealID are set for KindButton.
	Action Action
	DealID string

	Text string
}

// Package presence defines the contract between the bot and the presence
// network (Steam): session control, friends, direct messages and the events
// the network delivers.
package presence

import (
	"errors"
	"regexp"
)

// ID is a 64-bit Steam id in its 17 digit decimal form.
type ID string

var idPattern = regexp.MustCompile(`^[0-9]{17}$`)

// ErrInvalidID is returned for ids that are not 17 decimal digits.
var ErrInvalidID = errors.New("invalid Steam64 ID format")

// ParseID validates s as a Steam64 id.
func ParseID(s string) (ID, error) {
	if !idPattern.MatchString(s) {
		return "", ErrInvalidID
	}
	return ID(s), nil
}

// PersonaState is the visible online state of the bot account.
type PersonaState int

const (
	PersonaOffline PersonaState = iota
	PersonaOnline
)

func (s PersonaState) String() string {
	if s == PersonaOnline {
		return "online"
	}
	return "offline"
}

// Relationship is the friendship state between the bot and another account.
type Relationship int

const (
	RelationshipNone Relationship = iota
	RelationshipBlocked
	RelationshipRequestRecipient
	RelationshipFriend
	RelationshipRequestInitiator
	RelationshipIgnored
	RelationshipIgnoredFriend
)

func (r Relationship) String() string {
	switch r {
	case RelationshipBlocked:
		return "blocked"
	case RelationshipRequestRecipient:
		return "request_recipient"
	case RelationshipFriend:
		return "friend"
	case RelationshipRequestInitiator:
		return "request_initiator"
	case RelationshipIgnored:
		return "ignored"
	case RelationshipIgnoredFriend:
		return "ignored_friend"
	default:
		return "none"
	}
}

// LogOnDetails are the credentials used for a session.
type LogOnDetails struct {
	AccountName string
	Password    string
}

// Client is the presence network session. Calls must not block: results
// arrive later on Events.
type Client interface {
	LogOn(details LogOnDetails)
	// LogOff ends the session without triggering an automatic relogin.
	LogOff()
	SetPersona(state PersonaState, name string)
	ChatMessage(to ID, text string)
	AddFriend(id ID)
	RemoveFriend(id ID)
	// WebLogOn requests a fresh web session; the cookies arrive as a WebSession event.
	WebLogOn()
	Events() <-chan Event
}

package friends

import (
	"errors"

	"github.com/vovakirdan/serverbot/internal/presence"
)

// FriendLimitWarning is the friend count above which a warning is logged.
const FriendLimitWarning = 200

// Common errors for friend operations.
var (
	ErrNotLoggedIn        = errors.New("not logged in")
	ErrCannotSendRequests = errors.New("account cannot send friend requests")
	ErrMissingID          = errors.New("missing Steam64 ID")
	ErrAlreadyFriends     = errors.New("already friends")
	ErrNotFriends         = errors.New("not friends")
	ErrCannotFriendSelf   = errors.New("cannot send friend request to yourself")
)

// Service keeps the bot's view of its friend relationships and validates
// friend management requests against it. It is owned by the agent goroutine.
type Service struct {
	client        presence.Client
	relationships map[presence.ID]presence.Relationship
	canInvite     bool
}

// New creates a friends service backed by client.
func New(client presence.Client) *Service {
	return &Service{
		client:        client,
		relationships: make(map[presence.ID]presence.Relationship),
	}
}

// SetCanInvite records whether the account may send friend requests.
func (s *Service) SetCanInvite(can bool) {
	s.canInvite = can
}

// CanInvite reports whether the account may send friend requests.
func (s *Service) CanInvite() bool {
	return s.canInvite
}

// Replace installs a full snapshot and accepts every pending incoming request.
// It returns the accepted ids.
func (s *Service) Replace(snapshot map[presence.ID]presence.Relationship) []presence.ID {
	s.relationships = make(map[presence.ID]presence.Relationship, len(snapshot))
	var accepted []presence.ID
	for id, rel := range snapshot {
		s.relationships[id] = rel
		if rel == presence.RelationshipRequestRecipient {
			s.client.AddFriend(id)
			accepted = append(accepted, id)
		}
	}
	return accepted
}

// Update applies a single relationship change. Incoming requests are accepted;
// the return value reports whether that happened.
func (s *Service) Update(id presence.ID, rel presence.Relationship) bool {
	if rel == presence.RelationshipNone {
		delete(s.relationships, id)
	} else {
		s.relationships[id] = rel
	}
	if rel == presence.RelationshipRequestRecipient {
		s.client.AddFriend(id)
		return true
	}
	return false
}

// Count returns the number of known relationships.
func (s *Service) Count() int {
	return len(s.relationships)
}

// IsFriend checks whether id is an accepted friend.
func (s *Service) IsFriend(id presence.ID) bool {
	return s.relationships[id] == presence.RelationshipFriend
}

// SendRequest sends a friend invite from self to target.
func (s *Service) SendRequest(self presence.ID, target string) (presence.ID, error) {
	if self == "" {
		return "", ErrNotLoggedIn
	}
	if !s.canInvite {
		return "", ErrCannotSendRequests
	}
	id, err := parseTarget(target)
	if err != nil {
		return "", err
	}
	if id == self {
		return "", ErrCannotFriendSelf
	}
	if s.IsFriend(id) {
		return "", ErrAlreadyFriends
	}

	s.client.AddFriend(id)
	return id, nil
}

// Remove deletes an accepted friend.
func (s *Service) Remove(self presence.ID, target string) (presence.ID, error) {
	if self == "" {
		return "", ErrNotLoggedIn
	}
	id, err := parseTarget(target)
	if err != nil {
		return "", err
	}
	if !s.IsFriend(id) {
		return "", ErrNotFriends
	}

	s.client.RemoveFriend(id)
	return id, nil
}

// Reset forgets everything, used when the session ends.
func (s *Service) Reset() {
	s.relationships = make(map[presence.ID]presence.Relationship)
	s.canInvite = false
}

func parseTarget(target string) (presence.ID, error) {
	if target == "" {
		return "", ErrMissingID
	}
	return presence.ParseID(target)
}

package bridge

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/slack-go/slack"
)

// chatStore is the user and channel lookup surface the bridge reads
// through. It is satisfied by *slackStore; tests substitute a seeded fake.
type chatStore interface {
	SetBotUserID(id string)
	BotUserID() string
	UserByID(id string) (*slack.User, error)
	Update(user slack.User)
	IsBot(id string) bool
	ChannelByID(id string) (*slack.Channel, error)
	ChannelByName(name string) (*slack.Channel, error)
	MembersOf(channelID string) ([]string, error)
	Presence(userID string) (string, error)
}

// slackStore caches Slack user and channel lookups on top of the Web API.
// It is read from both the bridge loop and the RTM pump, hence the lock.
type slackStore struct {
	client *slack.Client

	mu        sync.RWMutex
	users     map[string]slack.User    // keyed by user ID
	channels  map[string]slack.Channel // keyed by channel ID
	members   map[string][]string      // channel ID → member user IDs
	botUserID string
}

func newSlackStore(client *slack.Client) *slackStore {
	return &slackStore{
		client:   client,
		users:    make(map[string]slack.User),
		channels: make(map[string]slack.Channel),
		members:  make(map[string][]string),
	}
}

func (s *slackStore) SetBotUserID(id string) {
	s.mu.Lock()
	s.botUserID = id
	s.mu.Unlock()
}

func (s *slackStore) BotUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.botUserID
}

// UserByID returns a user from cache, falling back to users.info.
func (s *slackStore) UserByID(id string) (*slack.User, error) {
	s.mu.RLock()
	user, ok := s.users[id]
	s.mu.RUnlock()
	if ok {
		return &user, nil
	}

	fetched, err := s.client.GetUserInfo(id)
	if err != nil {
		return nil, errors.Wrapf(err, "could not fetch user %s", id)
	}

	s.Update(*fetched)
	return fetched, nil
}

// Update stores the given user, replacing any cached copy.
func (s *slackStore) Update(user slack.User) {
	s.mu.Lock()
	s.users[user.ID] = user
	s.mu.Unlock()
}

// IsBot reports whether the user is a bot, from cache only. Unknown users
// are assumed human.
func (s *slackStore) IsBot(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	return ok && user.IsBot
}

// ChannelByID returns a conversation from cache, falling back to
// conversations.info.
func (s *slackStore) ChannelByID(id string) (*slack.Channel, error) {
	s.mu.RLock()
	channel, ok := s.channels[id]
	s.mu.RUnlock()
	if ok {
		return &channel, nil
	}

	fetched, err := s.client.GetConversationInfo(&slack.GetConversationInfoInput{
		ChannelID: id,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "could not fetch channel %s", id)
	}

	s.mu.Lock()
	s.channels[id] = *fetched
	s.mu.Unlock()
	return fetched, nil
}

// ChannelByName resolves a bare channel name (no leading #). The cache is
// consulted first; on a miss the full conversation list is walked once.
func (s *slackStore) ChannelByName(name string) (*slack.Channel, error) {
	s.mu.RLock()
	for _, channel := range s.channels {
		if channel.Name == name {
			c := channel
			s.mu.RUnlock()
			return &c, nil
		}
	}
	s.mu.RUnlock()

	params := &slack.GetConversationsParameters{
		ExcludeArchived: true,
		Limit:           200,
		Types:           []string{"public_channel", "private_channel"},
	}
	for {
		channels, cursor, err := s.client.GetConversations(params)
		if err != nil {
			return nil, errors.Wrap(err, "could not list conversations")
		}

		s.mu.Lock()
		for _, channel := range channels {
			s.channels[channel.ID] = channel
		}
		s.mu.Unlock()

		for i := range channels {
			if channels[i].Name == name {
				return &channels[i], nil
			}
		}

		if cursor == "" {
			return nil, errors.Errorf("no such channel %q", name)
		}
		params.Cursor = cursor
	}
}

// MembersOf lists the user IDs present in a conversation. The result is
// cached for the lifetime of the process; membership drift only affects
// mention highlighting, not relaying.
func (s *slackStore) MembersOf(channelID string) ([]string, error) {
	s.mu.RLock()
	cached, ok := s.members[channelID]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	var members []string

	params := &slack.GetUsersInConversationParameters{
		ChannelID: channelID,
		Limit:     200,
	}
	for {
		page, cursor, err := s.client.GetUsersInConversation(params)
		if err != nil {
			return nil, errors.Wrapf(err, "could not list members of %s", channelID)
		}
		members = append(members, page...)

		if cursor == "" {
			s.mu.Lock()
			s.members[channelID] = members
			s.mu.Unlock()
			return members, nil
		}
		params.Cursor = cursor
	}
}

// Presence asks Slack for the user's current presence.
func (s *slackStore) Presence(userID string) (string, error) {
	presence, err := s.client.GetUserPresence(userID)
	if err != nil {
		return "", errors.Wrapf(err, "could not fetch presence for %s", userID)
	}
	return presence.Presence, nil
}

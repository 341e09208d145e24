package bridge

import (
	"strings"

	"github.com/pkg/errors"
)

// Mapping ties one Slack channel to one IRC channel.
type Mapping struct {
	SlackChannel string
	IRCChannel   string
}

// channelMap is the bidirectional Slack↔IRC channel lookup. IRC channel
// names are stored lowercased; join keys are split off the configured value
// and kept aside for the JOIN command only.
type channelMap struct {
	mappings []Mapping
	keys     map[string]string // from "#test" to "password"
}

func newChannelMap(in map[string]string) (*channelMap, error) {
	m := &channelMap{
		keys: make(map[string]string),
	}

	for slackChannel, ircValue := range in {
		parts := strings.Split(ircValue, " ")
		ircChannel := strings.ToLower(parts[0])
		if len(parts) > 2 {
			return nil, errors.Errorf("IRC channel %q (for slack %q) is invalid, expected at most one key after the channel", ircValue, slackChannel)
		} else if len(parts) == 2 {
			m.keys[ircChannel] = parts[1]
		}

		m.mappings = append(m.mappings, Mapping{
			SlackChannel: slackChannel,
			IRCChannel:   ircChannel,
		})
	}

	// Check for duplicate channels
	for i, mapping := range m.mappings {
		for j, check := range m.mappings {
			if i == j {
				continue
			}
			if mapping.SlackChannel == check.SlackChannel || mapping.IRCChannel == check.IRCChannel {
				return nil, errors.New("channelMapping contains duplicate entries")
			}
		}
	}

	return m, nil
}

// IRCForSlack maps a Slack channel display name ("#general", or a bare
// group/DM name) to its IRC channel.
func (m *channelMap) IRCForSlack(name string) (string, bool) {
	for _, mapping := range m.mappings {
		if mapping.SlackChannel == name {
			return mapping.IRCChannel, true
		}
	}
	return "", false
}

// SlackForIRC is the inverted lookup, case-insensitive on the IRC side.
func (m *channelMap) SlackForIRC(channel string) (string, bool) {
	for _, mapping := range m.mappings {
		if strings.EqualFold(mapping.IRCChannel, channel) {
			return mapping.SlackChannel, true
		}
	}
	return "", false
}

func (m *channelMap) IRCChannels() []string {
	channels := make([]string, 0, len(m.mappings))
	for _, mapping := range m.mappings {
		channels = append(channels, mapping.IRCChannel)
	}
	return channels
}

func (m *channelMap) SlackChannels() []string {
	channels := make([]string, 0, len(m.mappings))
	for _, mapping := range m.mappings {
		channels = append(channels, mapping.SlackChannel)
	}
	return channels
}

// JoinCommand produces a single JOIN for every mapped IRC channel. Keyed
// channels come first so that the key list lines up.
func (m *channelMap) JoinCommand() string {
	var channels, keyedChannels, keys []string

	for _, mapping := range m.mappings {
		channel := mapping.IRCChannel
		key, keyed := m.keys[channel]

		if keyed {
			keyedChannels = append(keyedChannels, channel)
			keys = append(keys, key)
		} else {
			channels = append(channels, channel)
		}
	}

	keyedChannels = append(keyedChannels, channels...)

	command := "JOIN " + strings.Join(keyedChannels, ",")
	if len(keys) > 0 {
		command += " " + strings.Join(keys, ",")
	}
	return command
}

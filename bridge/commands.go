package bridge

import (
	"fmt"
	"regexp"
	"strings"
)

var commandPattern = regexp.MustCompile(`^(\w+)\s?(\w+)?`)

// commandContext carries everything a command handler may need: the bridge
// (for server state, channel mapping and registry access), the Slack channel
// the command was issued in, and the IRC channel it maps to.
type commandContext struct {
	bridge         *Bridge
	slackChannelID string
	ircChannel     string
}

type commandFunc func(ctx *commandContext, arg string) string

// commandSet routes /-style commands issued from Slack. Unknown commands
// fall through to help.
type commandSet struct {
	handlers map[string]commandFunc
}

func newCommandSet() *commandSet {
	return &commandSet{
		handlers: map[string]commandFunc{
			"online": commandOnline,
			"topic":  commandTopic,
			"help":   commandHelp,
		},
	}
}

// Dispatch parses the command text (prefix already stripped) and runs the
// matching handler, returning the reply for the originating Slack channel.
func (c *commandSet) Dispatch(ctx *commandContext, text string) string {
	match := commandPattern.FindStringSubmatch(text)
	if match == nil {
		return commandHelp(ctx, "")
	}

	handler, ok := c.handlers[match[1]]
	if !ok {
		handler = commandHelp
	}
	return handler(ctx, match[2])
}

func commandOnline(ctx *commandContext, arg string) string {
	channel := ctx.ircChannel
	if arg != "" {
		channel = arg
		if !strings.HasPrefix(channel, "#") {
			channel = "#" + channel
		}
	}

	names := ctx.bridge.ircListener.NamesIn(channel)
	if len(names) == 0 {
		return fmt.Sprintf("No users found on %s.", channel)
	}
	return fmt.Sprintf("Users on %s: %s", channel, strings.Join(names, ", "))
}

func commandTopic(ctx *commandContext, arg string) string {
	topic := ctx.bridge.ircListener.TopicOf(ctx.ircChannel)
	if topic == "" {
		return fmt.Sprintf("No topic set for %s.", ctx.ircChannel)
	}
	return fmt.Sprintf("Topic for %s: %s", ctx.ircChannel, topic)
}

func commandHelp(ctx *commandContext, arg string) string {
	return "Available commands: online [channel], topic, help"
}

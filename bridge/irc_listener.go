package bridge

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	irc "github.com/qaisjp/go-ircevent"
	log "github.com/sirupsen/logrus"
)

// IRCMessage is one IRC-side event on its way to a Slack channel.
type IRCMessage struct {
	IRCChannel string
	Username   string // "" for system messages
	Nick       string // nick the event concerns, for echo suppression
	Text       string
}

// channelState is the listener's view of one IRC channel.
type channelState struct {
	members map[string]bool
	topic   string
}

// ircListener is the single "official" IRC connection. It relays IRC
// traffic to Slack and keeps enough channel state to answer the online and
// topic commands.
type ircListener struct {
	conn   ircConn
	bridge *Bridge

	// Callbacks run on the connection's goroutine while the command
	// handlers read from the bridge loop.
	mu    sync.Mutex
	state map[string]*channelState
}

func newIRCListener(b *Bridge) *ircListener {
	i := &ircListener{
		conn:   b.newIRCConnection(b.Config.Nickname, b.Config.Nickname),
		bridge: b,
		state:  make(map[string]*channelState),
	}

	i.conn.AddCallback("001", i.onWelcome)
	i.conn.AddCallback("366", func(e *irc.Event) {
		log.Infof("Listener has joined IRC channel %s.", e.Arguments[1])
	})
	i.conn.AddCallback("353", i.onNamesReply)
	i.conn.AddCallback("332", i.onTopicReply)
	i.conn.AddCallback("TOPIC", i.onTopicChange)

	i.conn.AddCallback("PRIVMSG", i.onMessage)
	i.conn.AddCallback("NOTICE", i.onMessage)
	i.conn.AddCallback("CTCP_ACTION", i.onMessage)

	i.conn.AddCallback("INVITE", i.onInvite)
	i.conn.AddCallback("KICK", i.onKick)

	i.conn.AddCallback("JOIN", i.onJoin)
	i.conn.AddCallback("PART", i.onPart)
	i.conn.AddCallback("QUIT", i.onQuit)
	i.conn.AddCallback("NICK", i.onNickChange)

	i.conn.AddCallback("ERROR", func(e *irc.Event) {
		log.WithField("raw", e.Raw).Errorln("IRC error on listener connection")
	})

	return i
}

// Connect dials the server with the bot's retry budget. Exhaustion here is
// fatal for the whole process.
func (i *ircListener) Connect(server string) error {
	if err := connectWithRetries(i.conn, server, i.bridge.Config.IRCOptions.BotRetries); err != nil {
		return err
	}
	go i.conn.Loop()
	return nil
}

func (i *ircListener) Quit() {
	i.conn.SendRaw("QUIT :Bridge shutting down.")
	i.conn.Disconnect()
}

func (i *ircListener) onWelcome(e *irc.Event) {
	for _, command := range i.bridge.Config.AutoSendCommands {
		i.conn.SendRaw(strings.Join(command, " "))
	}

	i.conn.SendRaw(i.bridge.mapping.JoinCommand())
}

// eventChannel digs the channel name out of events that carry it either as
// a middle argument or as the trailing parameter.
func eventChannel(e *irc.Event) string {
	if len(e.Arguments) > 0 && strings.HasPrefix(e.Arguments[0], "#") {
		return e.Arguments[0]
	}
	return e.Message()
}

func (i *ircListener) channel(name string) *channelState {
	name = strings.ToLower(name)
	c, ok := i.state[name]
	if !ok {
		c = &channelState{members: make(map[string]bool)}
		i.state[name] = c
	}
	return c
}

func (i *ircListener) onNamesReply(e *irc.Event) {
	if len(e.Arguments) < 4 {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	c := i.channel(e.Arguments[2])
	for _, name := range strings.Fields(e.Message()) {
		c.members[strings.TrimLeft(name, "@+%&~")] = true
	}
}

func (i *ircListener) onTopicReply(e *irc.Event) {
	if len(e.Arguments) < 3 {
		return
	}
	i.mu.Lock()
	i.channel(e.Arguments[1]).topic = e.Message()
	i.mu.Unlock()
}

func (i *ircListener) onTopicChange(e *irc.Event) {
	if len(e.Arguments) < 1 {
		return
	}
	i.mu.Lock()
	i.channel(e.Arguments[0]).topic = e.Message()
	i.mu.Unlock()
}

// NamesIn lists the known members of an IRC channel, sorted.
func (i *ircListener) NamesIn(channel string) []string {
	i.mu.Lock()
	defer i.mu.Unlock()

	c, ok := i.state[strings.ToLower(channel)]
	if !ok {
		return nil
	}

	names := make([]string, 0, len(c.members))
	for name := range c.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TopicOf returns the last topic the server reported for the channel.
func (i *ircListener) TopicOf(channel string) string {
	i.mu.Lock()
	defer i.mu.Unlock()

	if c, ok := i.state[strings.ToLower(channel)]; ok {
		return c.topic
	}
	return ""
}

func (i *ircListener) isIgnoredHostmask(mask string) bool {
	for _, ban := range i.bridge.Config.IRCIgnores {
		if ban.Match(mask) {
			return true
		}
	}
	return false
}

func (i *ircListener) isFilteredMessage(text string) bool {
	for _, ban := range i.bridge.Config.IRCFilteredMessages {
		if ban.Match(text) {
			return true
		}
	}
	return false
}

func (i *ircListener) onMessage(e *irc.Event) {
	// Ignore private messages. If you decide to extend this to respond
	// to PMs, make sure you do not respond to NOTICEs.
	if len(e.Arguments) == 0 || !strings.HasPrefix(e.Arguments[0], "#") {
		return
	}

	if e.Nick == i.conn.GetNick() ||
		i.isIgnoredHostmask(e.Source) ||
		i.isFilteredMessage(e.Message()) {
		return
	}

	text := e.Message()
	switch e.Code {
	case "NOTICE":
		text = "*" + text + "*"
	case "CTCP_ACTION":
		text = "_" + text + "_"
	}

	i.bridge.ircRelayChan <- IRCMessage{
		IRCChannel: e.Arguments[0],
		Username:   e.Nick,
		Nick:       e.Nick,
		Text:       text,
	}
}

func (i *ircListener) onInvite(e *irc.Event) {
	if len(e.Arguments) < 2 {
		return
	}
	channel := e.Arguments[1]

	if _, ok := i.bridge.mapping.SlackForIRC(channel); ok {
		log.WithField("channel", channel).Infoln("Accepting IRC invite")
		i.conn.Join(channel)
	}
}

func (i *ircListener) onKick(e *irc.Event) {
	if len(e.Arguments) < 2 {
		return
	}
	channel, kicked := e.Arguments[0], e.Arguments[1]
	reason := e.Message()

	// Our own kick: rejoin.
	if kicked == i.conn.GetNick() {
		i.conn.Join(channel)
		return
	}

	i.mu.Lock()
	delete(i.channel(channel).members, kicked)
	i.mu.Unlock()

	i.bridge.ircRelayChan <- IRCMessage{
		IRCChannel: channel,
		Nick:       e.Nick,
		Text:       fmt.Sprintf("%s kicked %s from IRC. (%s)", e.Nick, kicked, reason),
	}

	i.bridge.shadowEventChan <- shadowEvent{kind: shadowKicked, nick: kicked, channel: channel}
}

func (i *ircListener) onJoin(e *irc.Event) {
	channel := eventChannel(e)

	i.mu.Lock()
	i.channel(channel).members[e.Nick] = true
	i.mu.Unlock()

	if !i.bridge.Config.IRCStatusNotices.Join || e.Nick == i.conn.GetNick() {
		return
	}

	i.bridge.ircRelayChan <- IRCMessage{
		IRCChannel: channel,
		Nick:       e.Nick,
		Text:       fmt.Sprintf("*%s* has joined the IRC channel", e.Nick),
	}
}

func (i *ircListener) onPart(e *irc.Event) {
	channel := e.Arguments[0]

	i.mu.Lock()
	delete(i.channel(channel).members, e.Nick)
	i.mu.Unlock()

	if !i.bridge.Config.IRCStatusNotices.Leave || e.Nick == i.conn.GetNick() {
		return
	}

	i.bridge.ircRelayChan <- IRCMessage{
		IRCChannel: channel,
		Nick:       e.Nick,
		Text:       fmt.Sprintf("*%s* has left the IRC channel", e.Nick),
	}
}

func (i *ircListener) onQuit(e *irc.Event) {
	// QUIT carries no channel; notify every mapped channel the nick was in.
	var channels []string

	i.mu.Lock()
	for name, c := range i.state {
		if c.members[e.Nick] {
			delete(c.members, e.Nick)
			channels = append(channels, name)
		}
	}
	i.mu.Unlock()

	if !i.bridge.Config.IRCStatusNotices.Leave || e.Nick == i.conn.GetNick() {
		return
	}

	for _, channel := range channels {
		if _, ok := i.bridge.mapping.SlackForIRC(channel); !ok {
			continue
		}
		i.bridge.ircRelayChan <- IRCMessage{
			IRCChannel: channel,
			Nick:       e.Nick,
			Text:       fmt.Sprintf("*%s* has quit the IRC channel", e.Nick),
		}
	}
}

func (i *ircListener) onNickChange(e *irc.Event) {
	newNick := e.Message()

	i.mu.Lock()
	for _, c := range i.state {
		if c.members[e.Nick] {
			delete(c.members, e.Nick)
			c.members[newNick] = true
		}
	}
	i.mu.Unlock()
}

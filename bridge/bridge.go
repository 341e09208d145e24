package bridge

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
)

type presenceEvent struct {
	UserID   string
	Presence string
}

type awayExpiry struct {
	userID string
	gen    int
}

type shadowEventKind int

const (
	shadowNames shadowEventKind = iota
	shadowAbort
	shadowBadNick
	shadowKicked
)

type shadowEvent struct {
	kind    shadowEventKind
	userID  string
	nick    string
	channel string
}

// chatClient is the slice of the Slack Web API the bridge posts through.
// It is satisfied by *slack.Client; tests substitute a recorder.
type chatClient interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
	OpenConversation(params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)
}

// A Bridge represents a bridging between a Slack team and channels on an
// IRC server. All mutable state (shadow registry, message queues) is owned
// by the loop goroutine; the Slack pump and IRC callbacks only talk to it
// through the channels below.
type Bridge struct {
	Config *Config

	client      chatClient
	store       chatStore
	slack       chatSession
	ircListener *ircListener
	shadows     *ShadowManager
	queues      *messageQueues
	mapping     *channelMap
	transform   *Transform
	commands    *commandSet

	connectedChan    chan *slack.Info
	slackMessageChan chan *slack.MessageEvent
	presenceChan     chan presenceEvent
	userChangeChan   chan slack.User
	ircRelayChan     chan IRCMessage
	shadowEventChan  chan shadowEvent
	awayChan         chan awayExpiry

	done chan bool
}

// New Bridge
func New(conf *Config) (*Bridge, error) {
	b := &Bridge{
		Config: conf,

		connectedChan:    make(chan *slack.Info),
		slackMessageChan: make(chan *slack.MessageEvent),
		presenceChan:     make(chan presenceEvent),
		userChangeChan:   make(chan slack.User),
		ircRelayChan:     make(chan IRCMessage, 64),
		shadowEventChan:  make(chan shadowEvent, 16),
		awayChan:         make(chan awayExpiry, 16),

		done: make(chan bool),
	}

	if err := conf.validate(); err != nil {
		return nil, errors.Wrap(err, "configuration invalid")
	}

	mapping, err := newChannelMap(conf.ChannelMapping)
	if err != nil {
		return nil, errors.Wrap(err, "channel mapping could not be set")
	}
	b.mapping = mapping

	client := slack.New(conf.Token, slack.OptionDebug(conf.Debug))
	b.client = client
	b.store = newSlackStore(client)
	b.slack = newSlackListener(b, client)
	b.ircListener = newIRCListener(b)
	b.shadows = newShadowManager(b)
	b.queues = newMessageQueues()
	b.commands = newCommandSet()
	b.transform = b.newTransform()

	go b.loop()

	return b, nil
}

// newTransform wires the text converter to the store and shadow registry.
// The registry closures run on the loop goroutine only.
func (b *Bridge) newTransform() *Transform {
	return &Transform{
		Emoji:  defaultEmoji,
		Suffix: b.Config.UserNickSuffix,
		ChannelName: func(id string) (string, bool) {
			channel, err := b.store.ChannelByID(id)
			if err != nil {
				return "", false
			}
			return channel.Name, true
		},
		UserName: func(id string) (string, bool) {
			user, err := b.store.UserByID(id)
			if err != nil {
				return "", false
			}
			return user.Name, true
		},
		NickForName: func(name string) (string, bool) {
			if s := b.shadows.ByName(name); s != nil {
				return s.nick, true
			}
			return "", false
		},
		NameForNick: func(nick string) (string, bool) {
			if s := b.shadows.ByNick(nick); s != nil {
				return s.slackName, true
			}
			return "", false
		},
	}
}

// Open all the connections required to run the bridge
func (b *Bridge) Open() error {
	b.slack.Open()

	if err := b.ircListener.Connect(b.Config.Server); err != nil {
		return errors.Wrap(err, "can't open irc connection")
	}

	return nil
}

// Close the Bridge
func (b *Bridge) Close() {
	b.done <- true
	<-b.done
}

func (b *Bridge) loop() {
	for {
		select {

		case info := <-b.connectedChan:
			b.handleSlackOpen(info)

		case ev := <-b.slackMessageChan:
			b.handleSlackMessage(ev)

		case p := <-b.presenceChan:
			b.handlePresence(p)

		case user := <-b.userChangeChan:
			b.handleUserChange(user)

		case msg := <-b.ircRelayChan:
			b.relayToSlack(msg)

		case ev := <-b.shadowEventChan:
			b.handleShadowEvent(ev)

		case exp := <-b.awayChan:
			b.shadows.awayExpired(exp)

		case <-b.done:
			b.slack.Close()
			b.ircListener.Quit()
			b.shadows.Close()
			close(b.done)
			return
		}
	}
}

// handleSlackOpen spawns shadows for everyone already active in a mapped
// channel when the RTM session opens.
func (b *Bridge) handleSlackOpen(info *slack.Info) {
	if info != nil && info.User != nil {
		b.store.SetBotUserID(info.User.ID)
	}

	for _, slackName := range b.mapping.SlackChannels() {
		channel, err := b.store.ChannelByName(strings.TrimPrefix(slackName, "#"))
		if err != nil {
			log.WithError(err).WithField("channel", slackName).Warnln("Mapped Slack channel not found")
			continue
		}

		members, err := b.store.MembersOf(channel.ID)
		if err != nil {
			log.WithError(err).WithField("channel", slackName).Warnln("Could not list channel members")
			continue
		}

		for _, id := range members {
			if id == b.store.BotUserID() {
				continue
			}
			user, err := b.store.UserByID(id)
			if err != nil || user.IsBot {
				continue
			}
			presence, err := b.store.Presence(id)
			if err != nil {
				log.WithError(err).WithField("user", user.Name).Debugln("Presence lookup failed")
				continue
			}
			if presence == "active" {
				b.shadows.Ensure(user)
			}
		}
	}
}

func (b *Bridge) isFilteredSlackMessage(text string) bool {
	for _, ban := range b.Config.SlackFilteredMessages {
		if ban.Match(text) {
			return true
		}
	}
	return false
}

func (b *Bridge) handleSlackMessage(ev *slack.MessageEvent) {
	if ev.Type != "message" {
		return
	}
	switch ev.SubType {
	case "", "me_message", "file_share":
	default:
		return
	}

	if ev.User == "" || ev.User == b.store.BotUserID() {
		return
	}
	if b.Config.MuteSlackbot && ev.User == "USLACKBOT" {
		log.Debugln("Muting slackbot")
		return
	}
	if ev.BotID != "" || b.store.IsBot(ev.User) {
		return
	}
	if b.isFilteredSlackMessage(ev.Text) {
		return
	}

	channel, err := b.store.ChannelByID(ev.Channel)
	if err != nil {
		log.WithError(err).WithField("channel", ev.Channel).Debugln("Dropping message, channel not visible")
		return
	}

	display := channel.Name
	if channel.IsChannel {
		display = "#" + display
	}

	ircChannel, ok := b.mapping.IRCForSlack(display)
	if !ok {
		log.WithField("channel", display).Debugln("Slack channel is not mapped, ignoring")
		return
	}

	if len(ev.Text) > 0 && b.Config.isCommandPrefix(ev.Text[0]) {
		ctx := &commandContext{
			bridge:         b,
			slackChannelID: ev.Channel,
			ircChannel:     ircChannel,
		}
		b.slack.SendMessage(b.commands.Dispatch(ctx, ev.Text[1:]), ev.Channel)
		return
	}

	b.queues.Push(ev.User, ircChannel, ev)
	b.dispatchFor(ev.User)
}

// dispatchFor flushes a user's queue through their shadow. Without a shadow
// the messages stay queued; the connect sequence ends in names events that
// call back in here.
func (b *Bridge) dispatchFor(userID string) {
	if !b.queues.Has(userID) {
		return
	}

	s := b.shadows.Get(userID)
	if s == nil {
		user, err := b.store.UserByID(userID)
		if err != nil {
			log.WithError(err).WithField("user", userID).Warnln("Dropping queue, user not found")
			b.queues.Forget(userID)
			return
		}
		b.shadows.Ensure(user)
		return
	}

	b.queues.Drain(userID, s.Joined, func(m queuedMessage) {
		b.deliverToIRC(s, m)
	})
}

func (b *Bridge) deliverToIRC(s *shadowUser, m queuedMessage) {
	ev := m.event

	switch ev.SubType {
	case "me_message":
		s.deliver(outbound{
			channel: m.ircChannel,
			text:    b.transform.ParseText(ev.Text),
			action:  true,
		})

	case "file_share":
		if len(ev.Files) == 0 {
			return
		}
		file := ev.Files[0]
		text := file.Permalink
		if comment := file.InitialComment.Comment; comment != "" {
			text = b.transform.ParseText(comment) + ":\r\n" + file.Permalink
		}
		s.deliver(outbound{channel: m.ircChannel, text: text})

	default:
		s.deliver(outbound{
			channel: m.ircChannel,
			text:    b.transform.ParseText(ev.Text),
		})
	}
}

func (b *Bridge) handlePresence(p presenceEvent) {
	switch p.Presence {
	case "active":
		if b.shadows.Get(p.UserID) != nil {
			b.shadows.CancelAway(p.UserID)
			return
		}
		user, err := b.store.UserByID(p.UserID)
		if err != nil {
			log.WithError(err).WithField("user", p.UserID).Debugln("Presence for unknown user")
			return
		}
		b.shadows.Ensure(user)

	case "away":
		b.shadows.ScheduleAway(p.UserID)
	}
}

func (b *Bridge) handleUserChange(user slack.User) {
	b.store.Update(user)

	// Re-read through the store; the event's own presence decides.
	stored, err := b.store.UserByID(user.ID)
	if err != nil {
		return
	}
	if user.Presence != "active" {
		return
	}

	if b.shadows.Get(user.ID) == nil {
		b.shadows.Ensure(stored)
	} else {
		b.shadows.Rename(stored)
	}
}

func (b *Bridge) handleShadowEvent(ev shadowEvent) {
	switch ev.kind {
	case shadowNames:
		if s := b.shadows.Get(ev.userID); s != nil {
			s.joined[strings.ToLower(ev.channel)] = true
			b.dispatchFor(ev.userID)
		}

	case shadowAbort:
		b.shadows.Remove(ev.userID)

	case shadowBadNick:
		b.handleBadNick(ev.userID)

	case shadowKicked:
		b.shadows.DestroyByNick(ev.nick, "Kicked from "+ev.channel)
	}
}

// handleBadNick reacts to a raw 432: the user gets a DM explaining why
// their messages stopped flowing, and the shadow goes away.
func (b *Bridge) handleBadNick(userID string) {
	s := b.shadows.Get(userID)
	if s == nil {
		return
	}
	name := s.slackName

	go func() {
		channel, _, _, err := b.client.OpenConversation(&slack.OpenConversationParameters{
			Users: []string{userID},
		})
		if err != nil {
			log.WithError(err).WithField("user", name).Errorln("Could not open DM for nick rejection")
			return
		}

		text := fmt.Sprintf("The IRC server rejected the nick derived from your name %q."+
			" Your messages will not be relayed to IRC until your name forms a valid nick.", name)
		if _, _, err := b.client.PostMessage(channel.ID, slack.MsgOptionText(text, false)); err != nil {
			log.WithError(err).WithField("user", name).Errorln("Could not send nick rejection DM")
		}
	}()

	// Remember the refusal so later queued messages do not reconnect the
	// same nick and repeat the DM. A rename clears it.
	b.shadows.MarkRejected(userID)
	b.shadows.Destroy(userID, "IRC server rejected the nick.")
	b.queues.Forget(userID)
}

// relayToSlack posts one IRC-side event into the mapped Slack channel.
// Only the registry reads happen on the loop; the store lookups and the
// post itself run in their own goroutine so that a cold cache cannot stall
// dispatch of later events.
func (b *Bridge) relayToSlack(msg IRCMessage) {
	// A shadow echoing its own user's message back would double-post.
	if msg.Nick != "" && b.shadows.NickExists(msg.Nick) {
		return
	}

	slackName, ok := b.mapping.SlackForIRC(msg.IRCChannel)
	if !ok {
		log.WithField("channel", msg.IRCChannel).Warnln("Ignoring message sent from an unmapped IRC channel.")
		return
	}

	// The nick replacement reads the shadow registry, which belongs to the
	// loop goroutine.
	text := b.transform.ReplaceUsernames(msg.Text)

	go b.postToChannel(slackName, msg.Username, text)
}

// postToChannel resolves the Slack channel, highlights member names and
// posts. Runs off the loop; the store may hit the Web API on a cache miss.
// Channels seen at open time are already cached by handleSlackOpen.
func (b *Bridge) postToChannel(slackName, username, text string) {
	channel, err := b.store.ChannelByName(strings.TrimPrefix(slackName, "#"))
	if err != nil {
		log.WithError(err).WithField("channel", slackName).Warnln("Mapped Slack channel not found")
		return
	}

	if memberIDs, err := b.store.MembersOf(channel.ID); err == nil {
		names := make([]string, 0, len(memberIDs))
		for _, id := range memberIDs {
			if user, err := b.store.UserByID(id); err == nil {
				names = append(names, user.Name)
			}
		}
		text = b.transform.HighlightNames(text, names)
	}

	b.postToSlack(channel.ID, username, text)
}

// postToSlack performs the Web API call; never call it from the loop.
func (b *Bridge) postToSlack(channelID, username, text string) {
	opts := []slack.MsgOption{
		slack.MsgOptionText(text, false),
		slack.MsgOptionParse(true),
	}

	if username != "" {
		opts = append(opts, slack.MsgOptionUsername(username))

		avatar := b.Config.AvatarURL
		if !avatar.Disabled && avatar.Template != "" && username != b.Config.Nickname {
			opts = append(opts, slack.MsgOptionIconURL(
				strings.ReplaceAll(avatar.Template, "$username", username)))
		}
	}

	if _, _, err := b.client.PostMessage(channelID, opts...); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"channel":  channelID,
			"username": username,
		}).Errorln("could not post message to Slack")
	}
}

package bridge

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	irc "github.com/qaisjp/go-ircevent"
	log "github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
)

// ircConn is the slice of the IRC client that the bridge drives. It is
// satisfied by *irc.Connection; tests substitute a fake.
type ircConn interface {
	Connect(server string) error
	Disconnect()
	Quit()
	Loop()
	Join(channel string)
	Nick(n string)
	GetNick() string
	Privmsg(target, message string)
	Action(target, message string)
	SendRaw(message string)
	SendRawf(format string, args ...interface{})
	AddCallback(eventcode string, callback func(e *irc.Event)) int
	Connected() bool
}

// outbound is one line-oriented payload on its way to an IRC channel.
type outbound struct {
	channel string
	text    string
	action  bool
}

// shadowUser is one Slack user's presence on IRC: a dedicated connection,
// the nick derived from their Slack name, the channels the server has
// confirmed, and an optional pending-disconnect timer.
type shadowUser struct {
	userID    string
	slackName string
	nick      string
	conn      ircConn

	joined map[string]bool

	awayTimer *time.Timer
	awayGen   int

	outbox chan outbound
	delay  time.Duration

	// closed on destroy so the dialing goroutine does not leak a
	// connection that won the race against Destroy
	stopped chan struct{}
}

func (s *shadowUser) Joined(channel string) bool {
	return s.joined[strings.ToLower(channel)]
}

// deliver hands a payload to the connection's writer goroutine. Per-user
// FIFO order is preserved because there is exactly one writer per shadow.
func (s *shadowUser) deliver(msg outbound) {
	s.outbox <- msg
}

// writeLoop paces messages onto the wire. The IRC library has no flood
// protection of its own, so the delay lives here.
func (s *shadowUser) writeLoop() {
	for msg := range s.outbox {
		select {
		case <-s.stopped:
			// Destroyed with lines still queued. Writing to the dead
			// connection would wedge this goroutine, so drop them.
			continue
		default:
		}

		text := strings.ReplaceAll(msg.text, "\r\n", "\n")
		for _, line := range strings.Split(text, "\n") {
			if msg.action {
				s.conn.Action(msg.channel, line)
			} else {
				s.conn.Privmsg(msg.channel, line)
			}
			time.Sleep(s.delay)
		}
	}
}

// ShadowManager owns the Slack-user-ID → shadow connection registry. All
// methods must be called from the bridge loop.
type ShadowManager struct {
	bridge  *Bridge
	clients map[string]*shadowUser

	// rejected maps a user ID to the nick the server refused with a 432,
	// so Ensure does not loop reconnecting it.
	rejected map[string]string

	// newConn builds a configured, unconnected IRC client. Swapped out in tests.
	newConn func(nick, username string) ircConn
}

func newShadowManager(b *Bridge) *ShadowManager {
	return &ShadowManager{
		bridge:   b,
		clients:  make(map[string]*shadowUser),
		rejected: make(map[string]string),
		newConn:  b.newIRCConnection,
	}
}

// newIRCConnection builds an IRC client carrying the shared TLS, SASL and
// server password settings from the config.
func (b *Bridge) newIRCConnection(nick, username string) ircConn {
	conn := irc.IRC(nick, username)

	if !b.Config.NoTLS {
		conn.UseTLS = true
		conn.TLSConfig = &tls.Config{
			InsecureSkipVerify: b.Config.InsecureSkipVerify,
		}
	}

	conn.Password = b.Config.IRCServerPass
	conn.UseSASL = b.Config.SaslLogin != ""
	conn.SASLLogin = b.Config.SaslLogin
	conn.SASLPassword = b.Config.SaslPassword

	conn.Debug = b.Config.Debug
	conn.VerboseCallbackHandler = b.Config.Debug

	return conn
}

func connectWithRetries(conn ircConn, server string, attempts int) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = conn.Connect(server); err == nil {
			return nil
		}
		log.WithError(err).WithField("attempt", attempt).Warnln("IRC connect failed")
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	return err
}

func (m *ShadowManager) Get(userID string) *shadowUser {
	return m.clients[userID]
}

// ByName finds a shadow by the Slack display name it was created for.
func (m *ShadowManager) ByName(slackName string) *shadowUser {
	for _, s := range m.clients {
		if s.slackName == slackName {
			return s
		}
	}
	return nil
}

// ByNick finds a shadow by its current IRC nick.
func (m *ShadowManager) ByNick(nick string) *shadowUser {
	for _, s := range m.clients {
		if s.nick == nick {
			return s
		}
	}
	return nil
}

// NickExists reports whether any live shadow currently uses this nick.
func (m *ShadowManager) NickExists(nick string) bool {
	return m.ByNick(nick) != nil
}

// Ensure creates and connects a shadow for the user unless one already
// exists or the user is a bot. Joins happen on the welcome event; queued
// messages drain once the server confirms membership.
func (m *ShadowManager) Ensure(user *slack.User) {
	if user == nil || user.IsBot {
		return
	}
	if _, ok := m.clients[user.ID]; ok {
		return
	}

	b := m.bridge
	nick := shadowNick(user.Name, b.Config.UserNickSuffix, b.Config.MaxNickLength)

	// A nick the server already refused stays down until a name change
	// derives a different one.
	if m.rejected[user.ID] == nick {
		return
	}
	delete(m.rejected, user.ID)

	s := &shadowUser{
		userID:    user.ID,
		slackName: user.Name,
		nick:      nick,
		conn:      m.newConn(nick, user.Name),
		joined:    make(map[string]bool),
		outbox:    make(chan outbound, 64),
		delay:     b.Config.IRCOptions.MessageDelay(),
		stopped:   make(chan struct{}),
	}

	// Sent from the connection's goroutine; the extra goroutine keeps a
	// busy bridge loop from stalling the IRC reader.
	userID := user.ID
	s.conn.AddCallback("001", func(e *irc.Event) {
		s.conn.SendRaw(b.mapping.JoinCommand())
	})
	s.conn.AddCallback("366", func(e *irc.Event) {
		channel := e.Arguments[1]
		go func() {
			b.shadowEventChan <- shadowEvent{kind: shadowNames, userID: userID, channel: channel}
		}()
	})
	s.conn.AddCallback("432", func(e *irc.Event) {
		go func() {
			b.shadowEventChan <- shadowEvent{kind: shadowBadNick, userID: userID}
		}()
	})

	m.clients[user.ID] = s

	log.WithFields(log.Fields{
		"user": user.Name,
		"nick": nick,
	}).Infoln("Connecting shadow IRC client")

	go func() {
		err := connectWithRetries(s.conn, b.Config.Server, b.Config.IRCOptions.ShadowRetries)

		select {
		case <-s.stopped:
			// Destroyed while still dialing.
			if s.conn.Connected() {
				s.conn.Disconnect()
			}
			return
		default:
		}

		if err != nil {
			log.WithError(err).WithField("user", user.Name).Errorln("Shadow ran out of connect attempts")
			b.shadowEventChan <- shadowEvent{kind: shadowAbort, userID: userID}
			return
		}
		s.conn.Loop()
	}()
	go s.writeLoop()
}

// Rename issues a NICK change if the user's Slack name no longer matches
// the shadow's nick, and records the new name either way.
func (m *ShadowManager) Rename(user *slack.User) {
	s, ok := m.clients[user.ID]
	if !ok {
		return
	}

	want := shadowNick(user.Name, m.bridge.Config.UserNickSuffix, m.bridge.Config.MaxNickLength)
	if s.nick != want {
		log.WithFields(log.Fields{
			"old": s.nick,
			"new": want,
		}).Infoln("Renaming shadow")
		s.conn.Nick(want)
		s.nick = want
	}
	s.slackName = user.Name
}

// ScheduleAway arms the grace timer. If the user comes back before it
// fires, CancelAway makes the flicker unobservable.
func (m *ShadowManager) ScheduleAway(userID string) {
	s, ok := m.clients[userID]
	if !ok {
		return
	}

	if s.awayTimer != nil {
		s.awayTimer.Stop()
	}
	s.awayGen++
	gen := s.awayGen

	b := m.bridge
	s.awayTimer = time.AfterFunc(b.Config.AwayGracePeriod(), func() {
		b.awayChan <- awayExpiry{userID: userID, gen: gen}
	})
}

func (m *ShadowManager) CancelAway(userID string) {
	s, ok := m.clients[userID]
	if !ok {
		return
	}
	if s.awayTimer != nil {
		s.awayTimer.Stop()
		s.awayTimer = nil
	}
	s.awayGen++
}

// awayExpired destroys the shadow if the fired timer is still the armed one.
func (m *ShadowManager) awayExpired(exp awayExpiry) {
	s, ok := m.clients[exp.userID]
	if !ok || s.awayTimer == nil || s.awayGen != exp.gen {
		return
	}
	m.Destroy(exp.userID, fmt.Sprintf("Slack user %s went away.", s.slackName))
}

// Destroy disconnects the shadow with the given quit reason and removes it
// from the registry.
func (m *ShadowManager) Destroy(userID, reason string) {
	s, ok := m.clients[userID]
	if !ok {
		return
	}

	if s.awayTimer != nil {
		s.awayTimer.Stop()
		s.awayTimer = nil
	}

	log.WithFields(log.Fields{
		"nick":   s.nick,
		"reason": reason,
	}).Infoln("Destroying shadow")

	close(s.stopped)
	if s.conn.Connected() {
		s.conn.SendRawf("QUIT :%s", reason)
		s.conn.Disconnect()
	}
	close(s.outbox)
	delete(m.clients, userID)
}

// MarkRejected records the shadow's current nick as refused by the server.
func (m *ShadowManager) MarkRejected(userID string) {
	if s, ok := m.clients[userID]; ok {
		m.rejected[userID] = s.nick
	}
}

// DestroyByNick tears down whichever shadow currently holds the nick.
func (m *ShadowManager) DestroyByNick(nick, reason string) {
	if s := m.ByNick(nick); s != nil {
		m.Destroy(s.userID, reason)
	}
}

// Remove drops the registry entry without issuing a disconnect, for
// connections that are already gone.
func (m *ShadowManager) Remove(userID string) {
	s, ok := m.clients[userID]
	if !ok {
		return
	}
	if s.awayTimer != nil {
		s.awayTimer.Stop()
	}
	close(s.stopped)
	close(s.outbox)
	delete(m.clients, userID)
}

// Close disconnects every shadow, for shutdown.
func (m *ShadowManager) Close() {
	for userID := range m.clients {
		m.Destroy(userID, "Bridge shutting down.")
	}
}

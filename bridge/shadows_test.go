package bridge

import (
	"fmt"
	"sync"
	"testing"
	"time"

	irc "github.com/qaisjp/go-ircevent"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu        sync.Mutex
	nick      string
	connected bool

	connectErr error

	raws     []string
	privmsgs []string
	actions  []string
	joins    []string

	callbacks map[string][]func(*irc.Event)
}

func newFakeConn(nick string) *fakeConn {
	return &fakeConn{
		nick:      nick,
		callbacks: make(map[string][]func(*irc.Event)),
	}
}

func (f *fakeConn) Connect(server string) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeConn) Quit() {}
func (f *fakeConn) Loop() {}

func (f *fakeConn) Join(channel string) {
	f.mu.Lock()
	f.joins = append(f.joins, channel)
	f.mu.Unlock()
}

func (f *fakeConn) Nick(n string) {
	f.mu.Lock()
	f.nick = n
	f.mu.Unlock()
}

func (f *fakeConn) GetNick() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nick
}

func (f *fakeConn) Privmsg(target, message string) {
	f.mu.Lock()
	f.privmsgs = append(f.privmsgs, target+" :"+message)
	f.mu.Unlock()
}

func (f *fakeConn) Action(target, message string) {
	f.mu.Lock()
	f.actions = append(f.actions, target+" :"+message)
	f.mu.Unlock()
}

func (f *fakeConn) SendRaw(message string) {
	f.mu.Lock()
	f.raws = append(f.raws, message)
	f.mu.Unlock()
}

func (f *fakeConn) SendRawf(format string, args ...interface{}) {
	f.SendRaw(fmt.Sprintf(format, args...))
}

func (f *fakeConn) AddCallback(eventcode string, callback func(e *irc.Event)) int {
	f.callbacks[eventcode] = append(f.callbacks[eventcode], callback)
	return 0
}

func (f *fakeConn) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConn) sentPrivmsgs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.privmsgs...)
}

func (f *fakeConn) sentActions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.actions...)
}

func (f *fakeConn) sentRaws() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.raws...)
}

// newTestBridge builds a bridge whose shadows connect through fakes and
// whose loop goroutine is not running; tests drive handlers directly.
func newTestBridge(t *testing.T, mappings map[string]string) (*Bridge, map[string]*fakeConn) {
	t.Helper()

	conf := MakeDefaultConfig()
	conf.Server = "irc.example.net:6697"
	conf.Nickname = "slack-bot"
	conf.Token = "xoxb-test"
	conf.IRCOptions.MessageDelayMs = 0

	mapping, err := newChannelMap(mappings)
	require.NoError(t, err)

	b := &Bridge{
		Config:  conf,
		mapping: mapping,

		ircRelayChan:    make(chan IRCMessage, 64),
		shadowEventChan: make(chan shadowEvent, 16),
		awayChan:        make(chan awayExpiry, 16),
	}
	b.client = &fakeClient{}
	b.store = newFakeStore()
	b.slack = &fakeSession{}
	b.queues = newMessageQueues()
	b.shadows = newShadowManager(b)
	b.commands = newCommandSet()
	b.transform = &Transform{
		Emoji:  defaultEmoji,
		Suffix: conf.UserNickSuffix,
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

	conns := make(map[string]*fakeConn)
	b.shadows.newConn = func(nick, username string) ircConn {
		conn := newFakeConn(nick)
		conns[username] = conn
		return conn
	}

	b.ircListener = &ircListener{
		conn:   newFakeConn(conf.Nickname),
		bridge: b,
		state:  make(map[string]*channelState),
	}

	return b, conns
}

func TestEnsureCreatesShadow(t *testing.T) {
	b, conns := newTestBridge(t, map[string]string{"#room": "irc-room"})

	b.shadows.Ensure(&slack.User{ID: "U1", Name: "alice"})

	s := b.shadows.Get("U1")
	require.NotNil(t, s)
	assert.Equal(t, "alice-slack", s.nick)
	assert.Equal(t, "alice", s.slackName)
	require.Contains(t, conns, "alice")

	// Idempotent
	b.shadows.Ensure(&slack.User{ID: "U1", Name: "alice"})
	assert.Len(t, b.shadows.clients, 1)
}

func TestEnsureIgnoresBots(t *testing.T) {
	b, _ := newTestBridge(t, map[string]string{"#room": "irc-room"})

	b.shadows.Ensure(&slack.User{ID: "B1", Name: "robot", IsBot: true})
	assert.Nil(t, b.shadows.Get("B1"))
}

func TestRenameIssuesNickChange(t *testing.T) {
	b, conns := newTestBridge(t, map[string]string{"#room": "irc-room"})

	b.shadows.Ensure(&slack.User{ID: "U1", Name: "alice"})
	b.shadows.Rename(&slack.User{ID: "U1", Name: "alicia"})

	s := b.shadows.Get("U1")
	assert.Equal(t, "alicia-slack", s.nick)
	assert.Equal(t, "alicia", s.slackName)
	assert.Eventually(t, func() bool {
		return conns["alice"].GetNick() == "alicia-slack"
	}, time.Second, 10*time.Millisecond)
}

func TestQueueDrainsOnNames(t *testing.T) {
	b, conns := newTestBridge(t, map[string]string{"#room": "irc-room"})

	ev := &slack.MessageEvent{}
	ev.Type = "message"
	ev.User = "U1"
	ev.Text = "hi"

	b.shadows.Ensure(&slack.User{ID: "U1", Name: "alice"})
	b.queues.Push("U1", "irc-room", ev)

	// Not joined yet: nothing may go out.
	b.dispatchFor("U1")
	assert.Empty(t, conns["alice"].sentPrivmsgs())
	assert.True(t, b.queues.Has("U1"))

	// The names event confirms membership and triggers the flush.
	b.handleShadowEvent(shadowEvent{kind: shadowNames, userID: "U1", channel: "irc-room"})

	assert.Eventually(t, func() bool {
		msgs := conns["alice"].sentPrivmsgs()
		return len(msgs) == 1 && msgs[0] == "irc-room :hi"
	}, time.Second, 10*time.Millisecond)
	assert.False(t, b.queues.Has("U1"))
}

func TestDispatchSubtypes(t *testing.T) {
	b, conns := newTestBridge(t, map[string]string{"#room": "irc-room"})

	b.shadows.Ensure(&slack.User{ID: "U1", Name: "alice"})
	b.handleShadowEvent(shadowEvent{kind: shadowNames, userID: "U1", channel: "irc-room"})

	me := &slack.MessageEvent{}
	me.Type = "message"
	me.SubType = "me_message"
	me.User = "U1"
	me.Text = "waves"

	file := &slack.MessageEvent{}
	file.Type = "message"
	file.SubType = "file_share"
	file.User = "U1"
	file.Files = []slack.File{{
		Permalink:      "https://files.example.com/f1",
		InitialComment: slack.Comment{Comment: "look at this"},
	}}

	b.queues.Push("U1", "irc-room", me)
	b.queues.Push("U1", "irc-room", file)
	b.dispatchFor("U1")

	assert.Eventually(t, func() bool {
		return len(conns["alice"].sentActions()) == 1 && len(conns["alice"].sentPrivmsgs()) == 2
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, "irc-room :waves", conns["alice"].sentActions()[0])
	assert.Equal(t, []string{
		"irc-room :look at this:",
		"irc-room :https://files.example.com/f1",
	}, conns["alice"].sentPrivmsgs())
}

func TestHeadOfLineStopsFlush(t *testing.T) {
	b, conns := newTestBridge(t, map[string]string{
		"#room":  "irc-room",
		"#other": "irc-other",
	})

	first := &slack.MessageEvent{}
	first.Type = "message"
	first.User = "U1"
	first.Text = "first"

	second := &slack.MessageEvent{}
	second.Type = "message"
	second.User = "U1"
	second.Text = "second"

	b.shadows.Ensure(&slack.User{ID: "U1", Name: "alice"})
	b.queues.Push("U1", "irc-other", first)
	b.queues.Push("U1", "irc-room", second)

	// Only irc-room is joined; the pass must stop at the unjoined head.
	b.handleShadowEvent(shadowEvent{kind: shadowNames, userID: "U1", channel: "irc-room"})
	assert.Empty(t, conns["alice"].sentPrivmsgs())
	assert.True(t, b.queues.Has("U1"))

	b.handleShadowEvent(shadowEvent{kind: shadowNames, userID: "U1", channel: "irc-other"})
	assert.Eventually(t, func() bool {
		return len(conns["alice"].sentPrivmsgs()) == 2
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{
		"irc-other :first",
		"irc-room :second",
	}, conns["alice"].sentPrivmsgs())
}

func TestAwayTimerCancellation(t *testing.T) {
	b, _ := newTestBridge(t, map[string]string{"#room": "irc-room"})

	b.shadows.Ensure(&slack.User{ID: "U1", Name: "alice"})
	b.shadows.ScheduleAway("U1")

	s := b.shadows.Get("U1")
	gen := s.awayGen

	// Back before the grace period: the pending expiry must be inert.
	b.shadows.CancelAway("U1")
	b.shadows.awayExpired(awayExpiry{userID: "U1", gen: gen})
	assert.NotNil(t, b.shadows.Get("U1"))

	// A stale generation never fires either.
	b.shadows.ScheduleAway("U1")
	b.shadows.awayExpired(awayExpiry{userID: "U1", gen: gen})
	assert.NotNil(t, b.shadows.Get("U1"))

	// The armed generation does.
	s = b.shadows.Get("U1")
	b.shadows.awayExpired(awayExpiry{userID: "U1", gen: s.awayGen})
	assert.Nil(t, b.shadows.Get("U1"))
}

func TestDestroySendsQuitReason(t *testing.T) {
	b, conns := newTestBridge(t, map[string]string{"#room": "irc-room"})

	b.shadows.Ensure(&slack.User{ID: "U1", Name: "alice"})
	assert.Eventually(t, func() bool {
		return conns["alice"].Connected()
	}, time.Second, 10*time.Millisecond)

	b.shadows.Destroy("U1", "Slack user alice went away.")

	assert.Nil(t, b.shadows.Get("U1"))
	assert.Contains(t, conns["alice"].sentRaws(), "QUIT :Slack user alice went away.")
	assert.False(t, conns["alice"].Connected())
}

func TestDestroyDropsPendingOutbox(t *testing.T) {
	conn := newFakeConn("alice-slack")
	s := &shadowUser{
		conn:    conn,
		outbox:  make(chan outbound, 8),
		stopped: make(chan struct{}),
	}

	s.deliver(outbound{channel: "#irc-room", text: "one"})
	s.deliver(outbound{channel: "#irc-room", text: "two\nthree"})

	// Destroyed before the writer got to them: nothing may reach the
	// dead connection.
	close(s.stopped)
	close(s.outbox)
	s.writeLoop()

	assert.Empty(t, conn.sentPrivmsgs())
	assert.Empty(t, conn.sentActions())
}

func TestDestroyByNick(t *testing.T) {
	b, _ := newTestBridge(t, map[string]string{"#room": "irc-room"})

	b.shadows.Ensure(&slack.User{ID: "U1", Name: "alice"})
	b.shadows.DestroyByNick("alice-slack", "Kicked from irc-room")
	assert.Nil(t, b.shadows.Get("U1"))

	// Unknown nicks are a no-op.
	b.shadows.DestroyByNick("nobody-slack", "whatever")
}

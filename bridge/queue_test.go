package bridge

import (
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
)

func slackMsg(user, text string) *slack.MessageEvent {
	ev := &slack.MessageEvent{}
	ev.Type = "message"
	ev.User = user
	ev.Text = text
	return ev
}

func TestQueuePreservesOrder(t *testing.T) {
	q := newMessageQueues()
	q.Push("U1", "#a", slackMsg("U1", "one"))
	q.Push("U1", "#a", slackMsg("U1", "two"))
	q.Push("U1", "#a", slackMsg("U1", "three"))

	var got []string
	q.Drain("U1", func(string) bool { return true }, func(m queuedMessage) {
		got = append(got, m.event.Text)
	})

	assert.Equal(t, []string{"one", "two", "three"}, got)
	assert.False(t, q.Has("U1"))
}

func TestQueueStopsAtUnjoinedChannel(t *testing.T) {
	q := newMessageQueues()
	q.Push("U1", "#a", slackMsg("U1", "one"))
	q.Push("U1", "#b", slackMsg("U1", "two"))
	q.Push("U1", "#a", slackMsg("U1", "three"))

	var got []string
	q.Drain("U1", func(channel string) bool { return channel == "#a" }, func(m queuedMessage) {
		got = append(got, m.event.Text)
	})

	// "three" stays behind the unjoined "#b" head.
	assert.Equal(t, []string{"one"}, got)
	assert.True(t, q.Has("U1"))

	got = nil
	q.Drain("U1", func(string) bool { return true }, func(m queuedMessage) {
		got = append(got, m.event.Text)
	})
	assert.Equal(t, []string{"two", "three"}, got)
	assert.False(t, q.Has("U1"))
}

func TestQueueIsolatesUsers(t *testing.T) {
	q := newMessageQueues()
	q.Push("U1", "#a", slackMsg("U1", "mine"))
	q.Push("U2", "#a", slackMsg("U2", "theirs"))

	var got []string
	q.Drain("U1", func(string) bool { return true }, func(m queuedMessage) {
		got = append(got, m.event.Text)
	})

	assert.Equal(t, []string{"mine"}, got)
	assert.True(t, q.Has("U2"))
}

func TestQueueForget(t *testing.T) {
	q := newMessageQueues()
	q.Push("U1", "#a", slackMsg("U1", "gone"))
	q.Forget("U1")
	assert.False(t, q.Has("U1"))
}

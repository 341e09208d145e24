package bridge

import (
	"github.com/slack-go/slack"
)

// queuedMessage is one Slack message waiting for its shadow to join the
// target IRC channel. The original event rides along so that subtype and
// file metadata survive until dispatch.
type queuedMessage struct {
	ircChannel string
	event      *slack.MessageEvent
}

// messageQueues buffers outbound messages per Slack user, in arrival order.
// Only the bridge loop touches it.
type messageQueues struct {
	pending map[string][]queuedMessage
}

func newMessageQueues() *messageQueues {
	return &messageQueues{
		pending: make(map[string][]queuedMessage),
	}
}

func (q *messageQueues) Push(userID, ircChannel string, event *slack.MessageEvent) {
	q.pending[userID] = append(q.pending[userID], queuedMessage{
		ircChannel: ircChannel,
		event:      event,
	})
}

func (q *messageQueues) Has(userID string) bool {
	return len(q.pending[userID]) > 0
}

// Drain sends the user's queued messages in FIFO order. The pass stops at
// the first message whose channel the shadow has not joined; a later names
// event retries the remainder, preserving head-of-line order.
func (q *messageQueues) Drain(userID string, joined func(channel string) bool, send func(queuedMessage)) {
	queue := q.pending[userID]

	var sent int
	for _, msg := range queue {
		if !joined(msg.ircChannel) {
			break
		}
		send(msg)
		sent++
	}

	if sent == len(queue) {
		delete(q.pending, userID)
	} else if sent > 0 {
		q.pending[userID] = queue[sent:]
	}
}

// Forget drops everything queued for a user.
func (q *messageQueues) Forget(userID string) {
	delete(q.pending, userID)
}

package bridge

import (
	log "github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
)

// chatSession is the real-time connection the bridge drives. It is
// satisfied by *slackListener; tests substitute a reply recorder.
type chatSession interface {
	Open()
	Close()
	SendMessage(text, channelID string)
}

// slackListener pumps Slack RTM events into the bridge loop's channels.
type slackListener struct {
	bridge *Bridge
	client *slack.Client
	rtm    *slack.RTM
}

func newSlackListener(b *Bridge, client *slack.Client) *slackListener {
	return &slackListener{
		bridge: b,
		client: client,
		rtm:    client.NewRTM(),
	}
}

func (s *slackListener) Open() {
	go s.rtm.ManageConnection()
	go s.pump()
}

func (s *slackListener) Close() {
	if err := s.rtm.Disconnect(); err != nil {
		log.WithError(err).Debugln("RTM disconnect failed")
	}
}

// SendMessage posts plain text over the RTM socket, used for command replies.
func (s *slackListener) SendMessage(text, channelID string) {
	s.rtm.SendMessage(s.rtm.NewOutgoingMessage(text, channelID))
}

func (s *slackListener) pump() {
	b := s.bridge

	for msg := range s.rtm.IncomingEvents {
		switch ev := msg.Data.(type) {
		case *slack.ConnectedEvent:
			log.Infoln("Connected to Slack")
			b.connectedChan <- ev.Info

		case *slack.MessageEvent:
			b.slackMessageChan <- ev

		case *slack.PresenceChangeEvent:
			if b.Config.DebugPresence {
				log.WithFields(log.Fields{
					"user":     ev.User,
					"presence": ev.Presence,
				}).Debugln("Presence change")
			}
			b.presenceChan <- presenceEvent{UserID: ev.User, Presence: ev.Presence}

		case *slack.UserChangeEvent:
			b.userChangeChan <- ev.User

		case *slack.RTMError:
			log.WithField("error", ev.Error()).Errorln("Slack RTM error")

		case *slack.InvalidAuthEvent:
			log.Fatalln("Slack rejected the configured token.")

		case *slack.DisconnectedEvent:
			log.WithField("intentional", ev.Intentional).Warnln("Disconnected from Slack, RTM will reconnect")
		}
	}
}

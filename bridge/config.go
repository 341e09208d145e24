package bridge

import (
	"encoding/json"
	"io"
	"time"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ConfigGlob wraps [glob.Glob] so that patterns can be compiled straight
// out of the config file.
type ConfigGlob struct {
	g glob.Glob
}

func (g ConfigGlob) Match(s string) bool {
	if g.g == nil {
		return false
	}
	return g.g.Match(s)
}

func (g *ConfigGlob) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}

	filter, err := glob.Compile(text)
	if err != nil {
		return err
	}

	g.g = filter
	return nil
}

// AvatarURL is either a template containing "$username", or disabled
// altogether by setting the config value to false.
type AvatarURL struct {
	Template string
	Disabled bool
}

func (a *AvatarURL) UnmarshalJSON(data []byte) error {
	var enabled bool
	if err := json.Unmarshal(data, &enabled); err == nil {
		a.Disabled = !enabled
		return nil
	}

	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}

	a.Template = text
	a.Disabled = false
	return nil
}

// StatusNotices controls which IRC membership changes get posted to Slack.
type StatusNotices struct {
	Join  bool
	Leave bool
}

// IRCOptions is the override bag for the IRC client behaviour shared by the
// bot and every shadow connection.
type IRCOptions struct {
	// Delay between two messages written on the same connection.
	MessageDelayMs int

	// Connect attempts for the bot. Exhaustion is fatal.
	BotRetries int

	// Connect attempts for a shadow. Exhaustion removes the shadow.
	ShadowRetries int
}

func (o IRCOptions) MessageDelay() time.Duration {
	return time.Duration(o.MessageDelayMs) * time.Millisecond
}

// Config to be passed to New
type Config struct {
	Server   string // Server address to use, example `irc.libera.chat:6697`.
	Nickname string // Nick of the bot connection, required to listen for messages in all cases
	Token    string // Slack API token

	// Map from Slack channel name (with leading # for public channels) to
	// IRC channel. The IRC side may carry a key after a space.
	ChannelMapping map[string]string

	// Message prefixes that mark a Slack message as a command.
	CommandCharacters []string

	IRCStatusNotices StatusNotices

	// String appended to a Slack name to form the shadow nick.
	UserNickSuffix string

	// Seconds a user may stay away before their shadow is reaped.
	IRCTimeout int

	IRCOptions IRCOptions

	// Longest nick the IRC server accepts, suffix included.
	MaxNickLength int

	AvatarURL AvatarURL

	// Raw IRC commands sent by the bot once registered, one command per tuple.
	AutoSendCommands [][]string

	// Drop messages authored by Slack's built-in slackbot.
	MuteSlackbot bool

	IRCServerPass string // Optional password for connecting to the IRC server

	// If not "", perform SASL authentication during connection.
	SaslLogin    string
	SaslPassword string

	// NoTLS controls whether to use TLS at all when connecting to the IRC server
	NoTLS bool

	// InsecureSkipVerify controls whether a client verifies the
	// server's certificate chain and host name.
	InsecureSkipVerify bool

	IRCIgnores            []ConfigGlob // Ignore IRC users with matching hostmask
	IRCFilteredMessages   []ConfigGlob // Ignore lines containing matched text from IRC
	SlackFilteredMessages []ConfigGlob // Ignore lines containing matched text from Slack

	Debug         bool
	DebugPresence bool
}

func MakeDefaultConfig() *Config {
	return &Config{
		UserNickSuffix: "-slack",
		IRCTimeout:     120,
		MaxNickLength:  maxNickLength,
		AvatarURL: AvatarURL{
			Template: "https://robohash.org/$username.png?set=set4",
		},
		IRCOptions: IRCOptions{
			MessageDelayMs: 500,
			BotRetries:     10,
			ShadowRetries:  5,
		},
	}
}

func LoadConfigInto(config *Config, r io.Reader) error {
	if err := json.NewDecoder(r).Decode(&config); err != nil {
		return err
	}

	return config.validate()
}

func (c *Config) validate() error {
	if c.Server == "" {
		return errors.New("missing server name")
	}
	if c.Nickname == "" {
		return errors.New("missing bot nickname")
	}
	if c.Token == "" {
		return errors.New("missing slack token")
	}
	if len(c.ChannelMapping) == 0 {
		return errors.New("channel mapping is missing or empty")
	}

	if c.IRCTimeout <= 0 {
		log.Warnln("ircTimeout must be positive, falling back to 120 seconds")
		c.IRCTimeout = 120
	}

	return nil
}

// AwayGracePeriod is how long a shadow survives its user going away.
func (c *Config) AwayGracePeriod() time.Duration {
	return time.Duration(c.IRCTimeout) * time.Second
}

func (c *Config) isCommandPrefix(b byte) bool {
	for _, ch := range c.CommandCharacters {
		if ch != "" && ch[0] == b {
			return true
		}
	}
	return false
}

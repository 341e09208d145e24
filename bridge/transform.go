package bridge

import (
	"regexp"
	"strings"
)

var (
	rxNewlines   = regexp.MustCompile(`\r\n|\r|\n`)
	rxChannelRef = regexp.MustCompile(`<#(C\w+)\|?(\w+)?>`)
	rxUserRef    = regexp.MustCompile(`<@(U\w+)\|?(\w+)?>`)
	rxRawLink    = regexp.MustCompile(`<([^!|>][^|>]*)>`)
	rxCmdToken   = regexp.MustCompile(`<!(\w+)\|?(\w+)?>`)
	rxEmoji      = regexp.MustCompile(`:([\w+-]+):`)
	rxMention    = regexp.MustCompile(`@(\S+)`)
	rxResidual   = regexp.MustCompile(`<[^|>]+\|([^>]+)>`)
)

var entityDecoder = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">")

var broadcastDecoder = strings.NewReplacer(
	"<!channel>", "@channel",
	"<!group>", "@group",
	"<!everyone>", "@everyone",
)

// Transform converts message text between Slack markup and IRC plain text.
// The lookup funcs close over the bridge's store and shadow registry; they
// are only invoked from the bridge loop, so no locking happens here.
type Transform struct {
	Emoji map[string]string

	// Slack ID lookups, used when a token carries no readable alias.
	ChannelName func(id string) (string, bool)
	UserName    func(id string) (string, bool)

	// Shadow registry snapshot accessors.
	NickForName func(slackName string) (string, bool)
	NameForNick func(nick string) (string, bool)

	// Highlight wraps a Slack member name so Slack renders it as a mention.
	Highlight func(name string) string

	// Suffix appended to shadow nicks, needed to recognise them on the way back.
	Suffix string

	nickToken *regexp.Regexp
}

// ParseText rewrites Slack markup into IRC plain text. The substitution
// order matters: later rules operate on the output of earlier ones.
func (t *Transform) ParseText(text string) string {
	text = rxNewlines.ReplaceAllLiteralString(text, " ")
	text = entityDecoder.Replace(text)
	text = broadcastDecoder.Replace(text)

	text = rxChannelRef.ReplaceAllStringFunc(text, func(token string) string {
		sub := rxChannelRef.FindStringSubmatch(token)
		if sub[2] != "" {
			return sub[2]
		}
		if t.ChannelName != nil {
			if name, ok := t.ChannelName(sub[1]); ok {
				return "#" + name
			}
		}
		return token
	})

	text = rxUserRef.ReplaceAllStringFunc(text, func(token string) string {
		sub := rxUserRef.FindStringSubmatch(token)
		if sub[2] != "" {
			return sub[2]
		}
		if t.UserName != nil {
			if name, ok := t.UserName(sub[1]); ok {
				return "@" + name
			}
		}
		return token
	})

	text = rxRawLink.ReplaceAllString(text, "$1")

	text = rxCmdToken.ReplaceAllStringFunc(text, func(token string) string {
		sub := rxCmdToken.FindStringSubmatch(token)
		if sub[2] != "" {
			return "<" + sub[2] + ">"
		}
		return "<" + sub[1] + ">"
	})

	text = rxEmoji.ReplaceAllStringFunc(text, func(token string) string {
		if unicode, ok := t.Emoji[token[1:len(token)-1]]; ok {
			return unicode
		}
		return token
	})

	// Rewrite @name to the shadow nick so IRC clients highlight properly.
	if t.NickForName != nil {
		text = rxMention.ReplaceAllStringFunc(text, func(token string) string {
			if nick, ok := t.NickForName(token[1:]); ok {
				return nick
			}
			return token
		})
	}

	return rxResidual.ReplaceAllString(text, "$1")
}

// ReplaceUsernames is the IRC→Slack pass: every token that looks like a
// shadow nick is replaced by the Slack name it was derived from.
func (t *Transform) ReplaceUsernames(text string) string {
	if t.NameForNick == nil {
		return text
	}

	if t.nickToken == nil {
		t.nickToken = regexp.MustCompile(`@?(\S+` + regexp.QuoteMeta(t.Suffix) + `\d?)`)
	}

	return t.nickToken.ReplaceAllStringFunc(text, func(token string) string {
		nick := strings.TrimPrefix(token, "@")
		if name, ok := t.NameForNick(nick); ok {
			return name
		}
		return token
	})
}

// HighlightNames wraps each channel member's display name occurring in text
// in the configured highlight form.
func (t *Transform) HighlightNames(text string, members []string) string {
	highlight := t.Highlight
	if highlight == nil {
		highlight = func(name string) string { return "@" + name }
	}

	for _, name := range members {
		if name == "" {
			continue
		}
		rx, err := regexp.Compile(`\b` + regexp.QuoteMeta(name) + `\b`)
		if err != nil {
			continue
		}
		text = rx.ReplaceAllLiteralString(text, highlight(name))
	}
	return text
}

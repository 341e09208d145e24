package bridge

import (
	"regexp"
	"strings"

	"github.com/mozillazg/go-unidecode"
)

// maxNickLength is the NICKLEN most servers default to. Servers with a
// longer limit can raise it through the maxNickLength config field.
const maxNickLength = 16

func isNickDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// isNickChar reports whether c is allowed anywhere in an RFC 1459 nick.
func isNickChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case isNickDigit(c):
		return true
	}
	switch c {
	case '-', '_', '[', ']', '\\', '`', '^', '{', '}', '|':
		return true
	}
	return false
}

var invalidNickRuns = regexp.MustCompile(` +`)

// sanitizeNick converts a Slack display name to a usable IRC nick fragment.
// Dots become dashes, anything non-ASCII is transliterated, and whatever is
// left over that IRC still refuses collapses into underscores.
func sanitizeNick(name string) string {
	if name == "" {
		return "_"
	}

	// Transliterate first so "émile" survives as "emile" rather than "_mile".
	// We make sure the result is not empty to prevent "🔴🔴" becoming "".
	if ascii := unidecode.Unidecode(name); ascii != "" {
		name = ascii
	}

	name = strings.ReplaceAll(name, ".", "-")

	nick := []byte(name)
	for i, c := range nick {
		if !isNickChar(c) {
			nick[i] = ' '
		}
	}
	nick = invalidNickRuns.ReplaceAllLiteral(nick, []byte{'_'})

	out := string(nick)

	// Nicks may not begin with a dash or a digit.
	if out[0] == '-' || isNickDigit(out[0]) {
		out = "_" + out
	}

	return out
}

// shadowNick derives the IRC nick for a Slack display name: sanitize,
// truncate to maxLen minus the suffix, then append the suffix.
func shadowNick(name, suffix string, maxLen int) string {
	nick := sanitizeNick(name)

	if max := maxLen - len(suffix); max > 0 && len(nick) > max {
		nick = nick[:max]
	}

	return nick + suffix
}

package bridge

// defaultEmoji is the static shortcode table used when expanding Slack
// :shortcodes: for IRC. Unknown codes pass through untouched, so this only
// needs to cover the codes people actually type.
var defaultEmoji = map[string]string{
	"+1":               "👍",
	"-1":               "👎",
	"100":              "💯",
	"angry":            "😠",
	"blush":            "😊",
	"broken_heart":     "💔",
	"clap":             "👏",
	"confused":         "😕",
	"cry":              "😢",
	"disappointed":     "😞",
	"eyes":             "👀",
	"fire":             "🔥",
	"grin":             "😁",
	"heart":            "❤",
	"joy":              "😂",
	"kissing_heart":    "😘",
	"laughing":         "😆",
	"muscle":           "💪",
	"neutral_face":     "😐",
	"ok_hand":          "👌",
	"open_mouth":       "😮",
	"party_popper":     "🎉",
	"pensive":          "😔",
	"point_up":         "☝",
	"pray":             "🙏",
	"rage":             "😡",
	"raised_hands":     "🙌",
	"relieved":         "😌",
	"rocket":           "🚀",
	"see_no_evil":      "🙈",
	"simple_smile":     ":)",
	"sleeping":         "😴",
	"smile":            "😄",
	"smiley":           "😃",
	"smirk":            "😏",
	"sob":              "😭",
	"stuck_out_tongue": "😛",
	"sunglasses":       "😎",
	"sweat_smile":      "😅",
	"tada":             "🎉",
	"thinking_face":    "🤔",
	"thumbsup":         "👍",
	"thumbsdown":       "👎",
	"unamused":         "😒",
	"wave":             "👋",
	"wink":             "😉",
}

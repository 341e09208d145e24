package bridge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	raw := `{
		"server": "irc.example.net:6697",
		"nickname": "slack-bot",
		"token": "xoxb-test",
		"channelMapping": {"#general": "#general-irc"},
		"commandCharacters": ["!", "."],
		"ircStatusNotices": {"join": true, "leave": false},
		"userNickSuffix": "-sl",
		"ircTimeout": 60,
		"avatarUrl": "https://avatars.example.com/$username.png",
		"autoSendCommands": [["PRIVMSG", "NickServ", "IDENTIFY hunter2"]],
		"muteSlackbot": true,
		"ircIgnores": ["*!*@spam.example.com"]
	}`

	conf := MakeDefaultConfig()
	require.NoError(t, LoadConfigInto(conf, strings.NewReader(raw)))

	assert.Equal(t, "irc.example.net:6697", conf.Server)
	assert.Equal(t, "slack-bot", conf.Nickname)
	assert.Equal(t, "-sl", conf.UserNickSuffix)
	assert.Equal(t, 60, conf.IRCTimeout)
	assert.True(t, conf.IRCStatusNotices.Join)
	assert.False(t, conf.IRCStatusNotices.Leave)
	assert.True(t, conf.MuteSlackbot)
	assert.Equal(t, "https://avatars.example.com/$username.png", conf.AvatarURL.Template)
	assert.False(t, conf.AvatarURL.Disabled)
	assert.Equal(t, [][]string{{"PRIVMSG", "NickServ", "IDENTIFY hunter2"}}, conf.AutoSendCommands)

	require.Len(t, conf.IRCIgnores, 1)
	assert.True(t, conf.IRCIgnores[0].Match("spammer!x@spam.example.com"))
	assert.False(t, conf.IRCIgnores[0].Match("friend!x@example.org"))

	assert.True(t, conf.isCommandPrefix('!'))
	assert.True(t, conf.isCommandPrefix('.'))
	assert.False(t, conf.isCommandPrefix('/'))
}

func TestLoadConfigDefaults(t *testing.T) {
	raw := `{
		"server": "irc.example.net:6697",
		"nickname": "slack-bot",
		"token": "xoxb-test",
		"channelMapping": {"#general": "#general-irc"}
	}`

	conf := MakeDefaultConfig()
	require.NoError(t, LoadConfigInto(conf, strings.NewReader(raw)))

	assert.Equal(t, "-slack", conf.UserNickSuffix)
	assert.Equal(t, 120, conf.IRCTimeout)
	assert.Equal(t, maxNickLength, conf.MaxNickLength)
	assert.Equal(t, 500, conf.IRCOptions.MessageDelayMs)
	assert.Equal(t, 10, conf.IRCOptions.BotRetries)
	assert.Equal(t, 5, conf.IRCOptions.ShadowRetries)
	assert.False(t, conf.AvatarURL.Disabled)
	assert.NotEmpty(t, conf.AvatarURL.Template)
}

func TestLoadConfigAvatarDisabled(t *testing.T) {
	raw := `{
		"server": "irc.example.net:6697",
		"nickname": "slack-bot",
		"token": "xoxb-test",
		"channelMapping": {"#general": "#general-irc"},
		"avatarUrl": false
	}`

	conf := MakeDefaultConfig()
	require.NoError(t, LoadConfigInto(conf, strings.NewReader(raw)))
	assert.True(t, conf.AvatarURL.Disabled)
}

func TestLoadConfigMissingFields(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing server", `{"nickname": "n", "token": "t", "channelMapping": {"#a": "#b"}}`},
		{"missing nickname", `{"server": "s", "token": "t", "channelMapping": {"#a": "#b"}}`},
		{"missing token", `{"server": "s", "nickname": "n", "channelMapping": {"#a": "#b"}}`},
		{"missing mapping", `{"server": "s", "nickname": "n", "token": "t"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := MakeDefaultConfig()
			assert.Error(t, LoadConfigInto(conf, strings.NewReader(tt.raw)))
		})
	}
}

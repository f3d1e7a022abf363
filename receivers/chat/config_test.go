package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ebpay-ops/alert-router/receivers"
)

func TestNewConfig(t *testing.T) {
	cases := []struct {
		name     string
		settings string
		decrypt  receivers.DecryptFunc
		expCfg   Config
		expErr   string
	}{
		{
			name:     "invalid JSON",
			settings: `{`,
			expErr:   "failed to unmarshal settings",
		},
		{
			name:     "missing bot token",
			settings: `{"chat_id": "-1001234"}`,
			expErr:   "could not find bot_token in settings",
		},
		{
			name:     "missing chat id",
			settings: `{"bot_token": "tok"}`,
			expErr:   "could not find chat_id in settings",
		},
		{
			name:     "chat id of a wrong type",
			settings: `{"bot_token": "tok", "chat_id": ["x"]}`,
			expErr:   "chat_id must be either a string or an int",
		},
		{
			name:     "defaults are applied",
			settings: `{"bot_token": "tok", "chat_id": "-1001234"}`,
			expCfg: Config{
				BotToken:  "tok",
				ChatID:    "-1001234",
				APIURL:    DefaultAPIURL,
				ParseMode: "HTML",
			},
		},
		{
			name:     "numeric chat id",
			settings: `{"bot_token": "tok", "chat_id": -1001234}`,
			expCfg: Config{
				BotToken:  "tok",
				ChatID:    "-1001234",
				APIURL:    DefaultAPIURL,
				ParseMode: "HTML",
			},
		},
		{
			name:     "custom api_url must carry two verbs",
			settings: `{"bot_token": "tok", "chat_id": "1", "api_url": "https://proxy.corp/bot%s"}`,
			expErr:   "api_url must contain two %s verbs",
		},
		{
			name:     "custom api_url",
			settings: `{"bot_token": "tok", "chat_id": "1", "api_url": "https://proxy.corp/bot%s/%s"}`,
			expCfg: Config{
				BotToken:  "tok",
				ChatID:    "1",
				APIURL:    "https://proxy.corp/bot%s/%s",
				ParseMode: "HTML",
			},
		},
		{
			name:     "parse mode None disables the field",
			settings: `{"bot_token": "tok", "chat_id": "1", "parse_mode": "none"}`,
			expCfg: Config{
				BotToken: "tok",
				ChatID:   "1",
				APIURL:   DefaultAPIURL,
			},
		},
		{
			name:     "parse mode is case-insensitive",
			settings: `{"bot_token": "tok", "chat_id": "1", "parse_mode": "markdown"}`,
			expCfg: Config{
				BotToken:  "tok",
				ChatID:    "1",
				APIURL:    DefaultAPIURL,
				ParseMode: "Markdown",
			},
		},
		{
			name:     "unknown parse mode",
			settings: `{"bot_token": "tok", "chat_id": "1", "parse_mode": "bbcode"}`,
			expErr:   "unknown parse_mode",
		},
		{
			name:     "token is resolved through decrypt",
			settings: `{"bot_token": "fallback", "chat_id": "1"}`,
			decrypt: func(key, fallback string) string {
				if key == "bot_token" {
					return "decrypted"
				}
				return fallback
			},
			expCfg: Config{
				BotToken:  "decrypted",
				ChatID:    "1",
				APIURL:    DefaultAPIURL,
				ParseMode: "HTML",
			},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			decrypt := c.decrypt
			if decrypt == nil {
				decrypt = receivers.NoopDecrypt
			}
			cfg, err := NewConfig(json.RawMessage(c.settings), decrypt)
			if c.expErr != "" {
				require.ErrorContains(t, err, c.expErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, c.expCfg, cfg)
		})
	}
}

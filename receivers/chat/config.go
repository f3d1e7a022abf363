package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ebpay-ops/alert-router/receivers"
)

const (
	// DefaultAPIURL is the bot API endpoint template. The verbs are filled
	// with the bot token and the method name.
	DefaultAPIURL = "https://api.telegram.org/bot%s/%s"

	DefaultParseMode = "HTML"
)

// SupportedParseMode is a map of all supported values for field `parse_mode`.
// Keys are the options accepted in settings, values are what the bot API
// expects. "None" disables the field entirely.
var SupportedParseMode = map[string]string{"Markdown": "Markdown", "MarkdownV2": "MarkdownV2", DefaultParseMode: "HTML", "None": ""}

type Config struct {
	BotToken             string `json:"bot_token,omitempty" yaml:"bot_token,omitempty"`
	ChatID               string `json:"chat_id,omitempty" yaml:"chat_id,omitempty"`
	APIURL               string `json:"api_url,omitempty" yaml:"api_url,omitempty"`
	ParseMode            string `json:"parse_mode,omitempty" yaml:"parse_mode,omitempty"`
	DisableNotifications bool   `json:"disable_notifications,omitempty" yaml:"disable_notifications,omitempty"`
}

type unmarshalConfig struct {
	BotToken             string `json:"bot_token,omitempty" yaml:"bot_token,omitempty"`
	ChatID               any    `json:"chat_id,omitempty" yaml:"chat_id,omitempty"`
	APIURL               string `json:"api_url,omitempty" yaml:"api_url,omitempty"`
	ParseMode            string `json:"parse_mode,omitempty" yaml:"parse_mode,omitempty"`
	DisableNotifications bool   `json:"disable_notifications,omitempty" yaml:"disable_notifications,omitempty"`
}

func NewConfig(jsonData json.RawMessage, decryptFn receivers.DecryptFunc) (Config, error) {
	settings := Config{}

	unmarshaledConfig := unmarshalConfig{}
	err := json.Unmarshal(jsonData, &unmarshaledConfig)
	if err != nil {
		return settings, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	settings.BotToken = unmarshaledConfig.BotToken
	settings.APIURL = unmarshaledConfig.APIURL
	settings.ParseMode = unmarshaledConfig.ParseMode
	settings.DisableNotifications = unmarshaledConfig.DisableNotifications

	settings.BotToken = decryptFn("bot_token", settings.BotToken)
	if settings.BotToken == "" {
		return settings, errors.New("could not find bot_token in settings")
	}

	// Group chat IDs are negative numbers, so the field arrives either as a
	// string or as a JSON number.
	switch chatID := unmarshaledConfig.ChatID.(type) {
	case string:
		settings.ChatID = chatID

	case float64:
		settings.ChatID = strconv.Itoa(int(chatID))

	case nil:
		return settings, errors.New("could not find chat_id in settings")

	default:
		return settings, errors.New("chat_id must be either a string or an int")
	}

	if settings.APIURL == "" {
		settings.APIURL = DefaultAPIURL
	} else if strings.Count(settings.APIURL, "%s") != 2 {
		return settings, fmt.Errorf("api_url must contain two %%s verbs, got %q", settings.APIURL)
	}

	if settings.ParseMode == "" {
		settings.ParseMode = DefaultParseMode
	}
	found := false
	for parseMode, value := range SupportedParseMode {
		if strings.EqualFold(settings.ParseMode, parseMode) {
			settings.ParseMode = value
			found = true
			break
		}
	}
	if !found {
		return settings, fmt.Errorf("unknown parse_mode, must be Markdown, MarkdownV2, HTML or None")
	}
	return settings, nil
}

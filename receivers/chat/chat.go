package chat

import (
	"context"
	"fmt"
	"mime/multipart"
	"regexp"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	jsoniter "github.com/json-iterator/go"

	"github.com/ebpay-ops/alert-router/receivers"
)

// Bot API limits, from https://limits.tginfo.me/en.
const (
	maxMessageLenRunes = 4096
	maxCaptionLenRunes = 1024
)

const (
	defaultPhotoTimeout   = 15 * time.Second
	defaultMessageTimeout = 10 * time.Second

	// NoteHTMLFallback marks a delivery that succeeded only after dropping
	// parse_mode.
	NoteHTMLFallback = "html-fallback"

	// NotePhotoFallback marks a delivery where the photo was rejected and
	// the caption went out as a plain message.
	NotePhotoFallback = "photo-fallback"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// The bot API has no <br> tag; line breaks are literal newlines.
var brTags = regexp.MustCompile(`(?i)<br\s*/?>`)

// Notifier is responsible for sending alert notifications to a chat group
// through the bot API.
type Notifier struct {
	*receivers.Base
	ns             receivers.WebhookSender
	settings       Config
	useProxy       bool
	proxyURL       string
	photoTimeout   time.Duration
	messageTimeout time.Duration
}

func New(fc receivers.FactoryConfig) (*Notifier, error) {
	settings, err := NewConfig(fc.Config.Settings, fc.Decrypt)
	if err != nil {
		return nil, err
	}
	photoTimeout, messageTimeout := defaultPhotoTimeout, defaultMessageTimeout
	if fc.Config.Timeout > 0 {
		photoTimeout, messageTimeout = fc.Config.Timeout, fc.Config.Timeout
	}
	return &Notifier{
		Base:           receivers.NewBase(fc.Config.Metadata(), fc.Logger),
		ns:             fc.NotificationService,
		settings:       settings,
		useProxy:       fc.Config.UseProxy,
		proxyURL:       fc.Config.Proxy,
		photoTimeout:   photoTimeout,
		messageTimeout: messageTimeout,
	}, nil
}

// Notify sends the notification as a photo with caption when an image is
// attached, as a plain message otherwise. A 400 from the bot API gets one
// fallback: entity errors retry without parse_mode, photo errors retry as
// a message. Anything else is a send failure.
func (cn *Notifier) Notify(ctx context.Context, n *receivers.Notification) (string, error) {
	l := cn.GetLogger(ctx)
	text := brTags.ReplaceAllString(n.Text, "\n")

	if len(n.Image) > 0 {
		resp, err := cn.sendPhoto(ctx, l, n.Image, text, cn.settings.ParseMode)
		if err == nil {
			return "", nil
		}
		switch {
		case isParseEntityError(resp):
			level.Warn(l).Log("msg", "Bot API rejected message entities, retrying as plain message", "description", describe(resp))
			if _, err := cn.sendMessage(ctx, l, text, ""); err != nil {
				return "", err
			}
			return NoteHTMLFallback, nil
		case isPhotoError(resp):
			level.Warn(l).Log("msg", "Bot API rejected photo, retrying as message", "description", describe(resp))
			if _, err := cn.sendMessage(ctx, l, text, cn.settings.ParseMode); err != nil {
				return "", err
			}
			return NotePhotoFallback, nil
		default:
			return "", sendError(resp, err)
		}
	}

	resp, err := cn.sendMessage(ctx, l, text, cn.settings.ParseMode)
	if err == nil {
		return "", nil
	}
	if isParseEntityError(resp) {
		level.Warn(l).Log("msg", "Bot API rejected message entities, retrying without parse_mode", "description", describe(resp))
		if _, err := cn.sendMessage(ctx, l, text, ""); err != nil {
			return "", err
		}
		return NoteHTMLFallback, nil
	}
	return "", sendError(resp, err)
}

func (cn *Notifier) sendPhoto(ctx context.Context, l log.Logger, photo []byte, caption, parseMode string) (*receivers.WebhookResponse, error) {
	caption, truncated := receivers.TruncateInRunes(caption, maxCaptionLenRunes)
	if truncated {
		level.Warn(l).Log("msg", "Truncated caption", "max_runes", maxCaptionLenRunes)
	}

	cmd, err := cn.newWebhookSyncCmd("sendPhoto", cn.photoTimeout, func(w *multipart.Writer) error {
		fw, err := w.CreateFormFile("photo", "alert.png")
		if err != nil {
			return fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := fw.Write(photo); err != nil {
			return fmt.Errorf("failed to write photo: %w", err)
		}
		return writeFormFields(w, cn.messageFields("caption", caption, parseMode))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create photo request: %w", err)
	}
	return cn.ns.SendWebhook(ctx, l, cmd)
}

func (cn *Notifier) sendMessage(ctx context.Context, l log.Logger, text, parseMode string) (*receivers.WebhookResponse, error) {
	text, truncated := receivers.TruncateInRunes(text, maxMessageLenRunes)
	if truncated {
		level.Warn(l).Log("msg", "Truncated message", "max_runes", maxMessageLenRunes)
	}

	cmd, err := cn.newWebhookSyncCmd("sendMessage", cn.messageTimeout, func(w *multipart.Writer) error {
		return writeFormFields(w, cn.messageFields("text", text, parseMode))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create message request: %w", err)
	}
	return cn.ns.SendWebhook(ctx, l, cmd)
}

func (cn *Notifier) messageFields(key, value, parseMode string) map[string]string {
	m := map[string]string{key: value}
	if parseMode != "" {
		m["parse_mode"] = parseMode
	}
	if cn.settings.DisableNotifications {
		m["disable_notification"] = "true"
	}
	return m
}

func (cn *Notifier) newWebhookSyncCmd(action string, timeout time.Duration, fn func(writer *multipart.Writer) error) (*receivers.SendWebhookSettings, error) {
	b := strings.Builder{}
	w := multipart.NewWriter(&b)

	boundary := receivers.GetBoundary()
	if boundary != "" {
		if err := w.SetBoundary(boundary); err != nil {
			return nil, err
		}
	}

	fw, err := w.CreateFormField("chat_id")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write([]byte(cn.settings.ChatID)); err != nil {
		return nil, err
	}

	if err := fn(w); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart: %w", err)
	}

	cmd := &receivers.SendWebhookSettings{
		URL:        fmt.Sprintf(cn.settings.APIURL, cn.settings.BotToken, action),
		Body:       b.String(),
		HTTPMethod: "POST",
		HTTPHeader: map[string]string{
			"Content-Type": w.FormDataContentType(),
		},
		Timeout:  timeout,
		UseProxy: cn.useProxy,
		ProxyURL: cn.proxyURL,
	}
	return cmd, nil
}

func writeFormFields(w *multipart.Writer, fields map[string]string) error {
	for k, v := range fields {
		fw, err := w.CreateFormField(k)
		if err != nil {
			return fmt.Errorf("failed to create form field: %w", err)
		}
		if _, err := fw.Write([]byte(v)); err != nil {
			return fmt.Errorf("failed to write value: %w", err)
		}
	}
	return nil
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// describe extracts the bot API error description, falling back to the raw
// body.
func describe(resp *receivers.WebhookResponse) string {
	if resp == nil {
		return ""
	}
	var r apiResponse
	if err := json.Unmarshal(resp.Body, &r); err != nil || r.Description == "" {
		return string(resp.Body)
	}
	return r.Description
}

func isParseEntityError(resp *receivers.WebhookResponse) bool {
	return resp != nil && resp.StatusCode == 400 &&
		strings.Contains(strings.ToLower(describe(resp)), "can't parse entities")
}

func isPhotoError(resp *receivers.WebhookResponse) bool {
	if resp == nil || resp.StatusCode != 400 {
		return false
	}
	d := strings.ToLower(describe(resp))
	return strings.Contains(d, "photo") || strings.Contains(d, "image_process_failed") || strings.Contains(d, "wrong file identifier")
}

func sendError(resp *receivers.WebhookResponse, err error) error {
	if d := describe(resp); d != "" {
		return fmt.Errorf("chat send failed: %s: %w", d, err)
	}
	return fmt.Errorf("chat send failed: %w", err)
}

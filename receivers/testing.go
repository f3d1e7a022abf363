package receivers

import (
	"context"

	"github.com/go-kit/log"
)

// NotificationServiceMock records outbound requests for notifier tests.
type NotificationServiceMock struct {
	WebhookCalls []SendWebhookSettings
	Webhook      SendWebhookSettings
	EmailCalls   []SendEmailSettings

	// Response is returned for every webhook call. When Validation is set
	// on the request it runs against Response first, as the real sender
	// does.
	Response    WebhookResponse
	ShouldError error
}

func (ns *NotificationServiceMock) SendWebhook(_ context.Context, _ log.Logger, cmd *SendWebhookSettings) (*WebhookResponse, error) {
	ns.WebhookCalls = append(ns.WebhookCalls, *cmd)
	ns.Webhook = *cmd

	resp := ns.Response
	if resp.StatusCode == 0 {
		resp.StatusCode = 200
	}
	if ns.ShouldError != nil {
		return &resp, ns.ShouldError
	}
	if cmd.Validation != nil {
		if err := cmd.Validation(resp.Body, resp.StatusCode); err != nil {
			return &resp, err
		}
	}
	return &resp, nil
}

func (ns *NotificationServiceMock) SendEmail(_ context.Context, cmd *SendEmailSettings) error {
	ns.EmailCalls = append(ns.EmailCalls, *cmd)
	return ns.ShouldError
}

func MockNotificationService() *NotificationServiceMock { return &NotificationServiceMock{} }

package receivers

import (
	"context"

	"github.com/ebpay-ops/alert-router/alert"
)

// Notification is one alert prepared for delivery to one channel.
type Notification struct {
	Alert *alert.Alert

	// Text is the rendered message body.
	Text string

	// Image is an optional PNG attachment. Channels that cannot carry
	// images ignore it.
	Image []byte
}

// NotificationChannel delivers prepared notifications to one destination.
// The note return carries delivery remarks, e.g. that a fallback request
// shape was used, for the caller's outcome report.
type NotificationChannel interface {
	Notify(ctx context.Context, n *Notification) (note string, err error)
	GetSendResolved() bool
}

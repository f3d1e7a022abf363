package receivers

import (
	"context"

	"github.com/go-kit/log"

	"github.com/ebpay-ops/alert-router/utils"
)

// Base is the base implementation of a notifier. It contains the fields
// common across all channel types.
type Base struct {
	ID           string
	Type         string
	SendResolved bool
	logger       log.Logger
}

func (n *Base) GetSendResolved() bool {
	return n.SendResolved
}

func (n *Base) GetLogger(ctx context.Context) log.Logger {
	l := log.With(n.logger, "channel", n.ID, "integration", n.Type)
	if reqID := utils.RequestIDFromContext(ctx); reqID != "" {
		l = log.With(l, "request_id", reqID)
	}
	return l
}

// Metadata contains the identity of one configured channel.
type Metadata struct {
	ID           string
	Type         string
	SendResolved bool
}

func NewBase(cfg Metadata, logger log.Logger) *Base {
	return &Base{
		ID:           cfg.ID,
		Type:         cfg.Type,
		SendResolved: cfg.SendResolved,
		logger:       logger,
	}
}

package notify

import (
	"context"
	"log/slog"

	"github.com/kixikila/backend/internal/domain"
)

// LogDispatcher is a stand-in provider used in development builds: it
// records the would-be send instead of calling an external API.
type LogDispatcher struct {
	Channel string
	Logger  *slog.Logger
}

var _ Dispatcher = (*LogDispatcher)(nil)

func (d *LogDispatcher) Name() string { return d.Channel }

func (d *LogDispatcher) Send(_ context.Context, user domain.User, n domain.Notification) error {
	d.Logger.Info("dispatching notification",
		"channel", d.Channel,
		"userId", user.ID,
		"title", n.Title,
	)
	return nil
}

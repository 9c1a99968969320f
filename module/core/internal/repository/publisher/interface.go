package publisher

import (
	"context"

	"github.com/Mattboss10/ProjectCleanFlow/module/core/domain"
)

type Notifier interface {
	Notify(ctx context.Context, n *domain.Notification) error
}

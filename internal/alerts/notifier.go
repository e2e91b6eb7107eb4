package alerts

import (
	"context"
	"errors"
	"fmt"

	"okx-grid-bot/internal/config"

	"go.uber.org/zap"
)

type Sender interface {
	Name() string
	Send(ctx context.Context, message string) error
}

// Notifier fans a message out to every configured sender.
type Notifier struct {
	senders []Sender
	log     *zap.Logger
	onFail  func()
}

func NewNotifier(log *zap.Logger, senders ...Sender) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{senders: senders, log: log}
}

// FromConfig builds the notifier from the enabled channels.
func FromConfig(tg config.TelegramConfig, fs config.FeishuConfig, log *zap.Logger) *Notifier {
	var senders []Sender
	if tg.Enabled {
		senders = append(senders, NewTelegram(tg))
	}
	if fs.Enabled {
		senders = append(senders, NewFeishu(fs))
	}
	return NewNotifier(log, senders...)
}

// OnFailure registers a hook run once per failed delivery.
func (n *Notifier) OnFailure(fn func()) {
	n.onFail = fn
}

func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Send delivers message to every sender and joins their errors.
func (n *Notifier) Send(ctx context.Context, message string) error {
	if n == nil {
		return nil
	}
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, message); err != nil {
			if n.onFail != nil {
				n.onFail()
			}
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Notify is Send with failures logged instead of returned.
func (n *Notifier) Notify(ctx context.Context, message string) {
	if err := n.Send(ctx, message); err != nil {
		n.log.Warn("notification failed", zap.Error(err))
	}
}

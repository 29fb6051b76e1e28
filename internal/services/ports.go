package services

import (
	"context"

	"github.com/tbourn/whatsapp-storefront/internal/ai"
	"github.com/tbourn/whatsapp-storefront/internal/notify"
)

// Messenger delivers text to a customer's WhatsApp number and returns the
// provider message id.
type Messenger interface {
	SendText(ctx context.Context, to, body string) (string, error)
}

// ImageSender is implemented by messengers that can send a product photo.
type ImageSender interface {
	SendImage(ctx context.Context, to, link, caption string) (string, error)
}

// Responder generates the AI's next turn.
type Responder interface {
	Reply(ctx context.Context, req ai.Request) (string, error)
}

// Notifier receives operator notifications. Implementations must not block
// the caller on delivery.
type Notifier interface {
	Notify(ctx context.Context, ev notify.Event)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, notify.Event) {}

func notifierOrNoop(n Notifier) Notifier {
	if n == nil {
		return noopNotifier{}
	}
	return n
}

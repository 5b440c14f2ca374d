package push

import (
	"context"

	"github.com/google/uuid"

	"classlink/pkg/logger"
)

// TopicMessage is the payload of one topic push. The provider fans it out to
// every device subscribed to the topic in a single call.
type TopicMessage struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Provider is the opaque push boundary. Delivery confirmation is not awaited
// beyond the success/failure of the API call itself.
type Provider interface {
	SubscribeToTopic(ctx context.Context, userID uuid.UUID, topic string) error
	UnsubscribeFromTopic(ctx context.Context, userID uuid.UUID, topic string) error
	SendToTopic(ctx context.Context, topic string, msg TopicMessage) error
}

// Provider modes selectable through PUSH_PROVIDER_MODE.
const (
	ModeLog = "log"
	ModeOff = "off"
)

// FromMode selects the provider implementation for the configured mode.
// Unknown modes fall back to logging so a typo never silently drops pushes.
func FromMode(mode string, l *logger.Logger) Provider {
	switch mode {
	case ModeOff:
		return NoopProvider{}
	case ModeLog:
		return NewLogProvider(l)
	default:
		if l != nil {
			l.Errorf("unknown push provider mode %q, falling back to log", mode)
		}
		return NewLogProvider(l)
	}
}

// NoopProvider discards every call. For deployments where topic push is
// handled out of process.
type NoopProvider struct{}

func (NoopProvider) SubscribeToTopic(ctx context.Context, userID uuid.UUID, topic string) error {
	return nil
}

func (NoopProvider) UnsubscribeFromTopic(ctx context.Context, userID uuid.UUID, topic string) error {
	return nil
}

func (NoopProvider) SendToTopic(ctx context.Context, topic string, msg TopicMessage) error {
	return nil
}

// LogProvider satisfies Provider without an external service. Used in
// development and as the fallback when no provider is configured.
type LogProvider struct {
	logger *logger.Logger
}

func NewLogProvider(l *logger.Logger) *LogProvider {
	return &LogProvider{logger: l}
}

func (p *LogProvider) SubscribeToTopic(ctx context.Context, userID uuid.UUID, topic string) error {
	if p.logger != nil {
		p.logger.Infof("push: subscribe user=%s topic=%s", userID, topic)
	}
	return nil
}

func (p *LogProvider) UnsubscribeFromTopic(ctx context.Context, userID uuid.UUID, topic string) error {
	if p.logger != nil {
		p.logger.Infof("push: unsubscribe user=%s topic=%s", userID, topic)
	}
	return nil
}

func (p *LogProvider) SendToTopic(ctx context.Context, topic string, msg TopicMessage) error {
	if p.logger != nil {
		p.logger.Infof("push: send topic=%s title=%q", topic, msg.Title)
	}
	return nil
}

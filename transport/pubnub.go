package transport

import (
	"context"
	"fmt"
	"log/slog"

	pubnub "github.com/pubnub/go"

	"maixu-system/config"
	"maixu-system/utils"
)

// PubNubMessenger publishes bot messages to the group's chat channel.
// All publishes run behind a circuit breaker: the queue keeps working
// through a chat outage, members just see fewer confirmations.
type PubNubMessenger struct {
	pn      *pubnub.PubNub
	breaker *utils.CircuitBreaker
}

func NewPubNubMessenger(cfg *config.Config) *PubNubMessenger {
	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	return &PubNubMessenger{
		pn:      pubnub.NewPubNub(pnConfig),
		breaker: utils.NewCircuitBreaker("pubnub"),
	}
}

func channelFor(group string) string {
	return "group." + group
}

func (m *PubNubMessenger) SendMessage(ctx context.Context, group, text string) error {
	return m.publish(ctx, group, map[string]any{
		"type": "message",
		"text": text,
	})
}

func (m *PubNubMessenger) MentionMember(ctx context.Context, group, member, text string) error {
	return m.publish(ctx, group, map[string]any{
		"type":   "mention",
		"member": member,
		"text":   text,
	})
}

func (m *PubNubMessenger) publish(ctx context.Context, group string, message map[string]any) error {
	err := m.breaker.Execute(ctx, func(ctx context.Context) error {
		_, status, err := m.pn.Publish().
			Channel(channelFor(group)).
			Message(message).
			Execute()
		if err != nil {
			return fmt.Errorf("pubnub publish: %w", err)
		}
		if status.Error != nil {
			return fmt.Errorf("pubnub publish status %d: %w", status.StatusCode, status.Error)
		}
		return nil
	})
	if err != nil {
		slog.Warn("chat publish failed", "group", group, "error", err)
	}
	return err
}

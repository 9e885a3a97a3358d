package services

import "context"

// Messenger delivers bot output back into the group chat. Message
// delivery is best effort; queue state never depends on it.
type Messenger interface {
	SendMessage(ctx context.Context, group, text string) error
	MentionMember(ctx context.Context, group, member, text string) error
}

// NopMessenger drops everything. Used in tests and when the chat
// transport is not configured.
type NopMessenger struct{}

func (NopMessenger) SendMessage(ctx context.Context, group, text string) error {
	return nil
}

func (NopMessenger) MentionMember(ctx context.Context, group, member, text string) error {
	return nil
}

package executor

import (
	"context"
	"errors"

	"github.com/hupe1980/obsmesh/logging"
	"github.com/hupe1980/obsmesh/observation"
)

var (
	// ErrInboxFull is returned by TryPost when the inbox has no free slot.
	ErrInboxFull = errors.New("chat inbox full")
	// ErrEmptyMessage is returned when posting an empty message.
	ErrEmptyMessage = errors.New("chat message is empty")
)

type chatMessage struct {
	sender  string
	message string
}

// ChatChannelOptions configures a ChatChannel.
type ChatChannelOptions struct {
	// Buffer is the inbox capacity.
	Buffer int
	Logger logging.Logger
}

// ChatChannel produces chat observations from messages posted by the user.
// Execute waits for the next message; messages posted while nobody waits are
// queued in a buffered inbox.
type ChatChannel struct {
	inbox  chan chatMessage
	logger logging.Logger
}

// NewChatChannel creates a ChatChannel.
func NewChatChannel(optFns ...func(o *ChatChannelOptions)) *ChatChannel {
	opts := ChatChannelOptions{
		Buffer: 16,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ChatChannel{inbox: make(chan chatMessage, opts.Buffer), logger: logging.OrNoOp(opts.Logger)}
}

// Kind returns observation.KindChat.
func (c *ChatChannel) Kind() observation.Kind { return observation.KindChat }

// Parameters returns the argument schema. Chat actions take no arguments.
func (c *ChatChannel) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// Post queues a user message, blocking while the inbox is full.
func (c *ChatChannel) Post(ctx context.Context, sender, message string) error {
	if message == "" {
		return ErrEmptyMessage
	}
	select {
	case c.inbox <- chatMessage{sender: sender, message: message}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPost queues a user message without blocking.
func (c *ChatChannel) TryPost(sender, message string) error {
	if message == "" {
		return ErrEmptyMessage
	}
	select {
	case c.inbox <- chatMessage{sender: sender, message: message}:
		return nil
	default:
		return ErrInboxFull
	}
}

// Pending returns the number of queued messages.
func (c *ChatChannel) Pending() int { return len(c.inbox) }

// Execute waits for the next user message.
func (c *ChatChannel) Execute(ctx context.Context, a Action) (observation.Observation, error) {
	if err := checkKind(a, observation.KindChat); err != nil {
		return observation.Observation{}, err
	}

	ctx, cancel := withTimeout(ctx, a, 0)
	defer cancel()

	select {
	case m := <-c.inbox:
		return observation.Classify(observation.KindChat, observation.ChatPayload{
			Message: m.message,
			Sender:  m.sender,
		}, envelope(a))
	case <-ctx.Done():
		c.logger.Debug("Chat wait ended", "action_id", a.ID, "error", ctx.Err())
		return fail(observation.KindChat, a, FailureReason(ctx, ctx.Err()), ctx.Err())
	}
}

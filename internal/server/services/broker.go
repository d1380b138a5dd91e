package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/dmitrijs2005/docsync/internal/logging"
	"github.com/dmitrijs2005/docsync/internal/metrics"
	"github.com/dmitrijs2005/docsync/internal/server/models"
)

const topicPrefix = "documents."

func ownerTopic(ownerID string) string { return topicPrefix + ownerID }

// ChangeBroker fans document change events out to the owner's live
// subscribers. Events are not persisted; a subscriber that connects later
// catches up with a regular pull.
type ChangeBroker struct {
	pubsub *gochannel.GoChannel
	logger logging.Logger
}

func NewChangeBroker(logger logging.Logger) *ChangeBroker {
	l := logger.With("module", "change_broker")
	return &ChangeBroker{
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermillLogger{l: l}),
		logger: l,
	}
}

// Publish sends e to every subscriber of e.OwnerID.
func (b *ChangeBroker) Publish(ctx context.Context, e models.ChangeEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set("sync_id", e.SyncID)
	if err := b.pubsub.Publish(ownerTopic(e.OwnerID), msg); err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}
	metrics.ChangeEventsPublished.Inc()
	return nil
}

// Subscribe streams the owner's change events until ctx ends. The
// returned channel is closed afterwards.
func (b *ChangeBroker) Subscribe(ctx context.Context, ownerID string) (<-chan models.ChangeEvent, error) {
	messages, err := b.pubsub.Subscribe(ctx, ownerTopic(ownerID))
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", ownerID, err)
	}

	out := make(chan models.ChangeEvent, 16)
	go func() {
		defer close(out)
		for msg := range messages {
			var e models.ChangeEvent
			if err := json.Unmarshal(msg.Payload, &e); err != nil {
				b.logger.Warn(ctx, "dropping undecodable change event", "message_uuid", msg.UUID, "error", err)
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *ChangeBroker) Close() error {
	return b.pubsub.Close()
}

// watermillLogger adapts logging.Logger to watermill.LoggerAdapter.
type watermillLogger struct {
	l logging.Logger
}

func kv(fields watermill.LogFields) []any {
	args := make([]any, 0, 2*len(fields))
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

func (w watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.l.Error(context.Background(), msg, append(kv(fields), "error", err)...)
}

func (w watermillLogger) Info(msg string, fields watermill.LogFields) {
	w.l.Info(context.Background(), msg, kv(fields)...)
}

func (w watermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.l.Debug(context.Background(), msg, kv(fields)...)
}

// Trace is folded into Debug; the logger has no finer level.
func (w watermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.l.Debug(context.Background(), msg, kv(fields)...)
}

func (w watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillLogger{l: w.l.With(kv(fields)...)}
}

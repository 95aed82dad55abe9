package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"buildforge/internal/common/mq"
	"buildforge/internal/model"
	"buildforge/pkg/utils/contextkey"
	"buildforge/pkg/utils/logger"
)

const publishTimeout = 5 * time.Second

// EventPublisher emits build lifecycle events to a message queue.
// Publishing is best effort and never fails the request that produced
// the event. A nil publisher is a valid no-op.
type EventPublisher struct {
	queue mq.MessageQueue
	topic string
}

// NewEventPublisher creates a publisher for the given topic.
func NewEventPublisher(queue mq.MessageQueue, topic string) *EventPublisher {
	if queue == nil || topic == "" {
		return nil
	}
	return &EventPublisher{queue: queue, topic: topic}
}

// PublishFinished emits one event for a toolchain run that completed
// with any status.
func (p *EventPublisher) PublishFinished(ctx context.Context, event model.BuildEvent) {
	if p == nil || p.queue == nil {
		return
	}
	body, err := json.Marshal(event)
	if err != nil {
		logger.Warn(ctx, "encode build event failed", zap.Error(err))
		return
	}
	msg := mq.NewMessage(body)
	msg.ID = event.JobID
	msg.SetHeader("x-build-status", event.Status)

	ctxPub, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.queue.Publish(ctxPub, p.topic, msg); err != nil {
		logger.Warn(ctx, "publish build event failed", zap.Error(err))
	}
}

func traceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(contextkey.TraceID).(string); ok {
		return v
	}
	return ""
}

package abuse

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/mq"
	"judgeflow/internal/grading/events"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
)

// ShadowBanProjector consumes shadow ban events and records them in the ban set.
type ShadowBanProjector struct {
	consumer mq.Consumer
	banSet   cache.SetOps
	timeout  time.Duration
}

func NewShadowBanProjector(consumer mq.Consumer, banSet cache.SetOps, timeout time.Duration) *ShadowBanProjector {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &ShadowBanProjector{consumer: consumer, banSet: banSet, timeout: timeout}
}

// Start subscribes to topic and starts the consumer.
func (p *ShadowBanProjector) Start(ctx context.Context, topic, group string) error {
	if p.consumer == nil {
		return errors.New("consumer is nil")
	}
	if p.banSet == nil {
		return errors.New("ban set is nil")
	}
	opts := &mq.SubscribeOptions{ConsumerGroup: group, Concurrency: 2}
	if err := p.consumer.SubscribeWithOptions(ctx, topic, p.Handle, opts); err != nil {
		return err
	}
	return p.consumer.Start()
}

// Handle applies one event. Malformed events are dropped; store errors are returned for retry.
func (p *ShadowBanProjector) Handle(ctx context.Context, message *mq.Message) error {
	if message == nil {
		return nil
	}
	var event events.ShadowBanEvent
	if err := json.Unmarshal(message.Body, &event); err != nil {
		logger.Warn(ctx, "parse shadow ban event failed", zap.String("message_id", message.ID), zap.Error(err))
		return nil
	}
	if event.EventType != events.TypeUserShadowBanned || event.UserID == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.banSet.SAdd(ctx, ShadowBannedSetKey, strconv.FormatInt(event.UserID, 10)); err != nil {
		return err
	}
	logger.Info(ctx, "user shadow banned",
		zap.Int64("user_id", event.UserID),
		zap.Int("cheating_flags", event.CheatingFlags),
	)
	return nil
}

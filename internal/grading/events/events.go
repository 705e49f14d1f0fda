// Package events publishes grading events to the message queue.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"judgeflow/internal/common/mq"
	appErr "judgeflow/pkg/errors"
)

const (
	TypeSubmissionGraded = "submission.graded"
	TypeUserShadowBanned = "user.shadow_banned"
	headerEventType      = "event_type"
)

// GradedEvent describes a finished and stored grading run.
type GradedEvent struct {
	EventType     string `json:"event_type"`
	SubmissionID  string `json:"submission_id"`
	UserID        int64  `json:"user_id"`
	SheetID       string `json:"sheet_id"`
	ProblemID     string `json:"problem_id"`
	LanguageID    int    `json:"language_id"`
	Verdict       string `json:"verdict"`
	TestsPassed   int    `json:"tests_passed"`
	TotalTests    int    `json:"total_tests"`
	TotalTimeMs   int64  `json:"total_time_ms"`
	MaxMemoryKb   int64  `json:"max_memory_kb"`
	AttemptNumber int    `json:"attempt_number"`
	Suspicious    bool   `json:"suspicious"`
	// ShadowBanned lets downstream rankings hide the user without telling them.
	ShadowBanned  bool   `json:"shadow_banned"`
	SubmittedAt   int64  `json:"submitted_at"`
}

// ShadowBanEvent announces that a user crossed the abuse threshold.
type ShadowBanEvent struct {
	EventType     string `json:"event_type"`
	UserID        int64  `json:"user_id"`
	CheatingFlags int    `json:"cheating_flags"`
	BannedAt      int64  `json:"banned_at"`
}

// Publisher writes grading events to their topics.
type Publisher struct {
	producer    mq.Producer
	gradedTopic string
	banTopic    string
	now         func() time.Time
}

// NewPublisher creates a Publisher. An empty topic disables that event.
func NewPublisher(producer mq.Producer, gradedTopic, banTopic string) *Publisher {
	return &Publisher{producer: producer, gradedTopic: gradedTopic, banTopic: banTopic, now: time.Now}
}

// PublishGraded publishes a submission.graded event keyed by user id.
func (p *Publisher) PublishGraded(ctx context.Context, event GradedEvent) error {
	if p == nil || p.producer == nil || p.gradedTopic == "" {
		return nil
	}
	if event.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	event.EventType = TypeSubmissionGraded
	return p.publish(ctx, p.gradedTopic, event.SubmissionID, event.UserID, event)
}

// PublishShadowBan publishes a user.shadow_banned event.
func (p *Publisher) PublishShadowBan(ctx context.Context, userID int64, flags int) error {
	if p == nil || p.producer == nil || p.banTopic == "" {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("shadow ban topic is not configured")
	}
	event := ShadowBanEvent{
		EventType:     TypeUserShadowBanned,
		UserID:        userID,
		CheatingFlags: flags,
		BannedAt:      p.now().Unix(),
	}
	id := fmt.Sprintf("ban-%d-%d", userID, event.BannedAt)
	return p.publish(ctx, p.banTopic, id, userID, event)
}

func (p *Publisher) publish(ctx context.Context, topic, id string, userID int64, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = id
	message.Key = strconv.FormatInt(userID, 10)
	if typed, ok := event.(interface{ eventType() string }); ok {
		message.SetHeader(headerEventType, typed.eventType())
	}
	if err := p.producer.Publish(ctx, topic, message); err != nil {
		return appErr.Wrapf(err, appErr.PublishFailed, "publish %s event failed", topic)
	}
	return nil
}

func (e GradedEvent) eventType() string    { return e.EventType }
func (e ShadowBanEvent) eventType() string { return e.EventType }

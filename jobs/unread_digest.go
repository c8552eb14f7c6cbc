package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/foreman-pm/foreman/internal/backend"
	jobmetrics "github.com/foreman-pm/foreman/internal/jobs"
)

// TaskUnreadDigest emails a digest to every identity with unread messages.
const TaskUnreadDigest = "messaging:unread-digest"

// DigestRecipient is one row of list_unread_digest.
type DigestRecipient struct {
	IdentityID string `db:"identity_id"`
	Email      string `db:"email"`
	Unread     int    `db:"unread"`
	Rooms      int    `db:"rooms"`
}

// DigestSource lists the identities owed a digest.
type DigestSource interface {
	UnreadDigest(ctx context.Context) ([]DigestRecipient, error)
}

// BackendDigestSource reads digest recipients through the backend client.
type BackendDigestSource struct {
	Client *backend.Client
}

// UnreadDigest calls list_unread_digest.
func (s BackendDigestSource) UnreadDigest(ctx context.Context) ([]DigestRecipient, error) {
	return backend.Rows[DigestRecipient](ctx, s.Client, backend.Call{Function: "list_unread_digest"})
}

// Enqueuer submits email tasks. *Client satisfies it.
type Enqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error)
}

// UnreadDigestPayload carries options for the digest run.
type UnreadDigestPayload struct {
	MinUnread int `json:"min_unread"`
}

// NewUnreadDigestTask builds a digest task.
func NewUnreadDigestTask(minUnread int) (*asynq.Task, error) {
	body, err := json.Marshal(UnreadDigestPayload{MinUnread: minUnread})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskUnreadDigest, body, asynq.Queue(QueueDefault)), nil
}

// UnreadDigestJob fans the digest out into one email task per recipient.
type UnreadDigestJob struct {
	Source  DigestSource
	Mail    Enqueuer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewUnreadDigestJob wires dependencies for the digest handler.
func NewUnreadDigestJob(source DigestSource, mail Enqueuer, logger *slog.Logger, metrics *jobmetrics.Metrics) *UnreadDigestJob {
	return &UnreadDigestJob{Source: source, Mail: mail, Logger: logger, Metrics: metrics}
}

// Handle processes TaskUnreadDigest tasks.
func (j *UnreadDigestJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Source == nil || j.Mail == nil {
		return errors.New("unread digest: handler not configured")
	}
	var payload UnreadDigestPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.MinUnread <= 0 {
		payload.MinUnread = 1
	}

	tracker := j.metrics().Track(TaskUnreadDigest)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	recipients, err := j.Source.UnreadDigest(ctx)
	if err != nil {
		logger.Error("load digest recipients", slog.Any("error", err))
		return err
	}

	sent := 0
	for _, rcpt := range recipients {
		if rcpt.Email == "" || rcpt.Unread < payload.MinUnread {
			continue
		}
		if _, err := j.Mail.EnqueueSendEmail(ctx, digestEmail(rcpt)); err != nil {
			logger.Error("enqueue digest email", slog.String("identity_id", rcpt.IdentityID), slog.Any("error", err))
			return err
		}
		sent++
	}
	j.metrics().AddDigestEmails(sent)
	logger.Info("unread digest enqueued", slog.Int("recipients", sent))
	return nil
}

func digestEmail(rcpt DigestRecipient) SendEmailPayload {
	subject := fmt.Sprintf("You have %d unread messages", rcpt.Unread)
	if rcpt.Unread == 1 {
		subject = "You have 1 unread message"
	}
	rooms := "1 room"
	if rcpt.Rooms != 1 {
		rooms = fmt.Sprintf("%d rooms", rcpt.Rooms)
	}
	return SendEmailPayload{
		To:      rcpt.Email,
		Subject: subject,
		Body:    fmt.Sprintf("Messages are waiting for you in %s.", rooms),
	}
}

func (j *UnreadDigestJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskUnreadDigest))
	}
	return slog.Default().With(slog.String("job", TaskUnreadDigest))
}

func (j *UnreadDigestJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}

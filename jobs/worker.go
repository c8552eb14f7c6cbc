package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	defaultConcurrency = 5
	digestMaxRetry     = 3
)

// WorkerConfig wires the worker. A nil Digest leaves only mail delivery
// enabled; an empty DigestCron registers the digest handler without
// scheduling it.
type WorkerConfig struct {
	Redis           asynq.RedisClientOpt
	Logger          *slog.Logger
	Concurrency     int
	Digest          *UnreadDigestJob
	DigestCron      string
	DigestMinUnread int
}

// Worker delivers mail and runs the scheduled unread digest.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// NewWorker constructs a Worker.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeSendEmail, MailJob{Logger: logger}.Handle)
	w := &Worker{
		server: asynq.NewServer(cfg.Redis, asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{QueueDefault: 1},
		}),
		mux:    mux,
		logger: logger,
	}
	if cfg.Digest == nil {
		return w, nil
	}
	mux.HandleFunc(TaskUnreadDigest, cfg.Digest.Handle)
	if cfg.DigestCron == "" {
		return w, nil
	}

	task, err := NewUnreadDigestTask(cfg.DigestMinUnread)
	if err != nil {
		return nil, err
	}
	w.scheduler = asynq.NewScheduler(cfg.Redis, &asynq.SchedulerOpts{Location: time.UTC})
	if _, err := w.scheduler.Register(cfg.DigestCron, task, asynq.Queue(QueueDefault), asynq.MaxRetry(digestMaxRetry)); err != nil {
		return nil, fmt.Errorf("schedule unread digest: %w", err)
	}
	logger.Info("unread digest scheduled", slog.String("cron", cfg.DigestCron))
	return w, nil
}

// Run processes tasks until ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
		defer w.scheduler.Shutdown()
	}
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	<-ctx.Done()
	w.logger.Info("worker stopping")
	w.server.Shutdown()
	return nil
}

// Client enqueues mail for delivery. It satisfies Enqueuer.
type Client struct {
	client *asynq.Client
}

// NewClient constructs a Client.
func NewClient(redis asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redis)}
}

// EnqueueSendEmail enqueues one email on the default queue.
func (c *Client) EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error) {
	task, err := NewSendEmailTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

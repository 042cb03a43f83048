// Package worker drains the exchange stream and writes transcripts to the
// database.
package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sportmate/internal/metrics"
	"sportmate/internal/queue"
	"sportmate/internal/storage"
)

type Worker struct {
	store         *storage.Store
	queue         *queue.StreamQueue
	maxJobRetries int
	logger        zerolog.Logger
	metrics       *metrics.Metrics
}

type Config struct {
	Store         *storage.Store
	Queue         *queue.StreamQueue
	MaxJobRetries int
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
}

func New(cfg Config) *Worker {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.MaxJobRetries < 0 {
		cfg.MaxJobRetries = 0
	}
	return &Worker{
		store:         cfg.Store,
		queue:         cfg.Queue,
		maxJobRetries: cfg.MaxJobRetries,
		logger:        cfg.Logger,
		metrics:       m,
	}
}

func (w *Worker) Start(ctx context.Context, concurrency int) error {
	if err := w.queue.EnsureGroup(ctx); err != nil {
		return err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	wg := sync.WaitGroup{}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.consumeLoop(ctx, slot)
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (w *Worker) consumeLoop(ctx context.Context, slot int) {
	log := w.logger.With().Int("slot", slot).Logger()
	for {
		if err := ctx.Err(); err != nil {
			return
		}

		messages, err := w.queue.Read(ctx, 1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("failed to read queue")
			time.Sleep(1 * time.Second)
			continue
		}
		if len(messages) == 0 {
			continue
		}

		for _, msg := range messages {
			err := w.processJob(ctx, msg.Job)
			if err == nil {
				w.metrics.ProcessedJobs.Inc()
				if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
					log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack message")
				}
				continue
			}

			w.metrics.FailedJobs.Inc()
			log.Error().Err(err).Str("job_id", msg.Job.JobID).Int("attempt", msg.Job.Attempts).Msg("job failed")

			if msg.Job.Attempts < w.maxJobRetries {
				msg.Job.Attempts++
				if _, enqueueErr := w.queue.Enqueue(ctx, msg.Job); enqueueErr != nil {
					log.Error().Err(enqueueErr).Str("job_id", msg.Job.JobID).Msg("failed to re-enqueue failed job")
					continue
				}
				if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
					log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack after re-enqueue")
				}
				continue
			}

			// Retries exhausted, the transcript loses this turn.
			log.Error().Str("job_id", msg.Job.JobID).Str("session_id", msg.Job.SessionID).Msg("dropping exchange after terminal failure")
			if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
				log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack terminal failed message")
			}
		}
	}
}

// processJob writes one exchange. The session row is created on first
// contact, and the durable usage counter trails the Redis one.
func (w *Worker) processJob(ctx context.Context, job queue.ExchangeJob) error {
	if strings.TrimSpace(job.SessionID) == "" || strings.TrimSpace(job.UserID) == "" {
		return fmt.Errorf("job %s missing session or user", job.JobID)
	}

	if _, err := w.store.EnsureSession(ctx, job.SessionID, job.UserID); err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}

	var bot *string
	if job.BotMessage != "" {
		bot = &job.BotMessage
	}
	if _, err := w.store.AppendExchange(ctx, job.SessionID, job.UserID, job.UserMessage, bot); err != nil {
		return fmt.Errorf("append exchange: %w", err)
	}

	if _, err := w.store.IncrementUsage(ctx, job.UserID); err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

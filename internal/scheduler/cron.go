// Package scheduler drives the domain's periodic maintenance cadences by
// publishing lightweight tick events to the triggers queue, generalizing
// the teacher's robfig/cron wrapper (which published hourly/daily ticks
// for unrelated notification housekeeping) to the messagerie domain's own
// cadences:
//
//	every 20s  → Messagerie/triggers.cron.pump          (pump wake)
//	every 60s  → Messagerie/triggers.cron.resolverRetry  (DNS retry sweep)
//	every 5m   → Messagerie/triggers.cron.attachmentSweep (incoming sweep)
//
// Publishing a tick rather than calling the handler in-process keeps a
// single instance's triggers idempotent to receive even if multiple
// replicas of this service are running, matching the durable-queue shape
// the rest of the domain already uses.
package scheduler

import (
	"encoding/json"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/millegrilles/messagerie/internal/messagerie/constants"
	"github.com/millegrilles/messagerie/internal/platform/natsclient"
)

const (
	subjectPump            = constants.QueueTriggers + ".cron.pump"
	subjectResolverRetry   = constants.QueueTriggers + ".cron.resolverRetry"
	subjectAttachmentSweep = constants.QueueTriggers + ".cron.attachmentSweep"
)

// tickPayload is the JSON envelope published for each tick.
type tickPayload struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
}

// CronScheduler wraps robfig/cron and publishes tick events to NATS.
type CronScheduler struct {
	cron   *cron.Cron
	nats   *natsclient.Client
	logger *zap.Logger
}

// NewCronScheduler creates and configures the scheduler.
func NewCronScheduler(nc *natsclient.Client, logger *zap.Logger) *CronScheduler {
	return &CronScheduler{
		cron:   cron.New(cron.WithSeconds()),
		nats:   nc,
		logger: logger,
	}
}

// Start registers the cron jobs and starts the scheduler. Call Stop to
// gracefully shut down.
func (s *CronScheduler) Start() error {
	if _, err := s.cron.AddFunc("*/20 * * * * *", s.publishPump); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("0 * * * * *", s.publishResolverRetry); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("0 */5 * * * *", s.publishAttachmentSweep); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		zap.String("pump_subject", subjectPump),
		zap.String("resolver_retry_subject", subjectResolverRetry),
		zap.String("attachment_sweep_subject", subjectAttachmentSweep),
	)
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *CronScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("cron scheduler stopped")
}

func (s *CronScheduler) publishPump()            { s.publish(subjectPump, "cron.pump") }
func (s *CronScheduler) publishResolverRetry()    { s.publish(subjectResolverRetry, "cron.resolverRetry") }
func (s *CronScheduler) publishAttachmentSweep()  { s.publish(subjectAttachmentSweep, "cron.attachmentSweep") }

func (s *CronScheduler) publish(subject, event string) {
	payload := tickPayload{
		Event:     event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal cron payload", zap.Error(err))
		return
	}

	// Plain NATS, not JetStream: ticks are ephemeral signals, not events
	// that need at-least-once delivery.
	if err := s.nats.Conn.Publish(subject, data); err != nil {
		s.logger.Error("failed to publish cron tick", zap.String("subject", subject), zap.Error(err))
		return
	}

	s.logger.Debug("cron tick published", zap.String("subject", subject), zap.String("event", event))
}

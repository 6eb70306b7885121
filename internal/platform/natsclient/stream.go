package natsclient

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// StreamMessagerie is the durable stream backing the domain's
	// transaction, volatile command and trigger queues and its events.
	StreamMessagerie = "MESSAGERIE"
	// SubjectTransactions carries durable, replayable transaction commands.
	SubjectTransactions = "Messagerie/transactions.>"
	// SubjectVolatils carries request/response commands that do not need
	// durable redelivery (they are retried by the caller instead).
	SubjectVolatils = "Messagerie/volatils.>"
	// SubjectTriggers carries cron-driven maintenance ticks and the pump
	// wake signal.
	SubjectTriggers = "Messagerie/triggers.>"
	// SubjectEvenements carries the domain events published through
	// bus.Gateway.Emit (kind.domain.verb subjects).
	SubjectEvenements = "evenement.Messagerie.>"
)

var streamSubjects = []string{SubjectTransactions, SubjectVolatils, SubjectTriggers, SubjectEvenements}

// ProvisionStreams idempotently ensures the MESSAGERIE JetStream stream
// exists with the correct subject filter. It creates the stream on first run
// and is a no-op if the stream already exists.
func (c *Client) ProvisionStreams() error {
	info, err := c.JS.StreamInfo(StreamMessagerie)
	if err == nil {
		_ = info
		c.Log.Info("NATS stream already exists", zap.String("stream", StreamMessagerie))
		return nil
	}

	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info: %w", err)
	}

	cfg := &nats.StreamConfig{
		Name:      StreamMessagerie,
		Subjects:  streamSubjects,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	}

	if _, err := c.JS.AddStream(cfg); err != nil {
		return fmt.Errorf("create stream: %w", err)
	}

	c.Log.Info("NATS stream provisioned",
		zap.String("stream", StreamMessagerie),
		zap.Strings("subjects", streamSubjects),
	)
	return nil
}

// Package consumer wires the bus gateway's three durable queues
// (transactions, volatils, triggers) to the edge and aiguillage layers,
// generalizing the teacher's EventConsumer.Start pull/fetch/ack loop
// (now a single reusable bus.Subscribe) into three independent
// subscriptions instead of one.
package consumer

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/millegrilles/messagerie/internal/attachments"
	"github.com/millegrilles/messagerie/internal/bus"
	"github.com/millegrilles/messagerie/internal/dispatch"
	"github.com/millegrilles/messagerie/internal/edges"
	"github.com/millegrilles/messagerie/internal/messagerie/auth"
	"github.com/millegrilles/messagerie/internal/messagerie/constants"
	"github.com/millegrilles/messagerie/internal/platform/middleware"
	"github.com/millegrilles/messagerie/internal/pump"
	"github.com/millegrilles/messagerie/internal/resolver"
	"github.com/millegrilles/messagerie/internal/transactions"
)

// Consumer owns the subscriptions that drive the domain from the bus.
type Consumer struct {
	bus        *bus.Gateway
	edges      *edges.Edges
	aiguillage *transactions.Aiguillage
	dispatcher *dispatch.Dispatcher
	resolver   *resolver.Resolver
	tracker    *attachments.Tracker
	pump       *pump.Pump
	log        *zap.Logger
}

// New constructs a Consumer.
func New(b *bus.Gateway, e *edges.Edges, a *transactions.Aiguillage, d *dispatch.Dispatcher, r *resolver.Resolver, t *attachments.Tracker, p *pump.Pump, log *zap.Logger) *Consumer {
	return &Consumer{bus: b, edges: e, aiguillage: a, dispatcher: d, resolver: r, tracker: t, pump: p, log: log}
}

// Start registers all three subscriptions and runs until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.bus.Subscribe(ctx, constants.QueueTransactions+".>", "messagerie-transactions", c.handleTransaction); err != nil {
		return err
	}
	if err := c.bus.Subscribe(ctx, constants.QueueVolatils+".>", "messagerie-volatils", c.handleVolatil); err != nil {
		return err
	}
	if err := c.bus.Subscribe(ctx, constants.QueueTriggers+".>", "messagerie-triggers", c.handleTrigger); err != nil {
		return err
	}
	return nil
}

func extractAction(prefix, subject string) string {
	return strings.TrimPrefix(subject, prefix+".")
}

func (c *Consumer) handleTransaction(ctx context.Context, subject string, data []byte) error {
	action := extractAction(constants.QueueTransactions, subject)
	return c.aiguillage.Handle(ctx, action, data)
}

// volatilEnvelope is the wire shape of a command arriving on the volatils
// queue: the caller's claims, extracted upstream from its certificate by
// the bus transport, travel alongside the command payload rather than
// being trusted from the payload body itself.
type volatilEnvelope struct {
	UserID            string          `json:"user_id"`
	Tier              string          `json:"tier"`
	DelegationGlobale bool            `json:"delegation_globale"`
	Payload           json.RawMessage `json:"payload"`
}

func (c *Consumer) handleVolatil(ctx context.Context, subject string, data []byte) error {
	action := extractAction(constants.QueueVolatils, subject)

	var envelope volatilEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return bus.MarkPoisonPill(err)
	}

	ctx = middleware.WithUserID(ctx, envelope.UserID)
	ctx = middleware.WithTier(ctx, envelope.Tier)
	ctx = middleware.WithDelegationGlobale(ctx, envelope.DelegationGlobale)
	claims := auth.FromContext(ctx)

	resp, err := c.edges.HandleCommande(ctx, action, []byte(envelope.Payload), claims)
	if err != nil {
		return err
	}
	if !resp.OK {
		c.log.Debug("command rejected", zap.String("action", action), zap.String("err", resp.Err))
	}
	return nil
}

func (c *Consumer) handleTrigger(ctx context.Context, subject string, data []byte) error {
	action := extractAction(constants.QueueTriggers, subject)

	switch action {
	case constants.EvenementPompePoste:
		var msg struct {
			Idmgs []string `json:"idmgs"`
		}
		_ = json.Unmarshal(data, &msg)
		c.pump.Notify(msg.Idmgs)
		return nil
	case "cron.pump":
		c.pump.Notify(nil)
		return nil
	case "cron.attachmentSweep":
		return c.tracker.Sweep(ctx)
	case "cron.resolverRetry":
		return c.resolver.RetrySweep(ctx, c.dispatcher)
	default:
		c.log.Warn("unknown trigger action, dropping", zap.String("action", action))
		return nil
	}
}

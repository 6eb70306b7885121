// Package bus is the bus gateway: the domain's only inbound/outbound edge
// besides the document store. It wraps a platform NATS client with the
// domain's routing-key shape (kind.DOMAIN.verb) and security tiers,
// generalizing the teacher's EventConsumer.Start pull/fetch/ack loop into a
// reusable Subscribe call, and its plain-NATS cron publish into Publish.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/millegrilles/messagerie/internal/messagerie/constants"
	"github.com/millegrilles/messagerie/internal/platform/natsclient"
)

// Kind is the first routing-key segment, identifying the message's nature.
type Kind string

const (
	KindCommande    Kind = "commande"
	KindTransaction Kind = "transaction"
	KindEvenement   Kind = "evenement"
	KindRequete     Kind = "requete"
)

// Route is a single addressable verb on the bus: kind.domain.verb.
type Route struct {
	Kind   Kind
	Domain string
	Verb   string
	Tier   constants.Tier
}

// Subject renders the routing key.
func (r Route) Subject() string {
	return fmt.Sprintf("%s.%s.%s", r.Kind, r.Domain, r.Verb)
}

// Gateway is the bus gateway.
type Gateway struct {
	client *natsclient.Client
	log    *zap.Logger
}

// New wraps an already-connected client.
func New(client *natsclient.Client, log *zap.Logger) *Gateway {
	return &Gateway{client: client, log: log}
}

// defaultRequestTimeout bounds a synchronous round trip to a collaborating
// domain (resolver, file existence check, user directory).
const defaultRequestTimeout = 10 * time.Second

// Request issues a synchronous request/response call against route and
// decodes the reply into out.
func (g *Gateway) Request(ctx context.Context, route Route, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request %s: %w", route.Subject(), err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	msg, err := g.client.Conn.RequestWithContext(reqCtx, route.Subject(), body)
	if err != nil {
		return fmt.Errorf("request %s: %w", route.Subject(), err)
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(msg.Data, out)
}

// Emit publishes a durable, at-least-once event via JetStream. Used for
// domain events other subscribers must not miss (nouveauMessage,
// majContact, messageLu, messagesSupprimes, contactsSupprimes).
func (g *Gateway) Emit(ctx context.Context, route Route, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", route.Subject(), err)
	}
	if _, err := g.client.JS.Publish(route.Subject(), body); err != nil {
		return fmt.Errorf("emit %s: %w", route.Subject(), err)
	}
	return nil
}

// Publish sends an ephemeral, fire-and-forget signal on route's
// kind.domain.verb subject, for signals that need no redelivery if missed.
// The pompePoste wake goes through PublishRaw and the cron ticks are
// published by the scheduler itself, both on the triggers queue subjects.
func (g *Gateway) Publish(route Route, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal publish %s: %w", route.Subject(), err)
	}
	if err := g.client.Conn.Publish(route.Subject(), body); err != nil {
		return fmt.Errorf("publish %s: %w", route.Subject(), err)
	}
	return nil
}

// PublishRaw sends an ephemeral signal directly to subject, bypassing the
// kind.domain.verb routing-key convention Route.Subject() builds. Used for
// the triggers queue's own raw-subject scheme (Messagerie/triggers.<action>),
// the same one the cron scheduler publishes ticks to, so a pompePoste wake
// actually lands where the triggers subscription listens.
func (g *Gateway) PublishRaw(subject string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal publish %s: %w", subject, err)
	}
	if err := g.client.Conn.Publish(subject, body); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Handler processes one decoded bus envelope. Returning an error wrapped
// with MarkPoisonPill terminates the message (poison pill, never
// redelivered); any other error naks it for retry.
type Handler func(ctx context.Context, subject string, data []byte) error

// Subscribe registers a durable pull consumer on subjectFilter and runs the
// fetch loop until ctx is cancelled, generalizing EventConsumer.Start.
func (g *Gateway) Subscribe(ctx context.Context, subjectFilter, durableName string, handler Handler) error {
	sub, err := g.client.JS.PullSubscribe(subjectFilter, durableName, nats.AckExplicit(), nats.ManualAck())
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subjectFilter, err)
	}

	const fetchBatch = 10
	const fetchTimeout = 5 * time.Second

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msgs, err := sub.Fetch(fetchBatch, nats.MaxWait(fetchTimeout))
			if err != nil {
				if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
					continue
				}
				g.log.Warn("bus fetch error", zap.String("subject", subjectFilter), zap.Error(err))
				continue
			}

			for _, msg := range msgs {
				if err := handler(ctx, msg.Subject, msg.Data); err != nil {
					if isPoisonPill(err) {
						g.log.Warn("bus poison pill, terminating", zap.String("subject", msg.Subject), zap.Error(err))
						_ = msg.Term()
						continue
					}
					g.log.Warn("bus handler failed, nak for retry", zap.String("subject", msg.Subject), zap.Error(err))
					_ = msg.Nak()
					continue
				}
				_ = msg.Ack()
			}
		}
	}()

	return nil
}

func isPoisonPill(err error) bool {
	return errors.Is(err, errValidationMarker)
}

// errValidationMarker lets Subscribe tell a permanent failure from a
// transient one without importing domainerr directly (kept dependency-free
// so bus never needs to know the caller's error taxonomy beyond this one
// check); callers wrap their validation errors with MarkPoisonPill.
var errValidationMarker = errors.New("poison pill")

// MarkPoisonPill wraps err so Subscribe's handler loop terminates the
// message instead of requeuing it.
func MarkPoisonPill(err error) error {
	return fmt.Errorf("%w: %w", errValidationMarker, err)
}

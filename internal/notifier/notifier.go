// Package notifier is the thin bridge between the nouveauMessage event and
// the postmaster hand-off. Real notification content (subject lines,
// webpush payloads) is out of scope for this domain per its Non-goals; this
// only forwards the bare fact that a message arrived, mirroring the shape
// the teacher's own notification stub logs instead of actually sending.
package notifier

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/millegrilles/messagerie/internal/bus"
	"github.com/millegrilles/messagerie/internal/dispatcher"
	"github.com/millegrilles/messagerie/internal/messagerie/constants"
	"github.com/millegrilles/messagerie/internal/messagerie/model"
)

// Notifier forwards nouveauMessage events to the postmaster.
type Notifier struct {
	bus        *bus.Gateway
	postmaster *dispatcher.PostmasterDispatcher
	log        *zap.Logger
}

// New constructs a Notifier.
func New(b *bus.Gateway, p *dispatcher.PostmasterDispatcher, log *zap.Logger) *Notifier {
	return &Notifier{bus: b, postmaster: p, log: log}
}

// Start subscribes to the domain's nouveauMessage event and hands each one
// to the postmaster, until ctx is cancelled.
func (n *Notifier) Start(ctx context.Context) error {
	subject := bus.Route{Kind: bus.KindEvenement, Domain: constants.DomainName, Verb: constants.EvenementNouveauMessage}.Subject()
	return n.bus.Subscribe(ctx, subject, "messagerie-notifier", n.handle)
}

func (n *Notifier) handle(ctx context.Context, subject string, data []byte) error {
	var evt struct {
		UserID    string `json:"user_id"`
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(data, &evt); err != nil {
		return bus.MarkPoisonPill(err)
	}

	return n.postmaster.Dispatch(ctx, model.NotificationOutgoingPostmaster{
		UserID: evt.UserID,
		Email:  &model.EmailNotification{Title: "Nouveau message", Body: "Un nouveau message est arrive."},
	})
}

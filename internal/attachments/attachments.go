// Package attachments implements the periodic sweep of incoming messages
// whose attachments aren't all confirmed yet, grounded on
// entretien_attachments/verification_attachments in attachments.rs.
package attachments

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/millegrilles/messagerie/internal/bus"
	"github.com/millegrilles/messagerie/internal/dispatch"
	"github.com/millegrilles/messagerie/internal/messagerie/constants"
	"github.com/millegrilles/messagerie/internal/messagerie/model"
	"github.com/millegrilles/messagerie/internal/store"
)

// Tracker owns the attachment sweep and the outbound attachment-upload
// reconciliation handler, consolidated here per the REDESIGN FLAGS note on
// the command/event duplication between commande_upload_attachment and
// evenement_upload_attachment: both now land on ReconcileUpload, which
// forwards into the dispatcher's per-message state machine.
type Tracker struct {
	store      *store.Store
	bus        *bus.Gateway
	dispatcher *dispatch.Dispatcher
	log        *zap.Logger
}

// New constructs a Tracker.
func New(s *store.Store, b *bus.Gateway, d *dispatch.Dispatcher, log *zap.Logger) *Tracker {
	return &Tracker{store: s, bus: b, dispatcher: d, log: log}
}

// ReconcileUpload is the single consolidated handler described for the
// outbound attachment upload command and event: it forwards into the
// dispatcher's per-message, per-idmg attachment state machine, kept in
// this package's public surface too so callers never need to pick between
// two near-identical entry points for the same transition.
func (t *Tracker) ReconcileUpload(ctx context.Context, cmd dispatch.UploadStatusCommand) error {
	return t.dispatcher.UploadAttachmentStatus(ctx, cmd)
}

// Sweep scans every incoming row whose attachments aren't all confirmed,
// flips rows that have caught up in place, and issues one batched existence
// check for everything still outstanding across the whole sweep.
func (t *Tracker) Sweep(ctx context.Context) error {
	t.log.Debug("attachment sweep starting")

	missing := make(map[string]struct{})

	err := t.store.Find(ctx, constants.CollectionIncoming, "(doc->>'attachments_traites')::boolean = false", nil, func(raw []byte) error {
		var msg model.IncomingMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return fmt.Errorf("unmarshal incoming row: %w", err)
		}

		allTraite := true
		for fuuid, traite := range msg.Attachments {
			if !traite {
				allTraite = false
				missing[fuuid] = struct{}{}
			}
		}

		if allTraite {
			patch := store.NewPatch().Set(constants.ChampAttachmentsTraites, true).CurrentDate(constants.ChampModification)
			filter := "user_id = $1 AND message_id = $2"
			if _, err := t.store.ApplyPatch(ctx, constants.CollectionIncoming, filter, []any{msg.UserID, msg.UUIDMessage}, patch); err != nil {
				return fmt.Errorf("flag attachments traites: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sweep scan: %w", err)
	}

	fuuids := make([]string, 0, len(missing))
	for f := range missing {
		fuuids = append(fuuids, f)
	}
	if len(fuuids) == 0 {
		t.log.Debug("attachment sweep: nothing outstanding")
		return nil
	}

	return t.verifyExistence(ctx, fuuids)
}

type verifyRequest struct {
	Fuuids []string `json:"fuuids"`
}

type verifyResponse struct {
	Fuuids map[string]bool `json:"fuuids"`
}

// verifyExistence issues one batched fuuidVerifierExistance request and,
// for every fuuid reported present, flips it true across every row still
// marked false — the update-many-per-key form the original prefers (§9)
// over a single-document $set map, since it can never race a concurrent
// sweep into downgrading a row that's already flipped true.
func (t *Tracker) verifyExistence(ctx context.Context, fuuids []string) error {
	route := bus.Route{Kind: bus.KindCommande, Domain: "fichiers", Verb: constants.CommandeFuuidVerifierExistance, Tier: constants.TierL4Secure}
	var resp verifyResponse
	if err := t.bus.Request(ctx, route, verifyRequest{Fuuids: fuuids}, &resp); err != nil {
		return fmt.Errorf("verify existence request: %w", err)
	}

	for fuuid, present := range resp.Fuuids {
		if !present {
			continue
		}
		patch := store.NewPatch().
			Set(fmt.Sprintf("attachments.%s", fuuid), true).
			CurrentDate(constants.ChampModification)
		filter := "(doc->'attachments'->>$1) = 'false'"
		if _, err := t.store.ApplyPatch(ctx, constants.CollectionIncoming, filter, []any{fuuid}, patch); err != nil {
			return fmt.Errorf("flip attachment %s: %w", fuuid, err)
		}
	}
	return nil
}

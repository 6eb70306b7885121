// Package dispatch implements the outbound dispatch state machine: tracking
// per-destination, per-attachment delivery of a posted message to remote
// peer installations. Grounded on transaction_poster, traiter_outgoing_resolved,
// commande_confirmer_transmission, commande_prochain_attachment, and the
// consolidated commande_upload_attachment/evenement_upload_attachment
// handler (REDESIGN FLAGS item 8) in transactions.rs/commandes.rs/evenements.rs.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/millegrilles/messagerie/internal/bus"
	"github.com/millegrilles/messagerie/internal/messagerie/address"
	"github.com/millegrilles/messagerie/internal/messagerie/constants"
	"github.com/millegrilles/messagerie/internal/messagerie/domainerr"
	"github.com/millegrilles/messagerie/internal/messagerie/model"
	"github.com/millegrilles/messagerie/internal/pump"
	"github.com/millegrilles/messagerie/internal/store"
)

// Dispatcher owns the outbound dispatch state machine.
type Dispatcher struct {
	store *store.Store
	bus   *bus.Gateway
	pump  *pump.Pump
	log   *zap.Logger
}

// New constructs a Dispatcher.
func New(s *store.Store, b *bus.Gateway, p *pump.Pump, log *zap.Logger) *Dispatcher {
	return &Dispatcher{store: s, bus: b, pump: p, log: log}
}

// PosterCommand is the shape of a "poster" (post a message) command.
type PosterCommand struct {
	UserID         string
	MessageChiffre string
	Destinataires  []string
	Fuuids         []string
}

// Poster validates destinatees, persists the immutable outgoing message and
// its processing-state sibling, and kicks off DNS resolution.
func (d *Dispatcher) Poster(ctx context.Context, cmd PosterCommand) (*model.OutgoingProcessing, error) {
	var parsed []address.Address
	for _, raw := range cmd.Destinataires {
		a, ok := address.Parse(raw)
		if !ok {
			d.log.Warn("dropping malformed destinatee", zap.String("raw", raw))
			continue
		}
		parsed = append(parsed, a)
	}
	if len(parsed) == 0 {
		return nil, fmt.Errorf("poster: %w: no valid destinatees", domainerr.ErrValidation)
	}

	messageID := uuid.NewString()
	transactionID := uuid.NewString()
	now := time.Now().UTC()

	destinataires := make([]model.Destinataire, 0, len(parsed))
	for _, a := range parsed {
		destinataires = append(destinataires, model.Destinataire{
			Destinataire: a.Destinataire,
			User:         a.User,
			DNS:          a.DNS,
		})
	}

	outgoing := model.OutgoingMessage{
		ID:              messageID,
		UUIDTransaction: transactionID,
		UserID:          cmd.UserID,
		Destinataires:   destinataires,
		Fuuids:          cmd.Fuuids,
		MessageChiffre:  cmd.MessageChiffre,
		DateEnvoi:       now,
	}
	if err := d.store.Insert(ctx, constants.CollectionOutgoing, messageID, outgoing,
		store.Column{Name: "user_id", Value: cmd.UserID},
	); err != nil {
		return nil, fmt.Errorf("poster insert outgoing: %w", err)
	}

	processing := model.OutgoingProcessing{
		TransactionID: transactionID,
		MessageID:     messageID,
		UserID:        cmd.UserID,
		Destinataires: destinataires,
		Attachments:   cmd.Fuuids,
		DNSUnresolved: address.UniqueDNS(parsed),
		IdmgsMapping:  map[string]model.IDMGMapping{},
		Created:       now,
		LastProcessed: now,
	}
	if err := d.store.Insert(ctx, constants.CollectionOutgoingProcessing, messageID, processing,
		store.Column{Name: "message_id", Value: messageID},
	); err != nil {
		return nil, fmt.Errorf("poster insert processing: %w", err)
	}

	d.wakePump(nil)
	return &processing, nil
}

// wakePump notifies the local pump directly and publishes the pompePoste
// trigger so every other replica of this service wakes its own pump too,
// mirroring emettre_evenement_pompe.
func (d *Dispatcher) wakePump(idmgs []string) {
	d.pump.Notify(idmgs)

	subject := constants.QueueTriggers + "." + constants.EvenementPompePoste
	payload := struct {
		Idmgs []string `json:"idmgs"`
	}{Idmgs: idmgs}
	if err := d.bus.PublishRaw(subject, payload); err != nil {
		d.log.Warn("failed to publish pompePoste", zap.Error(err))
	}
}

// ApplyResolved moves every resolved dns label out of dns_unresolved and
// into the matching idmg's mapping, seeding its retry counters, then wakes
// the pump with the newly mapped idmgs. Grounded on traiter_outgoing_resolved.
func (d *Dispatcher) ApplyResolved(ctx context.Context, messageID string, resolved map[string]*string) error {
	var row model.OutgoingProcessing
	if err := d.store.GetByID(ctx, constants.CollectionOutgoingProcessing, messageID, &row); err != nil {
		return fmt.Errorf("apply resolved: %w", err)
	}

	now := time.Now().UTC()
	patch := store.NewPatch()
	var affected []string
	destinatairesChanged := false

	for dns, idmg := range resolved {
		if idmg == nil {
			continue
		}
		patch.
			AddToSet(fmt.Sprintf("idmgs_mapping.%s.dns", *idmg), dns).
			AddToSet("idmgs_unprocessed", *idmg).
			Pull("dns_unresolved", dns).
			SetOnInsert(fmt.Sprintf("idmgs_mapping.%s.push_count", *idmg), 0).
			SetOnInsert(fmt.Sprintf("idmgs_mapping.%s.next_push_time", *idmg), now)

		if len(row.Attachments) > 0 {
			patch.SetOnInsert(fmt.Sprintf("idmgs_mapping.%s.attachments_restants", *idmg), row.Attachments)
			patch.AddToSet("idmgs_attachments_unprocessed", *idmg)
		}

		affected = append(affected, *idmg)

		for i := range row.Destinataires {
			if row.Destinataires[i].DNS == dns {
				row.Destinataires[i].Idmg = *idmg
				destinatairesChanged = true
			}
		}
	}

	if len(affected) == 0 {
		return nil
	}

	if destinatairesChanged {
		patch.Set("destinataires", row.Destinataires)
	}
	patch.CurrentDate("last_processed")

	if _, err := d.store.ApplyPatch(ctx, constants.CollectionOutgoingProcessing, "id = $1", []any{messageID}, patch); err != nil {
		return fmt.Errorf("apply resolved: %w", err)
	}

	d.wakePump(affected)
	return nil
}

// ConfirmCommand carries the result of a single delivery attempt. Idmg
// identifies which peer installation is confirming, so idmgs_unprocessed
// can be cleared once every destinatee routed to it is settled.
type ConfirmCommand struct {
	MessageID     string
	Idmg          string
	Destinataires []string
	Code          int32
}

// ConfirmTransmission marks every named destinatee processed (or not) and,
// once every destinatee mapped to cmd.Idmg is settled, pulls that idmg out
// of idmgs_unprocessed. Mirrors commande_confirmer_transmission's
// 200/201/202 acceptance set.
func (d *Dispatcher) ConfirmTransmission(ctx context.Context, cmd ConfirmCommand) error {
	processed := cmd.Code == 200 || cmd.Code == 201 || cmd.Code == 202

	var row model.OutgoingProcessing
	if err := d.store.GetByID(ctx, constants.CollectionOutgoingProcessing, cmd.MessageID, &row); err != nil {
		return fmt.Errorf("confirm transmission: %w", err)
	}

	target := make(map[string]struct{}, len(cmd.Destinataires))
	for _, dest := range cmd.Destinataires {
		target[dest] = struct{}{}
	}
	for i := range row.Destinataires {
		if _, ok := target[row.Destinataires[i].Destinataire]; !ok {
			continue
		}
		row.Destinataires[i].Processed = processed
		code := cmd.Code
		row.Destinataires[i].Result = &code
		if cmd.Idmg != "" {
			row.Destinataires[i].Idmg = cmd.Idmg
		}
	}

	patch := store.NewPatch().Set("destinataires", row.Destinataires).CurrentDate("last_processed")
	if cmd.Idmg != "" && allProcessedForIdmg(row.Destinataires, cmd.Idmg) {
		patch.Pull("idmgs_unprocessed", cmd.Idmg)
	}

	if _, err := d.store.ApplyPatch(ctx, constants.CollectionOutgoingProcessing, "id = $1", []any{cmd.MessageID}, patch); err != nil {
		return fmt.Errorf("confirm transmission patch: %w", err)
	}
	return nil
}

// allProcessedForIdmg reports whether every destinatee routed to idmg has
// been processed. Returns false if no destinatee is mapped to idmg yet.
func allProcessedForIdmg(destinataires []model.Destinataire, idmg string) bool {
	found := false
	for _, dest := range destinataires {
		if dest.Idmg != idmg {
			continue
		}
		found = true
		if !dest.Processed {
			return false
		}
	}
	return found
}

// NextAttachment pops the next pending attachment for a given message/idmg
// pair, atomically moving it from attachments_restants into
// attachments_en_cours. ok is false (never an error) when nothing is
// pending or the idmg isn't mapped, mirroring commande_prochain_attachment.
func (d *Dispatcher) NextAttachment(ctx context.Context, messageID, idmg string) (fuuid string, ok bool, err error) {
	var row model.OutgoingProcessing
	if err := d.store.GetByID(ctx, constants.CollectionOutgoingProcessing, messageID, &row); err != nil {
		return "", false, fmt.Errorf("next attachment: %w", err)
	}

	mapping, mapped := row.IdmgsMapping[idmg]
	if !mapped || len(mapping.AttachmentsRestants) == 0 {
		return "", false, nil
	}
	fuuid = mapping.AttachmentsRestants[0]

	patch := store.NewPatch().
		Pull(fmt.Sprintf("idmgs_mapping.%s.attachments_restants", idmg), fuuid).
		Set(fmt.Sprintf("idmgs_mapping.%s.attachments_en_cours.%s.last_update", idmg, fuuid), time.Now().UTC())
	if _, err := d.store.ApplyPatch(ctx, constants.CollectionOutgoingProcessing, "id = $1", []any{messageID}, patch); err != nil {
		return "", false, fmt.Errorf("next attachment patch: %w", err)
	}
	return fuuid, true, nil
}

// UploadStatusCommand is the single shape fed by both the
// uploadAttachment command and the uploadAttachment event, consolidating
// what the original kept as two near-identical handlers.
type UploadStatusCommand struct {
	MessageID string
	Idmg      string
	Fuuid     string
	Code      string
}

// UploadAttachmentStatus advances a single attachment's sub-state machine
// for one peer and re-evaluates whether the message's transfer is now
// complete.
func (d *Dispatcher) UploadAttachmentStatus(ctx context.Context, cmd UploadStatusCommand) error {
	base := fmt.Sprintf("idmgs_mapping.%s", cmd.Idmg)
	patch := store.NewPatch()

	switch cmd.Code {
	case constants.UploadStatusDebut, constants.UploadStatusEnCours:
		patch.Set(fmt.Sprintf("%s.attachments_en_cours.%s.last_update", base, cmd.Fuuid), time.Now().UTC())
		patch.Pull(fmt.Sprintf("%s.attachments_restants", base), cmd.Fuuid)
	case constants.UploadStatusTermine:
		patch.AddToSet(fmt.Sprintf("%s.attachments_completes", base), cmd.Fuuid)
		patch.Unset(fmt.Sprintf("%s.attachments_en_cours.%s", base, cmd.Fuuid))
		patch.Pull(fmt.Sprintf("%s.attachments_restants", base), cmd.Fuuid)
	case constants.UploadStatusErreur:
		// Deliberate no-op: leave the fuuid where it is for the pump's
		// next retry pass rather than requeue it here.
		d.log.Warn("attachment upload reported error, leaving for retry",
			zap.String("message_id", cmd.MessageID), zap.String("fuuid", cmd.Fuuid))
		return nil
	default:
		d.log.Warn("unknown attachment upload code, ignoring",
			zap.String("code", cmd.Code), zap.String("message_id", cmd.MessageID))
		return nil
	}
	patch.CurrentDate("last_processed")

	if _, err := d.store.ApplyPatch(ctx, constants.CollectionOutgoingProcessing, "id = $1", []any{cmd.MessageID}, patch); err != nil {
		return fmt.Errorf("upload attachment status: %w", err)
	}

	var row model.OutgoingProcessing
	if err := d.store.GetByID(ctx, constants.CollectionOutgoingProcessing, cmd.MessageID, &row); err != nil {
		return fmt.Errorf("upload attachment status reread: %w", err)
	}
	return d.maybeEmitTransferComplete(ctx, row)
}

// maybeEmitTransferComplete checks whether every idmg's attachments_restants
// and attachments_en_cours are now empty, and if so publishes a
// transfertComplete transaction on the transactions queue; its aiguillage
// handler unsets the message's outstanding-attachments marker (and, when
// message delivery is also fully resolved, the outstanding-message marker
// too).
func (d *Dispatcher) maybeEmitTransferComplete(ctx context.Context, row model.OutgoingProcessing) error {
	attachmentsComplete := true
	for _, mapping := range row.IdmgsMapping {
		if len(mapping.AttachmentsRestants) > 0 || len(mapping.AttachmentsEnCours) > 0 {
			attachmentsComplete = false
			break
		}
	}
	if !attachmentsComplete {
		return nil
	}

	payload := struct {
		MessageID            string `json:"message_id"`
		MessageComplete      bool   `json:"message_complete"`
		AttachmentsCompletes bool   `json:"attachments_completes"`
	}{
		MessageID:            row.MessageID,
		MessageComplete:      len(row.DNSUnresolved) == 0 && len(row.IdmgsUnprocessed) == 0,
		AttachmentsCompletes: true,
	}
	subject := constants.QueueTransactions + "." + constants.TransactionTransfertComplete
	return d.bus.PublishRaw(subject, payload)
}

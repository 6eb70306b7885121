// Package transactions implements the replayable-transaction dispatch
// switch (aiguillage), grounded on aiguillage_transaction in transactions.rs.
// Every persisted transaction action is idempotent: replaying an already-
// applied transaction must never double-effect state, which each handler
// achieves via the store's duplicate-as-success and update-in-place
// patterns.
package transactions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/millegrilles/messagerie/internal/bus"
	"github.com/millegrilles/messagerie/internal/dispatch"
	"github.com/millegrilles/messagerie/internal/inbound"
	"github.com/millegrilles/messagerie/internal/messagerie/constants"
	"github.com/millegrilles/messagerie/internal/messagerie/domainerr"
	"github.com/millegrilles/messagerie/internal/messagerie/model"
	"github.com/millegrilles/messagerie/internal/store"
)

// Aiguillage routes a decoded transaction envelope to its handler.
type Aiguillage struct {
	store      *store.Store
	bus        *bus.Gateway
	dispatcher *dispatch.Dispatcher
	receiver   *inbound.Receiver
	log        *zap.Logger
}

// New constructs an Aiguillage. The attachment tracker is driven directly
// by the scheduler's sweep cadence, not by transaction dispatch, so it has
// no place in this struct.
func New(s *store.Store, b *bus.Gateway, d *dispatch.Dispatcher, r *inbound.Receiver, log *zap.Logger) *Aiguillage {
	return &Aiguillage{store: s, bus: b, dispatcher: d, receiver: r, log: log}
}

// Handle dispatches a transaction by its action name onto the matching
// handler. An unrecognized action is logged and dropped, never fatal.
func (a *Aiguillage) Handle(ctx context.Context, action string, payload []byte) error {
	switch action {
	case constants.TransactionPoster:
		return a.handlePoster(ctx, payload)
	case constants.TransactionRecevoir:
		return a.handleRecevoir(ctx, payload)
	case constants.TransactionInitialiserProfil:
		return a.handleInitialiserProfil(ctx, payload)
	case constants.TransactionMajContact:
		return a.handleMajContact(ctx, payload)
	case constants.TransactionLu:
		return a.handleLu(ctx, payload)
	case constants.TransactionTransfertComplete:
		return a.handleTransfertComplete(ctx, payload)
	case constants.TransactionSupprimerMessage:
		return a.handleSupprimerMessage(ctx, payload)
	case constants.TransactionSupprimerContacts:
		return a.handleSupprimerContacts(ctx, payload)
	default:
		a.log.Warn("unknown transaction action, dropping", zap.String("action", action))
		return nil
	}
}

type posterPayload struct {
	UserID         string   `json:"user_id"`
	MessageChiffre string   `json:"message_chiffre"`
	Destinataires  []string `json:"destinataires"`
	Fuuids         []string `json:"fuuids"`
}

func (a *Aiguillage) handlePoster(ctx context.Context, payload []byte) error {
	var p posterPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return bus.MarkPoisonPill(fmt.Errorf("%w: %v", domainerr.ErrValidation, err))
	}
	_, err := a.dispatcher.Poster(ctx, dispatch.PosterCommand{
		UserID: p.UserID, MessageChiffre: p.MessageChiffre,
		Destinataires: p.Destinataires, Fuuids: p.Fuuids,
	})
	if domainerr.Is(err, domainerr.ErrValidation) {
		return bus.MarkPoisonPill(err)
	}
	return err
}

type recevoirPayload struct {
	MessageID         string   `json:"message_id"`
	OriginIdmg        string   `json:"origin_idmg"`
	Destinataires     []string `json:"destinataires"`
	MessageChiffre    string   `json:"message_chiffre"`
	HachageBytes      string   `json:"hachage_bytes"`
	CertificatMessage []string `json:"certificat_message"`
	MillegrilleRoot   []string `json:"millegrille_root,omitempty"`
	Fuuids            []string `json:"fuuids,omitempty"`
}

func (a *Aiguillage) handleRecevoir(ctx context.Context, payload []byte) error {
	var p recevoirPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return bus.MarkPoisonPill(fmt.Errorf("%w: %v", domainerr.ErrValidation, err))
	}
	_, err := a.receiver.Receive(ctx, inbound.ReceiveCommand{
		MessageID: p.MessageID, OriginIdmg: p.OriginIdmg, Destinataires: p.Destinataires,
		MessageChiffre: p.MessageChiffre, HachageBytes: p.HachageBytes,
		CertificatMessage: p.CertificatMessage, MillegrilleRoot: p.MillegrilleRoot, Fuuids: p.Fuuids,
	})
	if domainerr.Is(err, domainerr.ErrValidation) {
		return bus.MarkPoisonPill(err)
	}
	return err
}

type initialiserProfilPayload struct {
	UserID   string   `json:"user_id"`
	Adresses []string `json:"adresses"`
}

func (a *Aiguillage) handleInitialiserProfil(ctx context.Context, payload []byte) error {
	var p initialiserProfilPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return bus.MarkPoisonPill(fmt.Errorf("%w: %v", domainerr.ErrValidation, err))
	}

	now := time.Now().UTC()
	var existing model.Profile
	if err := a.store.GetByID(ctx, constants.CollectionProfiles, p.UserID, &existing); err == nil {
		return nil // already initialized; idempotent replay.
	}
	profile := model.Profile{UserID: p.UserID, Adresses: p.Adresses, Creation: now, Modified: now}
	if err := a.store.Insert(ctx, constants.CollectionProfiles, p.UserID, profile); err != nil && !domainerr.Is(err, domainerr.ErrDuplicate) {
		return fmt.Errorf("initialiser profil: %w", err)
	}
	return nil
}

type majContactPayload struct {
	UUIDContact     string `json:"uuid_contact"`
	UserID          string `json:"user_id"`
	DataChiffre     string `json:"data_chiffre"`
	Format          string `json:"format"`
	RefHachageBytes string `json:"ref_hachage_bytes,omitempty"`
	IV              string `json:"iv,omitempty"`
	Tag             string `json:"tag,omitempty"`
	Header          string `json:"header,omitempty"`
}

func (a *Aiguillage) handleMajContact(ctx context.Context, payload []byte) error {
	var p majContactPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return bus.MarkPoisonPill(fmt.Errorf("%w: %v", domainerr.ErrValidation, err))
	}
	if p.UUIDContact == "" {
		return bus.MarkPoisonPill(fmt.Errorf("%w: missing uuid_contact", domainerr.ErrValidation))
	}

	now := time.Now().UTC()
	patch := store.NewPatch().
		Set("user_id", p.UserID).
		Set("data_chiffre", p.DataChiffre).
		Set("format", p.Format).
		Set("ref_hachage_bytes", p.RefHachageBytes).
		Set("iv", p.IV).
		Set("tag", p.Tag).
		Set("header", p.Header).
		SetOnInsert("creation", now).
		SetOnInsert("uuid_contact", p.UUIDContact).
		SetOnInsert("supprime", false).
		CurrentDate(constants.ChampModification)

	if _, err := a.store.ApplyPatch(ctx, constants.CollectionContacts, "id = $1", []any{p.UUIDContact}, patch); err != nil {
		if err2 := a.store.Insert(ctx, constants.CollectionContacts, p.UUIDContact, model.Contact{
			UUIDContact: p.UUIDContact, UserID: p.UserID, DataChiffre: p.DataChiffre, Format: p.Format,
			RefHachageBytes: p.RefHachageBytes, IV: p.IV, Tag: p.Tag, Header: p.Header,
			Creation: now, Modified: now,
		}, store.Column{Name: "user_id", Value: p.UserID}); err2 != nil && !domainerr.Is(err2, domainerr.ErrDuplicate) {
			return fmt.Errorf("maj contact: %w", err)
		}
	}

	route := bus.Route{Kind: bus.KindEvenement, Domain: constants.DomainName, Verb: constants.EvenementMajContact, Tier: constants.TierL2Prive}
	if err := a.bus.Emit(ctx, route, map[string]string{"user_id": p.UserID, "uuid_contact": p.UUIDContact}); err != nil {
		a.log.Warn("failed to emit majContact", zap.Error(err))
	}
	return nil
}

type luPayload struct {
	UserID      string `json:"user_id"`
	UUIDMessage string `json:"uuid_message"`
	Lu          bool   `json:"lu"`
}

func (a *Aiguillage) handleLu(ctx context.Context, payload []byte) error {
	var p luPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return bus.MarkPoisonPill(fmt.Errorf("%w: %v", domainerr.ErrValidation, err))
	}

	patch := store.NewPatch().Set("lu", p.Lu).CurrentDate("lu_date")
	n, err := a.store.ApplyPatch(ctx, constants.CollectionIncoming, "user_id = $1 AND message_id = $2", []any{p.UserID, p.UUIDMessage}, patch)
	if err != nil {
		return fmt.Errorf("lu: %w", err)
	}
	if n == 0 {
		return nil
	}

	route := bus.Route{Kind: bus.KindEvenement, Domain: constants.DomainName, Verb: constants.EvenementMessageLu, Tier: constants.TierL2Prive}
	if err := a.bus.Emit(ctx, route, map[string]any{"user_id": p.UserID, "lus": map[string]bool{p.UUIDMessage: p.Lu}}); err != nil {
		a.log.Warn("failed to emit messageLu", zap.Error(err))
	}
	return nil
}

type transfertCompletePayload struct {
	MessageID            string `json:"message_id"`
	MessageComplete       bool   `json:"message_complete"`
	AttachmentsCompletes bool   `json:"attachments_completes"`
}

func (a *Aiguillage) handleTransfertComplete(ctx context.Context, payload []byte) error {
	var p transfertCompletePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return bus.MarkPoisonPill(fmt.Errorf("%w: %v", domainerr.ErrValidation, err))
	}

	patch := store.NewPatch().CurrentDate("last_processed")
	if p.MessageComplete {
		patch.Unset("dns_unresolved").Unset("idmgs_unprocessed")
	}
	if p.AttachmentsCompletes {
		patch.Unset("idmgs_attachments_unprocessed")
	}
	_, err := a.store.ApplyPatch(ctx, constants.CollectionOutgoingProcessing, "id = $1", []any{p.MessageID}, patch)
	return err
}

type supprimerMessagePayload struct {
	UserID     string   `json:"user_id"`
	MessageIDs []string `json:"message_ids"`
}

func (a *Aiguillage) handleSupprimerMessage(ctx context.Context, payload []byte) error {
	var p supprimerMessagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return bus.MarkPoisonPill(fmt.Errorf("%w: %v", domainerr.ErrValidation, err))
	}

	patch := store.NewPatch().Set(constants.ChampSupprime, true).CurrentDate(constants.ChampModification)
	for _, id := range p.MessageIDs {
		if _, err := a.store.ApplyPatch(ctx, constants.CollectionIncoming, "user_id = $1 AND message_id = $2", []any{p.UserID, id}, patch); err != nil {
			return fmt.Errorf("supprimer message: %w", err)
		}
	}

	route := bus.Route{Kind: bus.KindEvenement, Domain: constants.DomainName, Verb: constants.EvenementMessagesSupprimes, Tier: constants.TierL2Prive}
	if err := a.bus.Emit(ctx, route, map[string]any{"user_id": p.UserID, "message_ids": p.MessageIDs}); err != nil {
		a.log.Warn("failed to emit messagesSupprimes", zap.Error(err))
	}
	return nil
}

type supprimerContactsPayload struct {
	UserID       string   `json:"user_id"`
	UUIDContacts []string `json:"uuid_contacts"`
}

func (a *Aiguillage) handleSupprimerContacts(ctx context.Context, payload []byte) error {
	var p supprimerContactsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return bus.MarkPoisonPill(fmt.Errorf("%w: %v", domainerr.ErrValidation, err))
	}

	patch := store.NewPatch().Set(constants.ChampSupprime, true).CurrentDate(constants.ChampModification)
	for _, id := range p.UUIDContacts {
		if _, err := a.store.ApplyPatch(ctx, constants.CollectionContacts, "id = $1 AND user_id = $2", []any{id, p.UserID}, patch); err != nil {
			return fmt.Errorf("supprimer contacts: %w", err)
		}
	}

	route := bus.Route{Kind: bus.KindEvenement, Domain: constants.DomainName, Verb: constants.EvenementContactsSupprimes, Tier: constants.TierL2Prive}
	if err := a.bus.Emit(ctx, route, map[string]any{"user_id": p.UserID, "uuid_contacts": p.UUIDContacts}); err != nil {
		a.log.Warn("failed to emit contactsSupprimes", zap.Error(err))
	}
	return nil
}

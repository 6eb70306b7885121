// Package edges is the command/request edge layer: authenticates and
// shape-checks an incoming bus envelope, then dispatches into the
// transaction aiguillage or the outbound dispatcher directly for the
// handful of volatile (non-persisted) commands. Grounded on
// consommer_commande's per-action auth checks in commandes.rs.
package edges

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/millegrilles/messagerie/internal/attachments"
	"github.com/millegrilles/messagerie/internal/dispatch"
	"github.com/millegrilles/messagerie/internal/messagerie/auth"
	"github.com/millegrilles/messagerie/internal/messagerie/constants"
	"github.com/millegrilles/messagerie/internal/messagerie/domainerr"
	"github.com/millegrilles/messagerie/internal/transactions"
)

// Response is the wire envelope every command handler returns.
type Response struct {
	OK    bool   `json:"ok"`
	Err   string `json:"err,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Edges owns the command dispatch table.
type Edges struct {
	aiguillage *transactions.Aiguillage
	dispatcher *dispatch.Dispatcher
	tracker    *attachments.Tracker
	log        *zap.Logger
}

// New constructs Edges.
func New(a *transactions.Aiguillage, d *dispatch.Dispatcher, t *attachments.Tracker, log *zap.Logger) *Edges {
	return &Edges{aiguillage: a, dispatcher: d, tracker: t, log: log}
}

// HandleCommande authenticates claims against the action's required tier,
// dispatches, and renders the result as a Response envelope. It never
// returns a Go error for a rejected/invalid command — those become
// {ok:false} envelopes — reserving the error return for bus-level failures
// (malformed envelope, transient backend failure) that the caller's retry
// policy should see.
func (e *Edges) HandleCommande(ctx context.Context, action string, payload []byte, claims auth.Claims) (Response, error) {
	tier, ok := requiredTier[action]
	if !ok {
		e.log.Warn("unknown command action, dropping", zap.String("action", action))
		return Response{OK: false, Err: "action inconnue"}, nil
	}
	if !claims.AtLeast(tier) && !claims.DelegationGlobale {
		return Response{OK: false, Err: "non autorise"}, nil
	}

	switch action {
	case constants.CommandePoster, constants.CommandeInitialiserProfil, constants.CommandeMajContact,
		constants.CommandeLu, constants.CommandeSupprimerMessage, constants.CommandeSupprimerContacts:
		// Recevoir is excluded: it may legitimately arrive on behalf of a
		// different user_id than the caller (remote-origin receipt), so
		// ownership is not checked here.
		if owner := extractUserID(payload); owner != "" && !claims.OwnsResource(owner) {
			return Response{OK: false, Err: "non autorise"}, nil
		}
		if err := e.aiguillage.Handle(ctx, action, payload); err != nil {
			if domainerr.Is(err, domainerr.ErrValidation) {
				return Response{OK: false, Err: err.Error()}, nil
			}
			return Response{}, err
		}
		return Response{OK: true}, nil

	case constants.CommandeRecevoir:
		if err := e.aiguillage.Handle(ctx, action, payload); err != nil {
			if domainerr.Is(err, domainerr.ErrValidation) {
				return Response{OK: false, Err: err.Error()}, nil
			}
			return Response{}, err
		}
		return Response{OK: true}, nil

	case constants.CommandeConfirmerTransmission:
		return e.handleConfirmerTransmission(ctx, payload)
	case constants.CommandeProchainAttachment:
		return e.handleProchainAttachment(ctx, payload)
	case constants.CommandeUploadAttachment:
		return e.handleUploadAttachment(ctx, payload)

	default:
		e.log.Warn("recognized but unhandled command action", zap.String("action", action))
		return Response{OK: false, Err: "action non geree"}, nil
	}
}

// extractUserID pulls the "user_id" field out of a command payload without
// needing its full concrete type, so the ownership check can run ahead of
// the per-action unmarshal.
func extractUserID(payload []byte) string {
	var probe struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	return probe.UserID
}

var requiredTier = map[string]constants.Tier{
	constants.CommandePoster:                 constants.TierL2Prive,
	constants.CommandeRecevoir:                constants.TierL1Public,
	constants.CommandeInitialiserProfil:       constants.TierL2Prive,
	constants.CommandeMajContact:              constants.TierL2Prive,
	constants.CommandeLu:                      constants.TierL2Prive,
	constants.CommandeSupprimerMessage:        constants.TierL2Prive,
	constants.CommandeSupprimerContacts:       constants.TierL2Prive,
	constants.CommandeConfirmerTransmission:   constants.TierL4Secure,
	constants.CommandeProchainAttachment:      constants.TierL1Public,
	constants.CommandeUploadAttachment:        constants.TierL1Public,
}

type confirmerTransmissionPayload struct {
	MessageID     string   `json:"message_id"`
	Idmg          string   `json:"idmg"`
	Destinataires []string `json:"destinataires"`
	Code          int32    `json:"code"`
}

func (e *Edges) handleConfirmerTransmission(ctx context.Context, payload []byte) (Response, error) {
	var p confirmerTransmissionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Response{OK: false, Err: fmt.Sprintf("payload invalide: %v", err)}, nil
	}
	if err := e.dispatcher.ConfirmTransmission(ctx, dispatch.ConfirmCommand{
		MessageID: p.MessageID, Idmg: p.Idmg, Destinataires: p.Destinataires, Code: p.Code,
	}); err != nil {
		return Response{}, err
	}
	return Response{OK: true}, nil
}

type prochainAttachmentPayload struct {
	MessageID     string `json:"message_id"`
	IdmgDestination string `json:"idmg_destination"`
}

func (e *Edges) handleProchainAttachment(ctx context.Context, payload []byte) (Response, error) {
	var p prochainAttachmentPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Response{OK: false, Err: fmt.Sprintf("payload invalide: %v", err)}, nil
	}
	fuuid, ok, err := e.dispatcher.NextAttachment(ctx, p.MessageID, p.IdmgDestination)
	if err != nil {
		return Response{}, err
	}
	if !ok {
		return Response{OK: false, Err: "Aucun attachment disponible"}, nil
	}
	return Response{OK: true, Data: map[string]string{"fuuid": fuuid}}, nil
}

type uploadAttachmentPayload struct {
	MessageID string `json:"message_id"`
	Idmg      string `json:"idmg"`
	Fuuid     string `json:"fuuid"`
	Code      string `json:"code"`
}

func (e *Edges) handleUploadAttachment(ctx context.Context, payload []byte) (Response, error) {
	var p uploadAttachmentPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Response{OK: false, Err: fmt.Sprintf("payload invalide: %v", err)}, nil
	}
	if err := e.tracker.ReconcileUpload(ctx, dispatch.UploadStatusCommand{
		MessageID: p.MessageID, Idmg: p.Idmg, Fuuid: p.Fuuid, Code: p.Code,
	}); err != nil {
		return Response{}, err
	}
	return Response{OK: true}, nil
}

// HandleEvenement dispatches an event. Today this is only
// uploadAttachment, consolidated with the command handler of the same
// name per the REDESIGN FLAGS note on duplicate handlers.
func (e *Edges) HandleEvenement(ctx context.Context, action string, payload []byte) error {
	switch action {
	case constants.EvenementUploadAttachment:
		_, err := e.handleUploadAttachment(ctx, payload)
		return err
	default:
		e.log.Warn("unknown event action, dropping", zap.String("action", action))
		return nil
	}
}

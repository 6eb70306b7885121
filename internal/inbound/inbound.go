// Package inbound implements message reception and local fan-out: validate
// an incoming message, resolve its recipient usernames to user ids, insert
// one per-recipient copy, and seed attachment-completion tracking.
// Grounded on commande_recevoir and transaction_recevoir in commandes.rs/
// transactions.rs.
package inbound

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/ed25519"

	"github.com/millegrilles/messagerie/internal/bus"
	"github.com/millegrilles/messagerie/internal/dispatch"
	"github.com/millegrilles/messagerie/internal/messagerie/address"
	"github.com/millegrilles/messagerie/internal/messagerie/constants"
	"github.com/millegrilles/messagerie/internal/messagerie/domainerr"
	"github.com/millegrilles/messagerie/internal/messagerie/model"
	"github.com/millegrilles/messagerie/internal/store"
)

const identityDomain = "CoreMaitreDesComptes"

// Receiver owns inbound reception and local fan-out.
type Receiver struct {
	store      *store.Store
	bus        *bus.Gateway
	dispatcher *dispatch.Dispatcher
	localIdmg  string
	log        *zap.Logger
}

// New constructs a Receiver. localIdmg is this installation's own identity,
// used to distinguish local-origin from remote-origin receipt.
func New(s *store.Store, b *bus.Gateway, d *dispatch.Dispatcher, localIdmg string, log *zap.Logger) *Receiver {
	return &Receiver{store: s, bus: b, dispatcher: d, localIdmg: localIdmg, log: log}
}

// ReceiveCommand is the shape of a "recevoir" command/transaction.
type ReceiveCommand struct {
	MessageID         string
	OriginIdmg        string
	Destinataires     []string
	MessageChiffre    string
	HachageBytes      string
	CertificatMessage []string
	MillegrilleRoot   []string
	Fuuids            []string
}

// ReceiveResult reports which local users received a copy.
type ReceiveResult struct {
	UserIDs []string
}

// Receive validates the envelope, expands recipients, and inserts one
// per-recipient copy. A remote-origin message with no root certificate
// chain is rejected with the domain's documented wire error, a contract
// other installations may depend on.
func (r *Receiver) Receive(ctx context.Context, cmd ReceiveCommand) (*ReceiveResult, error) {
	localOrigin := cmd.OriginIdmg == r.localIdmg

	if !localOrigin && len(cmd.MillegrilleRoot) == 0 {
		return nil, fmt.Errorf("%w: Erreur, _certificat manquant", domainerr.ErrValidation)
	}

	if !localOrigin && len(cmd.CertificatMessage) > 0 && !verifyCertificateShape(cmd.CertificatMessage[0]) {
		return nil, fmt.Errorf("%w: certificat_message malforme", domainerr.ErrValidation)
	}

	if localOrigin {
		if err := r.dispatcher.ConfirmTransmission(ctx, dispatch.ConfirmCommand{
			MessageID:     cmd.MessageID,
			Idmg:          r.localIdmg,
			Destinataires: cmd.Destinataires,
			Code:          201,
		}); err != nil {
			r.log.Warn("local-origin confirm failed", zap.Error(err))
		}
	}

	var parsed []address.Address
	for _, raw := range cmd.Destinataires {
		a, ok := address.Parse(raw)
		if !ok {
			r.log.Warn("dropping malformed destinatee on receive", zap.String("raw", raw))
			continue
		}
		parsed = append(parsed, a)
	}
	if len(parsed) == 0 {
		return nil, fmt.Errorf("%w: no valid destinatees", domainerr.ErrValidation)
	}

	usernames := make([]string, 0, len(parsed))
	for _, a := range parsed {
		usernames = append(usernames, a.User)
	}
	userIDs, err := r.resolveUserIDs(ctx, usernames)
	if err != nil {
		return nil, fmt.Errorf("receive resolve user ids: %w", err)
	}

	transactionID := uuid.NewString()
	now := time.Now().UTC()
	var inserted []string

	for username, userID := range userIDs {
		if userID == "" {
			r.log.Warn("dropping unresolved username on receive", zap.String("username", username))
			continue
		}

		attachments := make(map[string]bool, len(cmd.Fuuids))
		allTrue := true
		for _, f := range cmd.Fuuids {
			attachments[f] = localOrigin
			if !localOrigin {
				allTrue = false
			}
		}

		doc := model.IncomingMessage{
			UserID:             userID,
			UUIDTransaction:    transactionID,
			UUIDMessage:        cmd.MessageID,
			DateReception:      now,
			CertificatMessage:  cmd.CertificatMessage,
			MessageChiffre:     cmd.MessageChiffre,
			HachageBytes:       cmd.HachageBytes,
			Attachments:        attachments,
			AttachmentsTraites: localOrigin || len(cmd.Fuuids) == 0 || allTrue,
		}

		id := fmt.Sprintf("%s:%s", userID, cmd.MessageID)
		if err := r.store.Insert(ctx, constants.CollectionIncoming, id, doc,
			store.Column{Name: "user_id", Value: userID},
			store.Column{Name: "message_id", Value: cmd.MessageID},
		); err != nil {
			if domainerr.Is(err, domainerr.ErrDuplicate) {
				r.log.Warn("duplicate incoming insert, treating as already delivered",
					zap.String("user_id", userID), zap.String("message_id", cmd.MessageID))
				continue
			}
			return nil, fmt.Errorf("receive insert incoming: %w", err)
		}

		route := bus.Route{Kind: bus.KindEvenement, Domain: constants.DomainName, Verb: constants.EvenementNouveauMessage, Tier: constants.TierL2Prive}
		if err := r.bus.Emit(ctx, route, map[string]string{"user_id": userID, "message_id": cmd.MessageID}); err != nil {
			r.log.Warn("failed to emit nouveauMessage", zap.Error(err))
		}

		inserted = append(inserted, userID)

		if !allTrue {
			r.requestAttachmentExistence(ctx, cmd.MessageID, cmd.Fuuids)
		}
	}

	return &ReceiveResult{UserIDs: inserted}, nil
}

type resolveUserIDsRequest struct {
	NomsUsagers []string `json:"noms_usagers"`
}

type resolveUserIDsResponse struct {
	Usagers map[string]string `json:"usagers"`
}

func (r *Receiver) resolveUserIDs(ctx context.Context, usernames []string) (map[string]string, error) {
	route := bus.Route{Kind: bus.KindRequete, Domain: identityDomain, Verb: "getUserIdParNomUsager", Tier: constants.TierL4Secure}
	var resp resolveUserIDsResponse
	if err := r.bus.Request(ctx, route, resolveUserIDsRequest{NomsUsagers: usernames}, &resp); err != nil {
		return nil, err
	}
	return resp.Usagers, nil
}

func (r *Receiver) requestAttachmentExistence(ctx context.Context, messageID string, fuuids []string) {
	route := bus.Route{Kind: bus.KindCommande, Domain: "fichiers", Verb: constants.CommandeFuuidVerifierExistance, Tier: constants.TierL4Secure}
	payload := map[string]any{"message_id": messageID, "fuuids": fuuids}
	if err := r.bus.Request(ctx, route, payload, nil); err != nil {
		r.log.Warn("failed to request attachment existence check", zap.Error(err))
	}
}

// verifyCertificateShape checks that the leaf entry of a remote-origin
// envelope's certificate chain base64-decodes to at least the size of an
// ed25519 public key. This is a shape check, not a signature verification:
// it rejects obviously-truncated or non-certificate garbage before the
// message is persisted, without pulling in a full X.509/millegrille PKI
// stack.
func verifyCertificateShape(leaf string) bool {
	raw, err := base64.StdEncoding.DecodeString(leaf)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(leaf)
		if err != nil {
			return false
		}
	}
	return len(raw) >= ed25519.PublicKeySize
}

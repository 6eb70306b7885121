// Package dispatcher hands a resolved notification off to the postmaster,
// the one external HTTP collaborator the messagerie domain talks to
// directly. The messagerie domain itself has no webhooks of its own, so
// this repurposes the teacher's WebhookDispatcher shape (HMAC-signed JSON
// POST, delivery outcome logged) for the postmaster hand-off instead of an
// organization's configured webhook endpoint.
package dispatcher

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/millegrilles/messagerie/internal/messagerie/model"
	"github.com/millegrilles/messagerie/internal/store"
)

const postmasterDeliveryLog = "messagerie_postmaster_log"

// PostmasterDispatcher hands a NotificationOutgoingPostmaster payload off
// to the postmaster service over HTTP.
type PostmasterDispatcher struct {
	store  *store.Store
	logger *zap.Logger
	client *http.Client
	url    string
	secret string
}

// NewPostmasterDispatcher creates a PostmasterDispatcher with a default
// 10s timeout.
func NewPostmasterDispatcher(s *store.Store, logger *zap.Logger, url, secret string) *PostmasterDispatcher {
	return &PostmasterDispatcher{
		store:  s,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
		url:    url,
		secret: secret,
	}
}

type deliveryLog struct {
	Recipient    string `json:"recipient"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	SentAt       string `json:"sent_at"`
}

// Dispatch POSTs a signed notification to the postmaster and records the
// delivery outcome.
func (d *PostmasterDispatcher) Dispatch(ctx context.Context, notification model.NotificationOutgoingPostmaster) error {
	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal postmaster payload: %w", err)
	}

	sig := computeHMAC(d.secret, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create postmaster request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Messagerie-Signature", sig)

	resp, err := d.client.Do(req)

	status := "success"
	var errMsg string

	if err != nil {
		status = "failed"
		errMsg = err.Error()
		d.logger.Warn("postmaster delivery failed", zap.String("user_id", notification.UserID), zap.Error(err))
	} else {
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			status = "failed"
			errMsg = fmt.Sprintf("HTTP %d", resp.StatusCode)
			d.logger.Warn("postmaster non-2xx response", zap.String("user_id", notification.UserID), zap.Int("status", resp.StatusCode))
		} else {
			d.logger.Info("postmaster delivered", zap.String("user_id", notification.UserID), zap.Int("status", resp.StatusCode))
		}
	}

	entry := deliveryLog{
		Recipient:    notification.UserID,
		Status:       status,
		ErrorMessage: errMsg,
		SentAt:       time.Now().UTC().Format(time.RFC3339),
	}
	if logErr := d.store.Insert(ctx, postmasterDeliveryLog, uuid.NewString(), entry); logErr != nil {
		d.logger.Error("failed to log postmaster delivery", zap.Error(logErr))
	}

	if status == "failed" {
		return fmt.Errorf("postmaster delivery for %s failed: %s", notification.UserID, errMsg)
	}
	return nil
}

func computeHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

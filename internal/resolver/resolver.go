// Package resolver maps DNS labels (installation hostnames) to IDMGs
// (stable peer installation identities) via a request to the platform's
// topology service, grounded on emettre_requete_resolve /
// traiter_outgoing_resolved in transactions.rs. It also enforces the
// bounded-retry ceiling this spec resolves as an Open Question: a DNS
// label that fails to resolve after constants.DNSResolveMaxAttempts
// attempts within constants.DNSResolveWindowHours is promoted to
// dns_failure and dropped from further retries for that message.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/millegrilles/messagerie/internal/bus"
	"github.com/millegrilles/messagerie/internal/dispatch"
	"github.com/millegrilles/messagerie/internal/messagerie/constants"
	"github.com/millegrilles/messagerie/internal/messagerie/domainerr"
	"github.com/millegrilles/messagerie/internal/messagerie/model"
	"github.com/millegrilles/messagerie/internal/store"
)

const topologyDomain = "CoreTopologie"

// Resolver resolves DNS labels to IDMGs and tracks per-label attempt counts.
type Resolver struct {
	bus   *bus.Gateway
	store *store.Store
	log   *zap.Logger

	maxAttempts int
	window      time.Duration
}

// New constructs a Resolver with the default retry ceiling
// (constants.DNSResolveMaxAttempts over constants.DNSResolveWindowHours).
// Call WithTuning to override it from a loaded configuration file.
func New(b *bus.Gateway, s *store.Store, log *zap.Logger) *Resolver {
	return &Resolver{
		bus:         b,
		store:       s,
		log:         log,
		maxAttempts: constants.DNSResolveMaxAttempts,
		window:      time.Duration(constants.DNSResolveWindowHours) * time.Hour,
	}
}

// WithTuning overrides the retry ceiling, e.g. from an operator-supplied
// resolver tuning file. Zero values are ignored, leaving the default.
func (r *Resolver) WithTuning(maxAttempts int, window time.Duration) *Resolver {
	if maxAttempts > 0 {
		r.maxAttempts = maxAttempts
	}
	if window > 0 {
		r.window = window
	}
	return r
}

type resolveRequest struct {
	DNS []string `json:"dns"`
}

type resolveResponse struct {
	DNS map[string]*string `json:"dns"`
}

// Resolve issues a single batched request for every label in dns and
// returns the raw label -> idmg (nil if unresolved) mapping. It does not
// touch the attempt-count bookkeeping; callers driving a retry sweep use
// RecordAttempt for that.
func (r *Resolver) Resolve(ctx context.Context, dns []string) (map[string]*string, error) {
	if len(dns) == 0 {
		return map[string]*string{}, nil
	}

	route := bus.Route{Kind: bus.KindRequete, Domain: topologyDomain, Verb: "resolveIdmg", Tier: constants.TierL2Prive}
	var resp resolveResponse
	if err := r.bus.Request(ctx, route, resolveRequest{DNS: dns}, &resp); err != nil {
		return nil, err
	}
	if resp.DNS == nil {
		return map[string]*string{}, nil
	}
	return resp.DNS, nil
}

// RecordAttempt increments the rolling attempt counter for dns and reports
// whether it has now crossed DNSResolveMaxAttempts within the retry
// window, meaning the caller should move it to dns_failure instead of
// retrying again.
func (r *Resolver) RecordAttempt(ctx context.Context, dns string) (shouldFail bool, err error) {
	now := time.Now().UTC()
	var existing model.DNSResolveAttempt
	getErr := r.store.GetByKey(ctx, constants.CollectionDNSResolveAttempts, "dns", dns, &existing)
	switch {
	case getErr == nil:
		if now.Sub(existing.FirstSeen) > r.window {
			existing = model.DNSResolveAttempt{DNS: dns, Count: 0, FirstSeen: now}
		}
		existing.Count++
	default:
		existing = model.DNSResolveAttempt{DNS: dns, Count: 1, FirstSeen: now}
	}

	patch := store.NewPatch().
		Set("count", existing.Count).
		Set("first_seen", existing.FirstSeen).
		Set("dns", dns)
	rows, err := r.store.ApplyPatch(ctx, constants.CollectionDNSResolveAttempts, "dns = $1", []any{dns}, patch)
	if err != nil || rows == 0 {
		// Row doesn't exist yet; insert it. A duplicate insert (lost race
		// against a concurrent sweep) returns ErrDuplicate, which is
		// treated as success here.
		if insErr := r.store.InsertKeyed(ctx, constants.CollectionDNSResolveAttempts, "dns", dns, existing); insErr != nil && !domainerr.Is(insErr, domainerr.ErrDuplicate) {
			return false, fmt.Errorf("record attempt %s: %w", dns, insErr)
		}
	}

	return existing.Count >= r.maxAttempts, nil
}

// RetrySweep groups every outstanding dns label across every pending
// OutgoingProcessing row into one resolver call, applies whatever
// resolves via dispatcher.ApplyResolved, and promotes any label that has
// hit the retry ceiling to dns_failure instead of retrying it again.
// Grounded on the resolver retry cadence implied by push_count/
// next_push_time in the original schema.
func (r *Resolver) RetrySweep(ctx context.Context, dispatcher *dispatch.Dispatcher) error {
	pending := map[string][]string{} // dns -> message ids waiting on it
	err := r.store.Find(ctx, constants.CollectionOutgoingProcessing, "(doc->'dns_unresolved') IS NOT NULL AND jsonb_array_length(doc->'dns_unresolved') > 0", nil, func(raw []byte) error {
		var row model.OutgoingProcessing
		if err := json.Unmarshal(raw, &row); err != nil {
			return err
		}
		for _, dns := range row.DNSUnresolved {
			pending[dns] = append(pending[dns], row.MessageID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	labels := make([]string, 0, len(pending))
	for dns := range pending {
		labels = append(labels, dns)
	}

	resolved, err := r.Resolve(ctx, labels)
	if err != nil {
		return err
	}

	for _, dns := range labels {
		idmg, ok := resolved[dns]
		if ok && idmg != nil {
			for _, messageID := range pending[dns] {
				if err := dispatcher.ApplyResolved(ctx, messageID, map[string]*string{dns: idmg}); err != nil {
					r.log.Warn("resolver retry: apply resolved failed", zap.String("dns", dns), zap.Error(err))
				}
			}
			continue
		}

		shouldFail, err := r.RecordAttempt(ctx, dns)
		if err != nil {
			r.log.Warn("resolver retry: record attempt failed", zap.String("dns", dns), zap.Error(err))
			continue
		}
		if !shouldFail {
			continue
		}
		for _, messageID := range pending[dns] {
			patch := store.NewPatch().Pull("dns_unresolved", dns).AddToSet("dns_failure", dns).CurrentDate("last_processed")
			if _, err := r.store.ApplyPatch(ctx, constants.CollectionOutgoingProcessing, "id = $1", []any{messageID}, patch); err != nil {
				r.log.Warn("resolver retry: promote to dns_failure failed", zap.String("dns", dns), zap.Error(err))
			}
		}
	}
	return nil
}

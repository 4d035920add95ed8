package providerevent

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/lease"
	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/provider"
)

// Ingester wires a provider-event Store to the lease layer, converging
// a matched lease's observed state under an invalidation-only contract:
// a webhook only ever marks a lease as needing another look (or, for a
// confidently classified status, feeds that status straight to the
// state machine), never fabricates data the state machine itself
// hasn't confirmed.
type Ingester struct {
	store    *Store
	leases   *lease.Store
	leaseMgr *lease.Manager
	registry *provider.Registry
	secrets  map[string][]byte
}

// NewIngester builds an Ingester. secrets maps provider name to its
// configured webhook signing secret; a provider absent from the map
// has no signature requirement.
func NewIngester(store *Store, leases *lease.Store, leaseMgr *lease.Manager, registry *provider.Registry, secrets map[string][]byte) *Ingester {
	return &Ingester{store: store, leases: leases, leaseMgr: leaseMgr, registry: registry, secrets: secrets}
}

// Result mirrors the webhook HTTP response contract.
type Result struct {
	OK         bool
	Provider   string
	InstanceID string
	EventType  string
	Matched    bool
	LeaseID    string
}

// ErrBadSignature signals a 401: a secret is configured for the
// provider and the delivered signature doesn't match.
var ErrBadSignature = fmt.Errorf("providerevent: signature verification failed")

// ErrMissingInstanceID signals a 400: no id field could be found.
var ErrMissingInstanceID = fmt.Errorf("providerevent: payload has no extractable instance id")

// VerifyIfConfigured checks the signature header against providerName's
// configured secret, a no-op (always passes) when none is configured.
func (ing *Ingester) VerifyIfConfigured(providerName string, body []byte, signatureHeader string) error {
	secret, ok := ing.secrets[providerName]
	if !ok || len(secret) == 0 {
		return nil
	}
	if !VerifySignature(secret, body, signatureHeader) {
		return ErrBadSignature
	}
	return nil
}

// Ingest persists the raw payload, then — if it parses and a lease
// matches (provider_name, instance_id) — feeds the classified status to
// the lease state machine via observe.status. A payload with no
// extractable instance id is rejected with ErrMissingInstanceID and not
// persisted. Every other delivery is persisted (after the lease lookup,
// before any lease state change), so one that fails to parse, or whose
// provider/instance combination matches nothing, is still auditable.
func (ing *Ingester) Ingest(ctx context.Context, providerName string, payload map[string]any) (Result, error) {
	instanceID := ExtractInstanceID(payload)
	if instanceID == "" {
		return Result{}, ErrMissingInstanceID
	}

	obs, parseErr := ParsePayload(providerName, payload)
	eventType := obs.EventType
	if eventType == "" {
		if et, ok := payload["type"].(string); ok {
			eventType = et
		} else if et, ok := payload["event"].(string); ok {
			eventType = et
		}
	}

	// Lease lookup is independent of whether the payload classified
	// cleanly: a parser that can't map this event type still identifies
	// a real instance, and that instance may already have a lease.
	l, err := ing.leases.FindByInstance(ctx, providerName, instanceID)
	if err != nil {
		return Result{}, err
	}
	var matchedLeaseID string
	if l != nil {
		matchedLeaseID = l.LeaseID
	}

	if _, err := ing.store.Append(ctx, providerName, instanceID, eventType, payload, matchedLeaseID); err != nil {
		return Result{}, err
	}

	result := Result{
		OK:         true,
		Provider:   providerName,
		InstanceID: instanceID,
		EventType:  eventType,
		Matched:    l != nil,
		LeaseID:    matchedLeaseID,
	}

	if l == nil {
		return result, nil
	}

	prov, ok := ing.registry.Get(providerName)
	if !ok {
		return result, nil
	}

	if parseErr != nil || obs.Status == StatusUnknown {
		if err := ing.leases.MarkNeedsRefresh(ctx, l.LeaseID, time.Now()); err != nil {
			return result, err
		}
		return result, nil
	}

	_, err = ing.leaseMgr.Apply(ctx, l.LeaseID, prov, lease.EventObserveStatus, "webhook", map[string]any{
		"status":         string(obs.Status),
		"raw_event_type": obs.EventType,
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

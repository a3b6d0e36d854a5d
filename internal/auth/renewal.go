package auth

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zeroai-dev/zeroai/internal/config"
)

const (
	// renewalInterval is how often the background loop scans for tokens
	// close to expiry.
	renewalInterval = 900 * time.Second

	// renewalBuffer is the remaining lifetime below which a token is
	// refreshed proactively.
	renewalBuffer = 1200 * time.Second
)

// Renewer refreshes OAuth credentials in the background so requests rarely
// hit the refresh path inline.
type Renewer struct {
	store  *config.Store
	engine *Engine

	interval time.Duration
	buffer   time.Duration
	now      func() time.Time
}

// NewRenewer creates a renewer with the default interval and buffer.
func NewRenewer(store *config.Store, engine *Engine) *Renewer {
	return &Renewer{
		store:    store,
		engine:   engine,
		interval: renewalInterval,
		buffer:   renewalBuffer,
		now:      time.Now,
	}
}

// Run loops until the context is cancelled. Refresh failures are logged and
// retried on the next tick; the account stays selectable so the next dispatch
// either succeeds with a fresh token or surfaces the auth error.
func (r *Renewer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RenewOnce(ctx)
		}
	}
}

// RenewOnce scans every provider that has a registered flow and refreshes
// the OAuth accounts whose remaining lifetime is below the buffer.
func (r *Renewer) RenewOnce(ctx context.Context) {
	nowMs := r.now().UnixMilli()
	bufferMs := r.buffer.Milliseconds()

	for _, providerID := range r.engine.ProviderIDs() {
		accounts, err := r.store.ListAccounts(providerID)
		if err != nil {
			log.Warnf("renewal: failed to list %s accounts: %v", providerID, err)
			continue
		}
		flow := r.engine.Provider(providerID)
		for _, account := range accounts {
			cred := account.Credential
			if cred.Type != config.CredentialOAuth || cred.Refresh == "" {
				continue
			}
			if cred.Expires-nowMs >= bufferMs {
				continue
			}
			refreshed, errRefresh := flow.Refresh(ctx, cred)
			if errRefresh != nil {
				log.Warnf("renewal: refresh failed for %s account %s: %v", providerID, account.ID, errRefresh)
				continue
			}
			if errUpdate := r.store.UpdateCredential(providerID, account.ID, refreshed); errUpdate != nil {
				log.Warnf("renewal: failed to persist %s account %s: %v", providerID, account.ID, errUpdate)
				continue
			}
			log.Infof("renewal: refreshed %s account %s", providerID, account.ID)
		}
	}
}

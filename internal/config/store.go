package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// AppDirName is the per-user directory holding the credential store.
const AppDirName = ".zeroai"

// RefreshFunc exchanges an expired OAuth credential for a fresh one. It is
// injected by the OAuth engine so the store never depends on it directly.
type RefreshFunc func(ctx context.Context, provider string, cred Credential) (Credential, error)

// Store owns the on-disk credential document. It re-reads the file on every
// operation and holds an exclusive advisory lock on the sibling .lock file
// for the duration of each read-modify-write, so sibling processes can share
// the document safely.
type Store struct {
	path    string
	lock    *flock.Flock
	refresh RefreshFunc

	// now is swappable for tests.
	now func() time.Time
}

// DefaultPath returns "<home>/.zeroai/config.json".
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, AppDirName, "config.json"), nil
}

// NewStore creates a store for the given config path.
func NewStore(path string) *Store {
	return &Store{
		path: path,
		lock: flock.New(path + ".lock"),
		now:  time.Now,
	}
}

// SetRefresher installs the OAuth refresh callback used by ResolveAccount.
func (s *Store) SetRefresher(fn RefreshFunc) {
	s.refresh = fn
}

// Path returns the location of the config document.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) nowMs() int64 {
	return s.now().UnixMilli()
}

// Load reads the document from disk. A missing file yields the default
// document; a malformed file is an error. Legacy single-credential entries
// are migrated into one "default" account per provider.
func (s *Store) Load() (*AppConfig, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultAppConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultAppConfig()
	if err = json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.migrateLegacy()
	return cfg, nil
}

// Save writes the document atomically under the file lock.
func (s *Store) Save(cfg *AppConfig) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire config lock: %w", err)
	}
	defer func() {
		_ = s.lock.Unlock()
	}()
	return s.write(cfg)
}

// write serialises the document, writes a temp sibling, fsyncs and renames
// it into place. The config directory is created mode 0700 and the file is
// chmodded 0600 before the rename on POSIX systems.
func (s *Store) write(cfg *AppConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp config file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp config file: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err = os.Chmod(tmpName, 0o600); err != nil {
			return fmt.Errorf("failed to set config file mode: %w", err)
		}
	}
	if err = os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

// mutate runs a read-modify-write cycle under the file lock, mirroring the
// legacy credential map after the mutation.
func (s *Store) mutate(fn func(cfg *AppConfig) error) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire config lock: %w", err)
	}
	defer func() {
		_ = s.lock.Unlock()
	}()

	cfg, err := s.Load()
	if err != nil {
		return err
	}
	if err = fn(cfg); err != nil {
		return err
	}
	cfg.mirrorLegacy()
	return s.write(cfg)
}

// AddAccount appends a new account for the provider and returns its id.
func (s *Store) AddAccount(provider, label string, cred Credential) (string, error) {
	id := uuid.NewString()
	err := s.mutate(func(cfg *AppConfig) error {
		cfg.setAccounts(provider, append(cfg.accounts(provider), &Account{
			ID:         id,
			Label:      label,
			Credential: cred,
		}))
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// ListAccounts returns the provider's accounts in preference order.
func (s *Store) ListAccounts(provider string) ([]*Account, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}
	return cfg.accounts(provider), nil
}

func findAccount(accounts []*Account, id string) int {
	for i := range accounts {
		if accounts[i].ID == id {
			return i
		}
	}
	return -1
}

// UseAccount moves the named account to index 0, preserving the relative
// order of the others.
func (s *Store) UseAccount(provider, accountID string) error {
	return s.mutate(func(cfg *AppConfig) error {
		accounts := cfg.accounts(provider)
		idx := findAccount(accounts, accountID)
		if idx < 0 {
			return fmt.Errorf("account %s not found for provider %s", accountID, provider)
		}
		picked := accounts[idx]
		rest := append(append([]*Account{}, accounts[:idx]...), accounts[idx+1:]...)
		cfg.setAccounts(provider, append([]*Account{picked}, rest...))
		return nil
	})
}

// RemoveAccount deletes the named account.
func (s *Store) RemoveAccount(provider, accountID string) error {
	return s.mutate(func(cfg *AppConfig) error {
		accounts := cfg.accounts(provider)
		idx := findAccount(accounts, accountID)
		if idx < 0 {
			return fmt.Errorf("account %s not found for provider %s", accountID, provider)
		}
		cfg.setAccounts(provider, append(accounts[:idx], accounts[idx+1:]...))
		return nil
	})
}

// MoveAccountUp swaps the account with its predecessor.
func (s *Store) MoveAccountUp(provider, accountID string) error {
	return s.moveAccount(provider, accountID, -1)
}

// MoveAccountDown swaps the account with its successor.
func (s *Store) MoveAccountDown(provider, accountID string) error {
	return s.moveAccount(provider, accountID, 1)
}

func (s *Store) moveAccount(provider, accountID string, delta int) error {
	return s.mutate(func(cfg *AppConfig) error {
		accounts := cfg.accounts(provider)
		idx := findAccount(accounts, accountID)
		if idx < 0 {
			return fmt.Errorf("account %s not found for provider %s", accountID, provider)
		}
		target := idx + delta
		if target < 0 || target >= len(accounts) {
			return nil
		}
		accounts[idx], accounts[target] = accounts[target], accounts[idx]
		cfg.setAccounts(provider, accounts)
		return nil
	})
}

// SetAccountLabel updates the account label.
func (s *Store) SetAccountLabel(provider, accountID, label string) error {
	return s.mutate(func(cfg *AppConfig) error {
		accounts := cfg.accounts(provider)
		idx := findAccount(accounts, accountID)
		if idx < 0 {
			return fmt.Errorf("account %s not found for provider %s", accountID, provider)
		}
		accounts[idx].Label = label
		return nil
	})
}

// RateLimitAccount opens a health window of backoffMs for the account and
// moves it to the tail, so the next selection prefers a different account
// even after the window expires.
func (s *Store) RateLimitAccount(provider, accountID string, backoffMs int64) error {
	nowMs := s.nowMs()
	return s.mutate(func(cfg *AppConfig) error {
		accounts := cfg.accounts(provider)
		idx := findAccount(accounts, accountID)
		if idx < 0 {
			return fmt.Errorf("account %s not found for provider %s", accountID, provider)
		}
		picked := accounts[idx]
		picked.UnhealthyUntilMs = nowMs + backoffMs
		picked.LastRateLimitedMs = nowMs
		rest := append(append([]*Account{}, accounts[:idx]...), accounts[idx+1:]...)
		cfg.setAccounts(provider, append(rest, picked))
		return nil
	})
}

// UpdateCredential replaces the credential of the named account in place.
func (s *Store) UpdateCredential(provider, accountID string, cred Credential) error {
	return s.mutate(func(cfg *AppConfig) error {
		accounts := cfg.accounts(provider)
		idx := findAccount(accounts, accountID)
		if idx < 0 {
			return fmt.Errorf("account %s not found for provider %s", accountID, provider)
		}
		accounts[idx].Credential = cred
		return nil
	})
}

// ResolveAccount picks the credential to use for the next request: the first
// healthy account, falling back to index 0 when every account is inside a
// health window. Expired OAuth credentials are refreshed through the
// injected callback and persisted under the same account id before the
// materialised key is returned. When the provider has no accounts at all,
// environment variables and foreign CLI credential files are consulted.
func (s *Store) ResolveAccount(ctx context.Context, provider string) (*AccountSelection, error) {
	accounts, err := s.ListAccounts(provider)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return s.discoverAccount(ctx, provider)
	}

	nowMs := s.nowMs()
	account := accounts[0]
	for i := range accounts {
		if accounts[i].HealthyAt(nowMs) {
			account = accounts[i]
			break
		}
	}

	cred := account.Credential
	if cred.Expired(nowMs) {
		if s.refresh == nil {
			return nil, fmt.Errorf("credential for %s expired and no refresher installed", provider)
		}
		refreshed, errRefresh := s.refresh(ctx, provider, cred)
		if errRefresh != nil {
			return nil, fmt.Errorf("failed to refresh credential for %s: %w", provider, errRefresh)
		}
		if errUpdate := s.UpdateCredential(provider, account.ID, refreshed); errUpdate != nil {
			return nil, errUpdate
		}
		cred = refreshed
		log.Debugf("refreshed expired credential for %s account %s", provider, account.ID)
	}

	return &AccountSelection{
		Provider:  provider,
		AccountID: account.ID,
		APIKey:    cred.Materialize(),
		BaseURL:   cred.BaseURL,
	}, nil
}

// SetEnabledModels replaces the enabled model list.
func (s *Store) SetEnabledModels(fullIDs []string) error {
	return s.mutate(func(cfg *AppConfig) error {
		cfg.EnabledModels = fullIDs
		return nil
	})
}

// EnabledModels returns the enabled full model ids.
func (s *Store) EnabledModels() ([]string, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}
	return cfg.EnabledModels, nil
}

// SetModelsURL sets or clears (empty URL) the model-listing override for a
// provider.
func (s *Store) SetModelsURL(provider, url string) error {
	return s.mutate(func(cfg *AppConfig) error {
		if cfg.ProviderModelsURL == nil {
			cfg.ProviderModelsURL = make(map[string]string)
		}
		if url == "" {
			delete(cfg.ProviderModelsURL, provider)
		} else {
			cfg.ProviderModelsURL[provider] = url
		}
		return nil
	})
}

// ModelsURL returns the model-listing override for a provider, if any.
func (s *Store) ModelsURL(provider string) (string, error) {
	cfg, err := s.Load()
	if err != nil {
		return "", err
	}
	return cfg.ProviderModelsURL[provider], nil
}

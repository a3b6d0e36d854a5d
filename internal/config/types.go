package config

// Account is one credential slot for a provider. Providers hold an ordered
// account list; index 0 is the preferred account.
type Account struct {
	// ID uniquely identifies the account across restarts.
	ID string `json:"id"`

	// Label is an optional human readable name for logging and the UI.
	Label string `json:"label,omitempty"`

	// Credential is the secret material for this slot.
	Credential Credential `json:"credential"`

	// UnhealthyUntilMs marks the end of a rate-limit health window
	// (Unix milliseconds). Zero means healthy.
	UnhealthyUntilMs int64 `json:"unhealthyUntilMs,omitempty"`

	// LastRateLimitedMs records the most recent rate limit observation.
	LastRateLimitedMs int64 `json:"lastRateLimitedMs,omitempty"`
}

// HealthyAt reports whether the account may be selected at the given instant.
func (a *Account) HealthyAt(nowMs int64) bool {
	return a.UnhealthyUntilMs <= nowMs
}

// AccountList wraps the ordered accounts of one provider.
type AccountList struct {
	Accounts []*Account `json:"accounts"`
}

// AppConfig is the persisted document. Credentials mirrors the first account
// of each provider for older consumers of the file.
type AppConfig struct {
	Credentials       map[string]*Credential  `json:"credentials,omitempty"`
	ProviderAccounts  map[string]*AccountList `json:"providerAccounts,omitempty"`
	EnabledModels     []string                `json:"enabledModels,omitempty"`
	ProviderModelsURL map[string]string       `json:"providerModelsURL,omitempty"`
}

// DefaultAppConfig returns the document used when the file is absent.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Credentials:       make(map[string]*Credential),
		ProviderAccounts:  make(map[string]*AccountList),
		ProviderModelsURL: make(map[string]string),
	}
}

// accounts returns the account slice for a provider, never nil.
func (c *AppConfig) accounts(provider string) []*Account {
	if list := c.ProviderAccounts[provider]; list != nil {
		return list.Accounts
	}
	return nil
}

func (c *AppConfig) setAccounts(provider string, accounts []*Account) {
	if c.ProviderAccounts == nil {
		c.ProviderAccounts = make(map[string]*AccountList)
	}
	c.ProviderAccounts[provider] = &AccountList{Accounts: accounts}
}

// mirrorLegacy copies the first account's credential of every provider into
// the legacy top-level credentials map, and clears entries for providers
// without accounts.
func (c *AppConfig) mirrorLegacy() {
	if c.Credentials == nil {
		c.Credentials = make(map[string]*Credential)
	}
	for provider, list := range c.ProviderAccounts {
		if list != nil && len(list.Accounts) > 0 {
			cred := list.Accounts[0].Credential
			c.Credentials[provider] = &cred
		} else {
			delete(c.Credentials, provider)
		}
	}
}

// migrateLegacy synthesises a single "default" account for every legacy
// top-level credential whose provider has no accounts yet.
func (c *AppConfig) migrateLegacy() {
	for provider, cred := range c.Credentials {
		if cred == nil {
			continue
		}
		if len(c.accounts(provider)) > 0 {
			continue
		}
		c.setAccounts(provider, []*Account{{
			ID:         "default",
			Label:      "default",
			Credential: *cred,
		}})
	}
}

// AccountSelection is the short-lived borrow handed to the dispatch core:
// the chosen account and its materialised API key.
type AccountSelection struct {
	Provider  string
	AccountID string
	APIKey    string

	// BaseURL is a per-account endpoint override, when present.
	BaseURL string
}

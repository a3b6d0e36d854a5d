// Package config implements the on-disk credential store: one JSON document
// per user holding ordered multi-account credentials per provider, guarded by
// an advisory file lock and written atomically. All mutation of persisted
// state funnels through the Store type.
package config

import "encoding/json"

// CredentialType tags the credential variants.
type CredentialType string

const (
	// CredentialAPIKey is a plain provider API key.
	CredentialAPIKey CredentialType = "api_key"
	// CredentialOAuth is a refresh/access token pair with an expiry.
	CredentialOAuth CredentialType = "o_auth"
	// CredentialSetupToken is an Anthropic token minted by the first-party
	// CLI ("sk-ant-sid…"); it behaves like an API key but triggers the
	// Claude Code request shape in the adapter.
	CredentialSetupToken CredentialType = "setup_token"
)

// Credential is the tagged credential variant persisted per account.
type Credential struct {
	Type CredentialType `json:"type"`

	// Key holds the secret for api_key credentials.
	Key string `json:"key,omitempty"`

	// Token holds the secret for setup_token credentials.
	Token string `json:"token,omitempty"`

	// Refresh, Access and Expires describe o_auth credentials. Expires is
	// Unix milliseconds.
	Refresh string `json:"refresh,omitempty"`
	Access  string `json:"access,omitempty"`
	Expires int64  `json:"expires,omitempty"`

	// ProjectID is the Cloud Code Assist project discovered at login.
	ProjectID string `json:"projectId,omitempty"`

	// Email identifies the account owner for logging, when known.
	Email string `json:"email,omitempty"`

	// BaseURL overrides the provider endpoint for this credential (used by
	// providers whose token exchange returns a per-account resource URL).
	BaseURL string `json:"baseUrl,omitempty"`
}

// oauthEnvelope is the materialised form of an OAuth credential that carries
// a project id; Cloud Code Assist adapters unpack it again.
type oauthEnvelope struct {
	Token     string `json:"token"`
	ProjectID string `json:"projectId"`
}

// Materialize renders the credential as the API key string handed to an
// adapter. OAuth credentials with a project id yield a JSON envelope so the
// project travels with the token; everything else is the raw secret.
func (c *Credential) Materialize() string {
	switch c.Type {
	case CredentialAPIKey:
		return c.Key
	case CredentialSetupToken:
		return c.Token
	case CredentialOAuth:
		if c.ProjectID != "" {
			data, err := json.Marshal(oauthEnvelope{Token: c.Access, ProjectID: c.ProjectID})
			if err == nil {
				return string(data)
			}
		}
		return c.Access
	}
	return ""
}

// Expired reports whether the credential's access token has expired at the
// given Unix-millisecond instant. Only OAuth credentials expire.
func (c *Credential) Expired(nowMs int64) bool {
	return c.Type == CredentialOAuth && nowMs >= c.Expires
}

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/zeroai-dev/zeroai/internal/registry"
)

// fallbackEnvKeys are consulted after the provider specific variables.
var fallbackEnvKeys = []string{"ZEROAI_API_KEY", "API_KEY"}

// discoverAccount finds a credential for a provider that has no stored
// accounts. Environment variables win and are never persisted; credential
// files written by other local CLIs are imported as a "sniffed" account so
// subsequent requests find them through the normal path.
func (s *Store) discoverAccount(ctx context.Context, provider string) (*AccountSelection, error) {
	if key := envAPIKey(provider); key != "" {
		return &AccountSelection{
			Provider:  provider,
			AccountID: "env",
			APIKey:    key,
		}, nil
	}

	cred := sniffCredentialFile(provider)
	if cred == nil {
		return nil, fmt.Errorf("no credential available for provider %s", provider)
	}
	id, err := s.AddAccount(provider, "sniffed", *cred)
	if err != nil {
		return nil, err
	}
	log.Infof("imported %s credential from local CLI files as account %s", provider, id)
	return s.ResolveAccount(ctx, provider)
}

// envAPIKey checks the provider's documented environment variables first,
// then the generic fallbacks.
func envAPIKey(provider string) string {
	if p := registry.Provider(provider); p != nil {
		for _, name := range p.EnvKeys {
			if v := os.Getenv(name); v != "" {
				return v
			}
		}
	}
	for _, name := range fallbackEnvKeys {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// sniffCredentialFile reads credentials written by the first-party CLIs of a
// few providers. Returns nil when nothing usable is found.
func sniffCredentialFile(provider string) *Credential {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	switch provider {
	case "anthropic":
		return sniffClaudeCredentials(filepath.Join(home, ".claude", ".credentials.json"))
	case "gemini-cli", "cloud-code-assist":
		return sniffGoogleOAuthCreds(filepath.Join(home, ".gemini", "oauth_creds.json"))
	case "qwen":
		return sniffGoogleOAuthCreds(filepath.Join(home, ".qwen", "oauth_creds.json"))
	}
	return nil
}

// sniffClaudeCredentials reads the Claude CLI credential file. The file nests
// the token material under "claudeAiOauth".
func sniffClaudeCredentials(path string) *Credential {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	oauth := gjson.GetBytes(data, "claudeAiOauth")
	if !oauth.Exists() {
		return nil
	}
	access := oauth.Get("accessToken").String()
	if access == "" {
		return nil
	}
	return &Credential{
		Type:    CredentialOAuth,
		Access:  access,
		Refresh: oauth.Get("refreshToken").String(),
		Expires: oauth.Get("expiresAt").Int(),
	}
}

// sniffGoogleOAuthCreds reads the flat oauth_creds.json layout shared by the
// Gemini and Qwen CLIs.
func sniffGoogleOAuthCreds(path string) *Credential {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	access := gjson.GetBytes(data, "access_token").String()
	if access == "" {
		return nil
	}
	cred := &Credential{
		Type:    CredentialOAuth,
		Access:  access,
		Refresh: gjson.GetBytes(data, "refresh_token").String(),
		Expires: gjson.GetBytes(data, "expiry_date").Int(),
	}
	if project := os.Getenv("GOOGLE_CLOUD_PROJECT"); project != "" {
		cred.ProjectID = project
	}
	if resource := gjson.GetBytes(data, "resource_url").String(); resource != "" {
		// The Qwen CLI stores a bare host here.
		if !strings.Contains(resource, "://") {
			resource = "https://" + strings.TrimSuffix(resource, "/") + "/v1"
		}
		cred.BaseURL = resource
	}
	return cred
}

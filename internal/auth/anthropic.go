package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zeroai-dev/zeroai/internal/config"
)

const (
	anthropicAuthURL  = "https://claude.ai/oauth/authorize"
	anthropicTokenURL = "https://console.anthropic.com/v1/oauth/token"
	anthropicClientID = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	anthropicRedirect = "https://console.anthropic.com/oauth/code/callback"
	anthropicScopes   = "org:create_api_key user:profile user:inference"
)

// anthropicProvider implements the authorization-code + PKCE flow with
// paste-back: the redirect lands on an Anthropic page that displays a
// "code#state" string for the user to copy.
type anthropicProvider struct {
	httpClient *http.Client
	tokenURL   string
	now        func() time.Time
}

func newAnthropicProvider(httpClient *http.Client) *anthropicProvider {
	return &anthropicProvider{
		httpClient: httpClient,
		tokenURL:   anthropicTokenURL,
		now:        time.Now,
	}
}

func (p *anthropicProvider) ID() string          { return "anthropic" }
func (p *anthropicProvider) DisplayName() string { return "Anthropic" }

type anthropicTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Account      struct {
		EmailAddress string `json:"email_address"`
	} `json:"account"`
}

func (p *anthropicProvider) Login(ctx context.Context, cb *Callbacks) (*config.Credential, error) {
	pkce, err := NewPKCECodes()
	if err != nil {
		return nil, err
	}
	state, err := NewState()
	if err != nil {
		return nil, err
	}

	params := url.Values{
		"code":                  {"true"},
		"client_id":             {anthropicClientID},
		"response_type":         {"code"},
		"redirect_uri":          {anthropicRedirect},
		"scope":                 {anthropicScopes},
		"code_challenge":        {pkce.Challenge},
		"code_challenge_method": {"S256"},
		"state":                 {state},
	}
	cb.authURL(fmt.Sprintf("%s?%s", anthropicAuthURL, params.Encode()))

	pasted, err := cb.prompt("Paste the authorization code")
	if err != nil {
		return nil, err
	}
	code, pastedState := parseCodeAndState(pasted)
	if pastedState == "" {
		pastedState = state
	}

	reqBody := map[string]any{
		"code":          code,
		"state":         pastedState,
		"grant_type":    "authorization_code",
		"client_id":     anthropicClientID,
		"redirect_uri":  anthropicRedirect,
		"code_verifier": pkce.Verifier,
	}
	tokenResp, err := p.postToken(ctx, reqBody)
	if err != nil {
		return nil, err
	}

	return &config.Credential{
		Type:    config.CredentialOAuth,
		Access:  tokenResp.AccessToken,
		Refresh: tokenResp.RefreshToken,
		Expires: expiryMs(p.now().UnixMilli(), tokenResp.ExpiresIn),
		Email:   tokenResp.Account.EmailAddress,
	}, nil
}

func (p *anthropicProvider) Refresh(ctx context.Context, cred config.Credential) (config.Credential, error) {
	if cred.Refresh == "" {
		return config.Credential{}, fmt.Errorf("credential has no refresh token")
	}
	tokenResp, err := p.postToken(ctx, map[string]any{
		"client_id":     anthropicClientID,
		"grant_type":    "refresh_token",
		"refresh_token": cred.Refresh,
	})
	if err != nil {
		return config.Credential{}, err
	}

	next := cred
	next.Access = tokenResp.AccessToken
	next.Expires = expiryMs(p.now().UnixMilli(), tokenResp.ExpiresIn)
	if tokenResp.RefreshToken != "" {
		next.Refresh = tokenResp.RefreshToken
	}
	if tokenResp.Account.EmailAddress != "" {
		next.Email = tokenResp.Account.EmailAddress
	}
	return next, nil
}

func (p *anthropicProvider) postToken(ctx context.Context, reqBody map[string]any) (*anthropicTokenResponse, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(string(jsonBody)))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token exchange failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp anthropicTokenResponse
	if err = json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	return &tokenResp, nil
}

// parseCodeAndState splits a pasted "code#state" string; a full redirect URL
// is also accepted, in which case the query parameters are used.
func parseCodeAndState(pasted string) (code, state string) {
	if strings.Contains(pasted, "://") {
		if u, err := url.Parse(pasted); err == nil {
			q := u.Query()
			if c := q.Get("code"); c != "" {
				return c, q.Get("state")
			}
		}
	}
	parts := strings.SplitN(pasted, "#", 2)
	code = parts[0]
	if len(parts) > 1 {
		state = parts[1]
	}
	return code, state
}

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

	log "github.com/sirupsen/logrus"

	"github.com/zeroai-dev/zeroai/internal/config"
)

const (
	qwenDeviceCodeURL = "https://chat.qwen.ai/api/v1/oauth2/device/code"
	qwenTokenURL      = "https://chat.qwen.ai/api/v1/oauth2/token"
	qwenClientID      = "f0304373b74a44d2b584a3fb70ca9e56"
	qwenScope         = "openid profile email model.completion"
	qwenGrantType     = "urn:ietf:params:oauth:grant-type:device_code"
)

// qwenProvider implements the RFC 8628 device-code flow. The token response
// carries a per-account resource_url that becomes the credential's endpoint.
type qwenProvider struct {
	httpClient *http.Client
	now        func() time.Time
}

func newQwenProvider(httpClient *http.Client) *qwenProvider {
	return &qwenProvider{httpClient: httpClient, now: time.Now}
}

func (p *qwenProvider) ID() string          { return "qwen" }
func (p *qwenProvider) DisplayName() string { return "Qwen" }

type qwenDeviceFlow struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

type qwenTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ResourceURL  string `json:"resource_url,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (p *qwenProvider) Login(ctx context.Context, cb *Callbacks) (*config.Credential, error) {
	pkce, err := NewPKCECodes()
	if err != nil {
		return nil, err
	}

	flow, err := p.initiateDeviceFlow(ctx, pkce.Challenge)
	if err != nil {
		return nil, err
	}

	cb.progress(fmt.Sprintf("Enter code %s at %s", flow.UserCode, flow.VerificationURI))
	if flow.VerificationURIComplete != "" {
		cb.authURL(flow.VerificationURIComplete)
	}

	tokenResp, err := p.pollForToken(ctx, flow, pkce.Verifier)
	if err != nil {
		return nil, err
	}
	return p.toCredential(tokenResp, config.Credential{}), nil
}

func (p *qwenProvider) Refresh(ctx context.Context, cred config.Credential) (config.Credential, error) {
	if cred.Refresh == "" {
		return config.Credential{}, fmt.Errorf("credential has no refresh token")
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", cred.Refresh)
	form.Set("client_id", qwenClientID)

	body, status, err := p.postForm(ctx, qwenTokenURL, form)
	if err != nil {
		return config.Credential{}, fmt.Errorf("token refresh request failed: %w", err)
	}
	if status != http.StatusOK {
		return config.Credential{}, fmt.Errorf("token refresh failed with status %d: %s", status, string(body))
	}

	var tokenResp qwenTokenResponse
	if err = json.Unmarshal(body, &tokenResp); err != nil {
		return config.Credential{}, fmt.Errorf("failed to parse token response: %w", err)
	}
	return *p.toCredential(&tokenResp, cred), nil
}

// toCredential merges a token response over a previous credential, keeping
// the old refresh token and resource URL when the response omits them.
func (p *qwenProvider) toCredential(tokenResp *qwenTokenResponse, prev config.Credential) *config.Credential {
	next := prev
	next.Type = config.CredentialOAuth
	next.Access = tokenResp.AccessToken
	next.Expires = expiryMs(p.now().UnixMilli(), tokenResp.ExpiresIn)
	if tokenResp.RefreshToken != "" {
		next.Refresh = tokenResp.RefreshToken
	}
	if tokenResp.ResourceURL != "" {
		base := tokenResp.ResourceURL
		if !strings.Contains(base, "://") {
			base = "https://" + base
		}
		next.BaseURL = strings.TrimSuffix(base, "/") + "/v1"
	}
	return &next
}

func (p *qwenProvider) initiateDeviceFlow(ctx context.Context, challenge string) (*qwenDeviceFlow, error) {
	form := url.Values{}
	form.Set("client_id", qwenClientID)
	form.Set("scope", qwenScope)
	form.Set("code_challenge", challenge)
	form.Set("code_challenge_method", "S256")

	body, status, err := p.postForm(ctx, qwenDeviceCodeURL, form)
	if err != nil {
		return nil, fmt.Errorf("device authorization request failed: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("device authorization failed with status %d: %s", status, string(body))
	}

	var flow qwenDeviceFlow
	if err = json.Unmarshal(body, &flow); err != nil {
		return nil, fmt.Errorf("failed to parse device flow response: %w", err)
	}
	if flow.DeviceCode == "" {
		return nil, fmt.Errorf("device authorization failed: no device_code in response")
	}
	return &flow, nil
}

func (p *qwenProvider) pollForToken(ctx context.Context, flow *qwenDeviceFlow, verifier string) (*qwenTokenResponse, error) {
	interval := 5 * time.Second
	if flow.Interval > 0 {
		interval = time.Duration(flow.Interval) * time.Second
	}
	deadline := p.now().Add(5 * time.Minute)

	for p.now().Before(deadline) {
		form := url.Values{}
		form.Set("grant_type", qwenGrantType)
		form.Set("client_id", qwenClientID)
		form.Set("device_code", flow.DeviceCode)
		form.Set("code_verifier", verifier)

		body, status, err := p.postForm(ctx, qwenTokenURL, form)
		if err != nil {
			return nil, fmt.Errorf("device token poll failed: %w", err)
		}

		if status == http.StatusOK {
			var tokenResp qwenTokenResponse
			if err = json.Unmarshal(body, &tokenResp); err != nil {
				return nil, fmt.Errorf("failed to parse token response: %w", err)
			}
			return &tokenResp, nil
		}

		errType := ""
		errDesc := ""
		var errorData map[string]any
		if json.Unmarshal(body, &errorData) == nil {
			errType, _ = errorData["error"].(string)
			errDesc, _ = errorData["error_description"].(string)
		}
		switch errType {
		case "authorization_pending":
			log.Debug("authorization pending, polling again")
		case "slow_down":
			interval = time.Duration(float64(interval) * 1.5)
			if interval > 10*time.Second {
				interval = 10 * time.Second
			}
		case "expired_token":
			return nil, fmt.Errorf("device code expired, restart the login")
		case "access_denied":
			return nil, fmt.Errorf("authorization denied by user")
		default:
			return nil, fmt.Errorf("device token poll failed: %s - %s", errType, errDesc)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
	return nil, fmt.Errorf("login timed out waiting for device authorization")
}

func (p *qwenProvider) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

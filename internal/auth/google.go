package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/zeroai-dev/zeroai/internal/config"
)

const (
	googleClientID     = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	googleClientSecret = "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"
	googleRedirectURL  = "http://localhost:8085/oauth2callback"

	codeAssistEndpoint   = "https://cloudcode-pa.googleapis.com"
	codeAssistAPIVersion = "v1internal"
)

var googleScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// googleProvider implements the browser flow shared by the Google backed
// providers. A local server catches the redirect, then the Cloud Code Assist
// onboarding endpoints discover (or create) the companion project.
type googleProvider struct {
	id         string
	name       string
	httpClient *http.Client
	now        func() time.Time
}

func newGoogleProvider(id, name string, httpClient *http.Client) *googleProvider {
	return &googleProvider{
		id:         id,
		name:       name,
		httpClient: httpClient,
		now:        time.Now,
	}
}

func (p *googleProvider) ID() string          { return p.id }
func (p *googleProvider) DisplayName() string { return p.name }

func (p *googleProvider) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     googleClientID,
		ClientSecret: googleClientSecret,
		RedirectURL:  googleRedirectURL,
		Scopes:       googleScopes,
		Endpoint:     google.Endpoint,
	}
}

func (p *googleProvider) Login(ctx context.Context, cb *Callbacks) (*config.Credential, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	conf := p.oauthConfig()
	verifier := oauth2.GenerateVerifier()

	state, err := NewState()
	if err != nil {
		return nil, err
	}
	authURL := conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.S256ChallengeOption(verifier),
	)

	code, err := waitForCallback(ctx, cb, authURL, state)
	if err != nil {
		return nil, err
	}

	token, err := conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	cred := &config.Credential{
		Type:    config.CredentialOAuth,
		Access:  token.AccessToken,
		Refresh: token.RefreshToken,
		Expires: token.Expiry.UnixMilli() - expiryMarginMs,
		Email:   p.fetchEmail(ctx, token.AccessToken),
	}

	cb.progress("Discovering Cloud Code Assist project...")
	projectID, err := p.discoverProject(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}
	cred.ProjectID = projectID
	cb.progress(fmt.Sprintf("Using project %s", projectID))
	return cred, nil
}

func (p *googleProvider) Refresh(ctx context.Context, cred config.Credential) (config.Credential, error) {
	if cred.Refresh == "" {
		return config.Credential{}, fmt.Errorf("credential has no refresh token")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	conf := p.oauthConfig()

	source := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.Refresh})
	token, err := source.Token()
	if err != nil {
		return config.Credential{}, fmt.Errorf("token refresh failed: %w", err)
	}

	next := cred
	next.Access = token.AccessToken
	next.Expires = token.Expiry.UnixMilli() - expiryMarginMs
	if token.RefreshToken != "" {
		next.Refresh = token.RefreshToken
	}
	return next, nil
}

func (p *googleProvider) fetchEmail(ctx context.Context, accessToken string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://www.googleapis.com/oauth2/v1/userinfo?alt=json", nil)
	if err != nil {
		return ""
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return ""
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, _ := io.ReadAll(resp.Body)
	return gjson.GetBytes(body, "email").String()
}

// discoverProject resolves the Cloud Code Assist companion project. An
// explicit GOOGLE_CLOUD_PROJECT wins; otherwise loadCodeAssist is asked and,
// when it knows no project, onboardUser is polled until one is provisioned.
func (p *googleProvider) discoverProject(ctx context.Context, accessToken string) (string, error) {
	envProject := os.Getenv("GOOGLE_CLOUD_PROJECT")

	loadReq := map[string]any{
		"metadata": clientMetadata(),
	}
	if envProject != "" {
		loadReq["cloudaicompanionProject"] = envProject
	}

	var loadResp map[string]any
	if err := p.codeAssistCall(ctx, accessToken, "loadCodeAssist", loadReq, &loadResp); err != nil {
		return "", fmt.Errorf("failed to load code assist: %w", err)
	}
	if project, ok := loadResp["cloudaicompanionProject"].(string); ok && project != "" {
		return project, nil
	}
	if envProject != "" {
		return envProject, nil
	}

	tierID := "free-tier"
	if tiers, ok := loadResp["allowedTiers"].([]any); ok {
		for _, t := range tiers {
			tier, tierOk := t.(map[string]any)
			if !tierOk {
				continue
			}
			if isDefault, _ := tier["isDefault"].(bool); isDefault {
				if id, idOk := tier["id"].(string); idOk {
					tierID = id
				}
				break
			}
		}
	}

	onboardReq := map[string]any{
		"tierId":   tierID,
		"metadata": clientMetadata(),
	}
	for {
		var lro map[string]any
		if err := p.codeAssistCall(ctx, accessToken, "onboardUser", onboardReq, &lro); err != nil {
			return "", fmt.Errorf("failed to onboard user: %w", err)
		}
		if done, _ := lro["done"].(bool); done {
			if response, ok := lro["response"].(map[string]any); ok {
				if project, projectOk := response["cloudaicompanionProject"].(map[string]any); projectOk {
					if id, idOk := project["id"].(string); idOk && id != "" {
						return id, nil
					}
				}
			}
			return "", errors.New("onboarding finished without a project id")
		}
		log.Debug("onboarding in progress, waiting 5 seconds")
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

func (p *googleProvider) codeAssistCall(ctx context.Context, accessToken, method string, body, result any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	url := fmt.Sprintf("%s/%s:%s", codeAssistEndpoint, codeAssistAPIVersion, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s failed with status %d: %s", method, resp.StatusCode, string(respBody))
	}
	return json.Unmarshal(respBody, result)
}

func clientMetadata() map[string]any {
	return map[string]any{
		"ideType":     "IDE_UNSPECIFIED",
		"platform":    "PLATFORM_UNSPECIFIED",
		"pluginType":  "GEMINI",
		"duetProject": "",
	}
}

// waitForCallback serves the local redirect endpoint until the authorization
// code arrives, surfacing the authorize URL through the callbacks.
func waitForCallback(ctx context.Context, cb *Callbacks, authURL, state string) (string, error) {
	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	server := &http.Server{Addr: "localhost:8085", Handler: mux}
	mux.HandleFunc("/oauth2callback", func(w http.ResponseWriter, r *http.Request) {
		if errMsg := r.URL.Query().Get("error"); errMsg != "" {
			_, _ = fmt.Fprintf(w, "Authentication failed: %s", errMsg)
			errChan <- fmt.Errorf("authentication failed via callback: %s", errMsg)
			return
		}
		if got := r.URL.Query().Get("state"); got != state {
			_, _ = fmt.Fprint(w, "Authentication failed: state mismatch.")
			errChan <- errors.New("state mismatch in callback")
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			_, _ = fmt.Fprint(w, "Authentication failed: code not found.")
			errChan <- errors.New("code not found in callback")
			return
		}
		_, _ = fmt.Fprint(w, "<html><body><h1>Authentication successful!</h1><p>You can close this window.</p></body></html>")
		codeChan <- code
	})

	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	cb.authURL(authURL)

	select {
	case code := <-codeChan:
		return code, nil
	case err := <-errChan:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(5 * time.Minute):
		return "", errors.New("oauth flow timed out")
	}
}

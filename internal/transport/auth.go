package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/and161185/untis-auth/internal/errs"
	"github.com/and161185/untis-auth/internal/model"
)

const (
	tokenPath   = "/WebUntis/api/token/new"
	appDataPath = "/WebUntis/api/rest/view/v1/app/data"
)

type authenticateResult struct {
	SessionID  string `json:"sessionId"`
	PersonID   int64  `json:"personId"`
	PersonType int    `json:"personType"`
}

// AuthenticateWithCredentials runs a username/password login.
func (c *Client) AuthenticateWithCredentials(ctx context.Context, cr model.Credentials) (model.CredentialLogin, error) {
	target := c.endpoint(cr.Server, rpcPath, url.Values{"school": {cr.School}})
	res, err := c.invoke(ctx, target, methodAuthenticate, map[string]string{
		"user":     cr.Username,
		"password": cr.Password,
		"client":   "App",
	}, "")
	if err != nil {
		return model.CredentialLogin{}, fmt.Errorf("%w: %w", errs.ErrCredentialAuthFailed, err)
	}
	if len(res.result) == 0 || string(res.result) == "null" {
		return model.CredentialLogin{}, fmt.Errorf("%w: %s: missing result", errs.ErrCredentialAuthFailed, methodAuthenticate)
	}

	var ar authenticateResult
	if err := json.Unmarshal(res.result, &ar); err != nil {
		return model.CredentialLogin{}, fmt.Errorf("%w: %s: parse result: %w", errs.ErrCredentialAuthFailed, methodAuthenticate, err)
	}

	cookies := c.jar.RecordHeader(res.cookies, cr.Server)
	if cookies == "" && ar.SessionID != "" {
		cookies = "JSESSIONID=" + ar.SessionID + "; " + SchoolCookie(cr.School)
	}

	return model.CredentialLogin{
		Cookies:   cookies,
		SessionID: ar.SessionID,
		PersonID:  ar.PersonID,
		School:    cr.School,
		Server:    cr.Server,
	}, nil
}

// GetBearerToken exchanges session cookies for a bearer token. The backend answers an
// expired session with a 200 login page, so the body shape is the only reliable signal.
func (c *Client) GetBearerToken(ctx context.Context, server, cookies string) (string, error) {
	resp, err := c.do(ctx, c.protocolTimeout, http.MethodGet, c.endpoint(server, tokenPath, nil),
		map[string]string{"Cookie": cookies, "Accept": "text/plain"}, nil)
	if err != nil {
		return "", fmt.Errorf("bearer token: %w", err)
	}
	if resp.status != http.StatusOK {
		return "", statusError("bearer token", resp)
	}

	token := strings.TrimSpace(string(resp.body))
	if !looksLikeToken(token) {
		return "", fmt.Errorf("bearer token: %w", errs.ErrSessionExpired)
	}
	return token, nil
}

func looksLikeToken(body string) bool {
	if body == "" {
		return false
	}
	if strings.HasPrefix(body, "<") || strings.HasPrefix(body, "{") {
		return false
	}
	return !strings.Contains(strings.ToUpper(body), "DOCTYPE")
}

// AppData fetches the raw account metadata payload.
func (c *Client) AppData(ctx context.Context, server, cookies, token string) (json.RawMessage, error) {
	headers := map[string]string{
		"Accept": "application/json",
		"Cookie": cookies,
	}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	resp, err := c.do(ctx, c.metadataTimeout, http.MethodGet, c.endpoint(server, appDataPath, nil), headers, nil)
	if err != nil {
		return nil, fmt.Errorf("app data: %w", err)
	}
	if resp.status != http.StatusOK {
		return nil, statusError("app data", resp)
	}
	if !json.Valid(resp.body) {
		return nil, fmt.Errorf("app data: invalid json payload")
	}
	return json.RawMessage(resp.body), nil
}

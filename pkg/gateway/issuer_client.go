package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	loginPath   = "/api/v1/auth/login"
	refreshPath = "/api/v1/auth/refresh"
	logoutPath  = "/api/v1/auth/logout"

	maxErrorBody = 4 << 10
)

// Credential is a freshly issued access token and its paired refresh secret.
type Credential struct {
	AccessToken     string
	RefreshSecret   string
	AccessExpiresAt time.Time
}

func (c Credential) session() ClientSession {
	return ClientSession{
		AccessToken:     c.AccessToken,
		RefreshSecret:   c.RefreshSecret,
		AccessExpiresAt: c.AccessExpiresAt,
		Authenticated:   true,
	}
}

// Issuer is the remote credential issuer used by the Gateway.
type Issuer interface {
	Login(ctx context.Context, identifier, secret string) (Credential, error)
	Refresh(ctx context.Context, refreshSecret string) (Credential, error)
	Logout(ctx context.Context, refreshSecret string) error
}

// IssuerClient talks to the auth endpoints of the inventory auth API.
type IssuerClient struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// NewIssuerClient builds a client for baseURL. A nil httpClient uses http.DefaultClient.
func NewIssuerClient(baseURL string, httpClient *http.Client) *IssuerClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &IssuerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
		now:     time.Now,
	}
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *IssuerClient) Login(ctx context.Context, identifier, secret string) (Credential, error) {
	resp, err := c.post(ctx, loginPath, loginRequest{Identifier: identifier, Secret: secret})
	if err != nil {
		return Credential{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return c.decodeCredential(resp.Body)
	case http.StatusUnauthorized:
		return Credential{}, ErrInvalidCredentials
	case http.StatusForbidden:
		return Credential{}, ErrAccountNotActive
	default:
		return Credential{}, statusError(resp)
	}
}

func (c *IssuerClient) Refresh(ctx context.Context, refreshSecret string) (Credential, error) {
	resp, err := c.post(ctx, refreshPath, refreshRequest{RefreshToken: refreshSecret})
	if err != nil {
		return Credential{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return c.decodeCredential(resp.Body)
	case http.StatusUnauthorized:
		return Credential{}, ErrInvalidRefreshCredential
	default:
		return Credential{}, statusError(resp)
	}
}

// Logout revokes the refresh secret. The server treats unknown and revoked secrets as success.
func (c *IssuerClient) Logout(ctx context.Context, refreshSecret string) error {
	resp, err := c.post(ctx, logoutPath, refreshRequest{RefreshToken: refreshSecret})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *IssuerClient) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	return resp, nil
}

func (c *IssuerClient) decodeCredential(body io.Reader) (Credential, error) {
	var payload tokenResponse
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return Credential{}, fmt.Errorf("%w: decode token response: %w", ErrNetworkFailure, err)
	}
	if payload.AccessToken == "" || payload.RefreshToken == "" {
		return Credential{}, fmt.Errorf("%w: token response is missing credentials", ErrNetworkFailure)
	}

	cred := Credential{AccessToken: payload.AccessToken, RefreshSecret: payload.RefreshToken}
	if payload.ExpiresIn > 0 {
		cred.AccessExpiresAt = c.now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	return cred, nil
}

func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return err
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %w: %w", ErrNetworkFailure, ErrIssuerUnreachable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrNetworkFailure, err)
}

func statusError(resp *http.Response) error {
	var payload errorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if len(data) > 0 {
		_ = json.Unmarshal(data, &payload)
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: payload.Error}
}

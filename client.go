// Package keyward is a Go client for the keyward HTTP API. It signs
// challenges with the wallet's Ed25519 key the same way the web client does.
package keyward

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/internal/canonical"
	"github.com/layer-3/keyward/internal/wallet"
)

// Session is the bearer session held by a Client
type Session struct {
	Token     string
	Wallet    string
	ExpiresAt time.Time
}

// Grant is an access grant as the API reports it
type Grant struct {
	ID           string     `json:"id"`
	ArticleID    string     `json:"articleId"`
	OwnerWallet  string     `json:"ownerWallet"`
	ViewerWallet string     `json:"viewerWallet"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	ExpiresAt    *time.Time `json:"expiresAt"`
	RevokedAt    *time.Time `json:"revokedAt"`
	Active       bool       `json:"active"`
}

// Client talks to one keyward server on behalf of one wallet
type Client struct {
	baseURL    string
	httpClient *http.Client
	key        ed25519.PrivateKey
	wallet     string

	mu      sync.RWMutex
	session *Session
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient replaces http.DefaultClient
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a new client for the server at baseURL
func NewClient(baseURL string, key ed25519.PrivateKey, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		key:        key,
		wallet:     wallet.Encode(key.Public().(ed25519.PublicKey)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Wallet returns the client's wallet address
func (c *Client) Wallet() string {
	return c.wallet
}

// Session returns the current session, or nil before Login
func (c *Client) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// Login runs the challenge handshake and keeps the issued session
func (c *Client) Login(ctx context.Context) (*Session, error) {
	var ch challengeResponse
	if err := c.call(ctx, http.MethodPost, "/api/auth/challenge", false, map[string]string{"wallet": c.wallet}, &ch); err != nil {
		return nil, err
	}

	signature, err := c.sign(core.AuthProof(c.wallet, ch.Nonce))
	if err != nil {
		return nil, err
	}

	var resp struct {
		Token     string `json:"token"`
		Wallet    string `json:"wallet"`
		ExpiresAt int64  `json:"expiresAt"`
	}
	req := map[string]string{"wallet": c.wallet, "nonce": ch.Nonce, "signature": signature}
	if err := c.call(ctx, http.MethodPost, "/api/auth/verify", false, req, &resp); err != nil {
		return nil, err
	}

	session := &Session{
		Token:     resp.Token,
		Wallet:    resp.Wallet,
		ExpiresAt: time.UnixMilli(resp.ExpiresAt),
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	return session, nil
}

// Logout ends the current session on the server and forgets it
func (c *Client) Logout(ctx context.Context) error {
	if err := c.call(ctx, http.MethodPost, "/api/auth/logout", true, nil, nil); err != nil {
		return err
	}

	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()

	return nil
}

// RegisterResource registers an article owned by the client's wallet. For
// private articles the server returns the generated content key, which is
// only ever sent this once.
func (c *Client) RegisterResource(ctx context.Context, resourceID string, public bool) ([]byte, error) {
	var resp struct {
		ContentKey string `json:"contentKey"`
	}
	req := map[string]any{"resourceId": resourceID, "isPublic": public}
	if err := c.call(ctx, http.MethodPost, "/api/resources", true, req, &resp); err != nil {
		return nil, err
	}
	if resp.ContentKey == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(resp.ContentKey)
}

// Grant gives viewer access to resourceID for duration ("24h", "7d", "30d"
// or "unlimited")
func (c *Client) Grant(ctx context.Context, resourceID, viewer, duration string) (*Grant, error) {
	var grant Grant
	req := map[string]string{"articleId": resourceID, "viewerWallet": viewer, "expiresIn": duration}
	if err := c.call(ctx, http.MethodPost, "/api/access-control/grants", true, req, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

// Revoke takes viewer's access to resourceID away
func (c *Client) Revoke(ctx context.Context, resourceID, viewer string) (*Grant, error) {
	var grant Grant
	req := map[string]string{"articleId": resourceID, "viewerWallet": viewer}
	if err := c.call(ctx, http.MethodPost, "/api/access-control/grants/revoke", true, req, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

// ClaimKey runs the key release handshake and returns the article's content key
func (c *Client) ClaimKey(ctx context.Context, resourceID string) ([]byte, error) {
	var ch challengeResponse
	if err := c.call(ctx, http.MethodPost, "/api/access-control/key/challenge", true, map[string]string{"articleId": resourceID}, &ch); err != nil {
		return nil, err
	}

	signature, err := c.sign(core.AccessKeyProof(c.wallet, resourceID, ch.Nonce))
	if err != nil {
		return nil, err
	}

	var resp struct {
		Key string `json:"key"`
	}
	req := map[string]string{"articleId": resourceID, "nonce": ch.Nonce, "signature": signature}
	if err := c.call(ctx, http.MethodPost, "/api/access-control/key/claim", true, req, &resp); err != nil {
		return nil, err
	}

	key, err := base64.StdEncoding.DecodeString(resp.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to decode content key: %w", ErrUnexpectedResponse)
	}
	return key, nil
}

type challengeResponse struct {
	Nonce     string `json:"nonce"`
	ExpiresAt int64  `json:"expiresAt"`
}

func (c *Client) sign(proof map[string]any) (string, error) {
	msg, err := canonical.Marshal(proof)
	if err != nil {
		return "", fmt.Errorf("failed to encode proof: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(c.key, msg)), nil
}

// call sends body as JSON and decodes the data field of a success envelope into out
func (c *Client) call(ctx context.Context, method, path string, authenticated bool, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if authenticated {
		session := c.Session()
		if session == nil {
			return ErrNotLoggedIn
		}
		req.Header.Set("Authorization", "Bearer "+session.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", path, err)
	}
	defer resp.Body.Close()

	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s returned %d: %w", path, resp.StatusCode, ErrUnexpectedResponse)
	}

	if !env.Success {
		return &APIError{Status: resp.StatusCode, Message: env.Error}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", path, err)
		}
	}

	return nil
}

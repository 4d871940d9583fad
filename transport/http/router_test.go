package http

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/keyward/adapters/custodian"
	"github.com/layer-3/keyward/adapters/store"
	"github.com/layer-3/keyward/adapters/tokenizer"
	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/internal/canonical"
	"github.com/layer-3/keyward/internal/ratelimit"
	"github.com/layer-3/keyward/internal/wallet"
	"github.com/layer-3/keyward/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
	clock  *testClock
}

type serverOption func(*RouterOptions)

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	db, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c, err := custodian.New("http-test-secret")
	require.NoError(t, err)

	challenges := store.NewMemoryChallengeStore(core.ChallengeTTL, clock.Now)
	tk := tokenizer.NewJWTTokenizer([]byte("http-test-jwt"), clock.Now)
	svcOpts := []service.Option{service.WithClock(clock.Now)}

	svc := Services{
		Auth:      service.NewAuthService(challenges, tk, store.NewMemoryStore(clock.Now), svcOpts...),
		Grants:    service.NewGrantService(db, db, svcOpts...),
		Resources: service.NewResourceService(db, db, c, svcOpts...),
		Keys:      service.NewKeyService(challenges, db, db, c, svcOpts...),
	}

	routerOpts := RouterOptions{
		Metrics: NewMetrics(),
		Health:  map[string]HealthCheck{"sqlite": db.Ping},
		Now:     clock.Now,
	}
	for _, opt := range opts {
		opt(&routerOpts)
	}

	return &testServer{t: t, router: SetupRouter(svc, routerOpts), clock: clock}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (s *testServer) do(method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

type testWallet struct {
	Address string
	priv    ed25519.PrivateKey
}

func newTestWallet(t *testing.T) testWallet {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return testWallet{Address: wallet.Encode(pub), priv: priv}
}

func (w testWallet) sign(t *testing.T, payload any) string {
	t.Helper()
	msg, err := canonical.Marshal(payload)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(ed25519.Sign(w.priv, msg))
}

type challengeData struct {
	Nonce     string `json:"nonce"`
	ExpiresAt int64  `json:"expiresAt"`
}

// login runs the challenge/verify handshake and returns a session token
func (s *testServer) login(w testWallet) string {
	s.t.Helper()

	resp, env := s.do(http.MethodPost, "/api/auth/challenge", "", gin.H{"wallet": w.Address})
	require.Equal(s.t, http.StatusOK, resp.Code, env.Error)
	ch := decode[challengeData](s.t, env.Data)

	resp, env = s.do(http.MethodPost, "/api/auth/verify", "", gin.H{
		"wallet":    w.Address,
		"nonce":     ch.Nonce,
		"signature": w.sign(s.t, core.AuthProof(w.Address, ch.Nonce)),
	})
	require.Equal(s.t, http.StatusOK, resp.Code, env.Error)

	data := decode[struct {
		Token     string `json:"token"`
		Wallet    string `json:"wallet"`
		ExpiresIn string `json:"expiresIn"`
	}](s.t, env.Data)
	require.Equal(s.t, w.Address, data.Wallet)
	require.Equal(s.t, "2h", data.ExpiresIn)
	return data.Token
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	resp, env := s.do(http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, env.Success)
	assert.Equal(t, "ok", decode[map[string]string](t, env.Data)["status"])
}

func TestHealthReportsFailedDependency(t *testing.T) {
	s := newTestServer(t, func(o *RouterOptions) {
		o.Health = map[string]HealthCheck{"redis": func(context.Context) error { return errors.New("down") }}
	})

	resp, env := s.do(http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "redis unavailable", env.Error)
}

func TestLoginFlow(t *testing.T) {
	s := newTestServer(t)
	w := newTestWallet(t)

	token := s.login(w)

	resp, env := s.do(http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, w.Address, decode[map[string]any](t, env.Data)["wallet"])
}

func TestChallengeRejectsBadWallet(t *testing.T) {
	s := newTestServer(t)

	resp, env := s.do(http.MethodPost, "/api/auth/challenge", "", gin.H{"wallet": "not-a-wallet"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.False(t, env.Success)

	resp, env = s.do(http.MethodPost, "/api/auth/challenge", "", gin.H{})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, msgInvalidRequest, env.Error)
}

func TestVerifyErrors(t *testing.T) {
	s := newTestServer(t)
	w, other := newTestWallet(t), newTestWallet(t)

	// No challenge issued
	resp, _ := s.do(http.MethodPost, "/api/auth/verify", "", gin.H{
		"wallet": w.Address, "nonce": "00", "signature": "AA==",
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp, env := s.do(http.MethodPost, "/api/auth/challenge", "", gin.H{"wallet": w.Address})
	require.Equal(t, http.StatusOK, resp.Code)
	ch := decode[challengeData](t, env.Data)
	assert.Equal(t, s.clock.Now().Add(5*time.Minute).UnixMilli(), ch.ExpiresAt)

	resp, env = s.do(http.MethodPost, "/api/auth/verify", "", gin.H{
		"wallet":    w.Address,
		"nonce":     ch.Nonce,
		"signature": other.sign(t, core.AuthProof(w.Address, ch.Nonce)),
	})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, core.ErrInvalidSignature.Error(), env.Error)
}

func TestVerifyExpiredChallenge(t *testing.T) {
	s := newTestServer(t)
	w := newTestWallet(t)

	_, env := s.do(http.MethodPost, "/api/auth/challenge", "", gin.H{"wallet": w.Address})
	ch := decode[challengeData](t, env.Data)

	s.clock.Advance(6 * time.Minute)

	resp, env := s.do(http.MethodPost, "/api/auth/verify", "", gin.H{
		"wallet":    w.Address,
		"nonce":     ch.Nonce,
		"signature": w.sign(t, core.AuthProof(w.Address, ch.Nonce)),
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, core.ErrChallengeExpired.Error(), env.Error)
}

func TestBearerMiddleware(t *testing.T) {
	s := newTestServer(t)
	w := newTestWallet(t)
	token := s.login(w)

	resp, env := s.do(http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, msgBearer, env.Error)

	resp, env = s.do(http.MethodGet, "/api/auth/me", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, msgBearer, env.Error)

	// Scheme is case-insensitive
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "bearer "+token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	s.clock.Advance(2*time.Hour + time.Second)
	resp, env = s.do(http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, msgSessionExpired, env.Error)
}

func TestLogout(t *testing.T) {
	s := newTestServer(t)
	token := s.login(newTestWallet(t))

	resp, _ := s.do(http.MethodPost, "/api/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	resp, env := s.do(http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, msgBearer, env.Error)
}

type grantData struct {
	ID           string     `json:"id"`
	ArticleID    string     `json:"articleId"`
	ViewerWallet string     `json:"viewerWallet"`
	ExpiresAt    *time.Time `json:"expiresAt"`
	RevokedAt    *time.Time `json:"revokedAt"`
	Active       bool       `json:"active"`
}

func TestOwnerViewerKeyRelease(t *testing.T) {
	s := newTestServer(t)
	owner, viewer := newTestWallet(t), newTestWallet(t)
	ownerToken, viewerToken := s.login(owner), s.login(viewer)

	// Owner registers a private article
	resp, env := s.do(http.MethodPost, "/api/resources", ownerToken, gin.H{"resourceId": "article-1"})
	require.Equal(t, http.StatusCreated, resp.Code, env.Error)
	registered := decode[struct {
		ID         string `json:"id"`
		ContentKey string `json:"contentKey"`
	}](t, env.Data)
	require.NotEmpty(t, registered.ContentKey)

	// Viewer cannot read or request a key yet
	resp, _ = s.do(http.MethodGet, "/api/resources/article-1", viewerToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)
	resp, _ = s.do(http.MethodPost, "/api/access-control/key/challenge", viewerToken, gin.H{"articleId": "article-1"})
	assert.Equal(t, http.StatusForbidden, resp.Code)

	// Only the owner can grant
	resp, _ = s.do(http.MethodPost, "/api/access-control/grants", viewerToken, gin.H{
		"articleId": "article-1", "viewerWallet": viewer.Address, "expiresIn": "7d",
	})
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp, env = s.do(http.MethodPost, "/api/access-control/grants", ownerToken, gin.H{
		"articleId": "article-1", "viewerWallet": viewer.Address, "expiresIn": "7d",
	})
	require.Equal(t, http.StatusOK, resp.Code, env.Error)
	grant := decode[grantData](t, env.Data)
	assert.True(t, grant.Active)
	assert.NotNil(t, grant.ExpiresAt)

	resp, env = s.do(http.MethodGet, "/api/access-control/grants?articleId=article-1", ownerToken, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	list := decode[struct {
		Items []grantData `json:"items"`
	}](t, env.Data)
	require.Len(t, list.Items, 1)
	assert.Equal(t, viewer.Address, list.Items[0].ViewerWallet)

	resp, _ = s.do(http.MethodGet, "/api/resources/article-1", viewerToken, nil)
	assert.Equal(t, http.StatusOK, resp.Code)

	// Key release
	resp, env = s.do(http.MethodPost, "/api/access-control/key/challenge", viewerToken, gin.H{"articleId": "article-1"})
	require.Equal(t, http.StatusOK, resp.Code, env.Error)
	ch := decode[challengeData](t, env.Data)

	resp, env = s.do(http.MethodPost, "/api/access-control/key/claim", viewerToken, gin.H{
		"articleId": "article-1",
		"nonce":     ch.Nonce,
		"signature": viewer.sign(t, core.AccessKeyProof(viewer.Address, "article-1", ch.Nonce)),
	})
	require.Equal(t, http.StatusOK, resp.Code, env.Error)
	assert.Equal(t, "no-store", resp.Header().Get("Cache-Control"))
	claimed := decode[map[string]string](t, env.Data)
	assert.Equal(t, registered.ContentKey, claimed["key"])

	// Revocation closes both doors
	resp, env = s.do(http.MethodPost, "/api/access-control/grants/revoke", ownerToken, gin.H{
		"articleId": "article-1", "viewerWallet": viewer.Address,
	})
	require.Equal(t, http.StatusOK, resp.Code, env.Error)
	revoked := decode[grantData](t, env.Data)
	assert.False(t, revoked.Active)
	assert.NotNil(t, revoked.RevokedAt)

	resp, _ = s.do(http.MethodPost, "/api/access-control/key/challenge", viewerToken, gin.H{"articleId": "article-1"})
	assert.Equal(t, http.StatusForbidden, resp.Code)
	resp, _ = s.do(http.MethodGet, "/api/resources/article-1", viewerToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestGrantValidationStatuses(t *testing.T) {
	s := newTestServer(t)
	owner, viewer := newTestWallet(t), newTestWallet(t)
	ownerToken := s.login(owner)

	resp, _ := s.do(http.MethodPost, "/api/resources", ownerToken, gin.H{"resourceId": "article-1"})
	require.Equal(t, http.StatusCreated, resp.Code)

	resp, _ = s.do(http.MethodPost, "/api/access-control/grants", ownerToken, gin.H{
		"articleId": "article-1", "viewerWallet": viewer.Address, "expiresIn": "forever",
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp, _ = s.do(http.MethodPost, "/api/access-control/grants", ownerToken, gin.H{
		"articleId": "missing", "viewerWallet": viewer.Address, "expiresIn": "24h",
	})
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp, _ = s.do(http.MethodPost, "/api/access-control/grants/revoke", ownerToken, gin.H{
		"articleId": "article-1", "viewerWallet": viewer.Address,
	})
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp, _ = s.do(http.MethodGet, "/api/access-control/grants?limit=abc", ownerToken, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestRegisterResourceStatuses(t *testing.T) {
	s := newTestServer(t)
	ownerToken := s.login(newTestWallet(t))

	resp, env := s.do(http.MethodPost, "/api/resources", ownerToken, gin.H{"resourceId": "open-1", "isPublic": true})
	require.Equal(t, http.StatusCreated, resp.Code, env.Error)
	assert.Empty(t, decode[map[string]any](t, env.Data)["contentKey"])

	resp, _ = s.do(http.MethodPost, "/api/resources", ownerToken, gin.H{"resourceId": "open-1", "isPublic": true})
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp, _ = s.do(http.MethodPost, "/api/resources", ownerToken, gin.H{"resourceId": "bad-key", "contentKey": "!!"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	shortKey := base64.StdEncoding.EncodeToString(make([]byte, 16))
	resp, _ = s.do(http.MethodPost, "/api/resources", ownerToken, gin.H{"resourceId": "short-key", "contentKey": shortKey})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp, env = s.do(http.MethodGet, "/api/resources", ownerToken, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	list := decode[struct {
		Items []map[string]any `json:"items"`
	}](t, env.Data)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "open-1", list.Items[0]["id"])
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(o *RouterOptions) {
		o.Limiter = ratelimit.New(1, 2, time.Minute)
	})
	w := newTestWallet(t)

	for i := 0; i < 2; i++ {
		resp, _ := s.do(http.MethodPost, "/api/auth/challenge", "", gin.H{"wallet": w.Address})
		require.Equal(t, http.StatusOK, resp.Code)
	}

	resp, env := s.do(http.MethodPost, "/api/auth/challenge", "", gin.H{"wallet": w.Address})
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Equal(t, msgRateLimited, env.Error)
	assert.Equal(t, "1", resp.Header().Get("Retry-After"))

	s.clock.Advance(time.Second)
	resp, _ = s.do(http.MethodPost, "/api/auth/challenge", "", gin.H{"wallet": w.Address})
	assert.Equal(t, http.StatusOK, resp.Code)
}

// challengeVia posts a challenge request as if relayed with the given
// X-Forwarded-For header. httptest peers come from 192.0.2.1.
func (s *testServer) challengeVia(wallet, forwardedFor string) int {
	s.t.Helper()

	raw, err := json.Marshal(gin.H{"wallet": wallet})
	require.NoError(s.t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/challenge", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", forwardedFor)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	s := newTestServer(t, func(o *RouterOptions) {
		o.Limiter = ratelimit.New(1, 2, time.Minute)
	})
	w := newTestWallet(t)

	allowed := 0
	for i := 0; i < 20; i++ {
		code := s.challengeVia(w.Address, fmt.Sprintf("10.0.0.%d", i))
		if code == http.StatusOK {
			allowed++
		} else {
			assert.Equal(t, http.StatusTooManyRequests, code)
		}
	}
	assert.Equal(t, 2, allowed)
}

func TestRateLimitTrustedProxyForwardsClient(t *testing.T) {
	s := newTestServer(t, func(o *RouterOptions) {
		o.Limiter = ratelimit.New(1, 2, time.Minute)
		o.TrustedProxies = []string{"192.0.2.0/24"}
	})
	w := newTestWallet(t)

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, s.challengeVia(w.Address, fmt.Sprintf("10.0.0.%d", i)))
	}

	assert.Equal(t, http.StatusOK, s.challengeVia(w.Address, "203.0.113.9"))
	assert.Equal(t, http.StatusOK, s.challengeVia(w.Address, "203.0.113.9"))
	assert.Equal(t, http.StatusTooManyRequests, s.challengeVia(w.Address, "203.0.113.9"))
}

func TestSetupRouterRejectsInvalidTrustedProxies(t *testing.T) {
	s := newTestServer(t, func(o *RouterOptions) {
		o.Limiter = ratelimit.New(1, 1, time.Minute)
		o.TrustedProxies = []string{"not-a-proxy"}
	})
	w := newTestWallet(t)

	assert.Equal(t, http.StatusOK, s.challengeVia(w.Address, "10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, s.challengeVia(w.Address, "10.0.0.2"))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodGet, "/api/health", "", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `keyward_http_requests_total{method="GET",route="/api/health",status="200"} 1`)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		core.ErrInvalidInput:         http.StatusBadRequest,
		core.ErrNoActiveChallenge:    http.StatusBadRequest,
		core.ErrInvalidNonce:         http.StatusBadRequest,
		core.ErrInvalidSignature:     http.StatusUnauthorized,
		core.ErrTokenInvalidated:     http.StatusUnauthorized,
		core.ErrUnauthorized:         http.StatusForbidden,
		core.ErrAccessDenied:         http.StatusForbidden,
		core.ErrNotFound:             http.StatusNotFound,
		core.ErrAlreadyExists:        http.StatusConflict,
		core.ErrInvalidPayload:       http.StatusInternalServerError,
		core.ErrInvalidKeyLength:     http.StatusInternalServerError,
		core.ErrMisconfigured:        http.StatusInternalServerError,
		core.ErrStoreOperationFailed: http.StatusInternalServerError,
	}
	for err, status := range cases {
		assert.Equal(t, status, statusFor(err), err.Error())
	}
}

func TestBearerToken(t *testing.T) {
	token, ok := bearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", token)

	token, ok = bearerToken("BEARER  abc ")
	assert.True(t, ok)
	assert.Equal(t, "abc", token)

	for _, header := range []string{"", "Bearer", "Bearer ", "Basic abc", "abc"} {
		_, ok := bearerToken(header)
		assert.False(t, ok, "header %q", header)
	}
}

func TestFormatTTL(t *testing.T) {
	assert.Equal(t, "2h", formatTTL(2*time.Hour))
	assert.Equal(t, "30m0s", formatTTL(30*time.Minute))
}

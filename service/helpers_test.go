package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/layer-3/keyward/adapters/custodian"
	"github.com/layer-3/keyward/adapters/store"
	"github.com/layer-3/keyward/adapters/tokenizer"
	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/internal/canonical"
	"github.com/layer-3/keyward/internal/wallet"
	"github.com/layer-3/keyward/ports"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
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

// sign canonicalizes payload and returns a base64 signature the way the web
// client does
func (w testWallet) sign(t *testing.T, payload any) string {
	t.Helper()
	msg, err := canonical.Marshal(payload)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(ed25519.Sign(w.priv, msg))
}

func (w testWallet) signAuth(t *testing.T, nonce string) string {
	return w.sign(t, core.AuthProof(w.Address, nonce))
}

func (w testWallet) signAccessKey(t *testing.T, resourceID, nonce string) string {
	return w.sign(t, core.AccessKeyProof(w.Address, resourceID, nonce))
}

type recordedEvent struct {
	Kind       string
	Action     string
	ResourceID string
	Wallet     string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (p *recordingPublisher) record(e recordedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) PublishLogout(_ context.Context, wallet, _ string) error {
	return p.record(recordedEvent{Kind: "logout", Wallet: wallet})
}

func (p *recordingPublisher) PublishGrantChanged(_ context.Context, action string, grant *core.AccessGrant) error {
	return p.record(recordedEvent{Kind: "grant", Action: action, ResourceID: grant.ResourceID, Wallet: grant.ViewerWallet})
}

func (p *recordingPublisher) PublishKeyReleased(_ context.Context, resourceID, wallet string) error {
	return p.record(recordedEvent{Kind: "key", ResourceID: resourceID, Wallet: wallet})
}

func (p *recordingPublisher) Events() []recordedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]recordedEvent(nil), p.events...)
}

type testEnv struct {
	clock     *fakeClock
	events    *recordingPublisher
	db        *store.SQLiteStore
	custodian *custodian.AESGCMCustodian

	challenges ports.ChallengeStore

	auth      *AuthService
	grants    *GrantService
	resources *ResourceService
	keys      *KeyService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	events := &recordingPublisher{}

	db, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c, err := custodian.New("test-article-key-secret")
	require.NoError(t, err)

	challenges := store.NewMemoryChallengeStore(core.ChallengeTTL, clock.Now)
	tk := tokenizer.NewJWTTokenizer([]byte("test-jwt-secret"), clock.Now)
	revocations := store.NewMemoryStore(clock.Now)

	opts := []Option{WithClock(clock.Now), WithEventPublisher(events)}

	return &testEnv{
		clock:      clock,
		events:     events,
		db:         db,
		custodian:  c,
		challenges: challenges,
		auth:       NewAuthService(challenges, tk, revocations, opts...),
		grants:     NewGrantService(db, db, opts...),
		resources:  NewResourceService(db, db, c, opts...),
		keys:       NewKeyService(challenges, db, db, c, opts...),
	}
}

// registerPrivate registers a private resource and returns its content key
func (e *testEnv) registerPrivate(t *testing.T, owner testWallet, resourceID string) []byte {
	t.Helper()
	_, key, err := e.resources.Register(context.Background(), owner.Address, resourceID, false, nil)
	require.NoError(t, err)
	require.Len(t, key, core.ContentKeySize)
	return key
}

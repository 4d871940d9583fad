package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/ports"
)

const DefaultTopicPrefix = "keyward"

// LogoutEvent represents a logout event
type LogoutEvent struct {
	Wallet    string    `json:"wallet"`
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`
}

// GrantEvent reports a grant upsert or revocation
type GrantEvent struct {
	Action       string     `json:"action"`
	GrantID      string     `json:"grant_id"`
	ResourceID   string     `json:"resource_id"`
	OwnerWallet  string     `json:"owner_wallet"`
	ViewerWallet string     `json:"viewer_wallet"`
	ExpiresAt    *time.Time `json:"expires_at"`
	RevokedAt    *time.Time `json:"revoked_at"`
	At           time.Time  `json:"at"`
}

// KeyReleasedEvent records that a content key left custody. It never
// carries the key.
type KeyReleasedEvent struct {
	ResourceID string    `json:"resource_id"`
	Wallet     string    `json:"wallet"`
	At         time.Time `json:"at"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	prefix    string
	now       func() time.Time
}

// NewWatermillPublisher creates a new Watermill publisher. Topics are
// "<prefix>.logout", "<prefix>.grant.<action>" and "<prefix>.key.released".
func NewWatermillPublisher(publisher message.Publisher, prefix string) ports.EventPublisher {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &WatermillPublisher{
		publisher: publisher,
		prefix:    prefix,
		now:       time.Now,
	}
}

// LogoutTopic returns the topic logout events go to
func LogoutTopic(prefix string) string { return prefix + ".logout" }

// GrantTopic returns the topic for a grant action
func GrantTopic(prefix, action string) string { return prefix + ".grant." + action }

// KeyReleasedTopic returns the topic key release events go to
func KeyReleasedTopic(prefix string) string { return prefix + ".key.released" }

// PublishLogout publishes a logout event
func (p *WatermillPublisher) PublishLogout(ctx context.Context, wallet string, sessionID string) error {
	event := LogoutEvent{
		Wallet:    wallet,
		SessionID: sessionID,
		At:        p.now().UTC(),
	}
	return p.publish(ctx, LogoutTopic(p.prefix), sessionID, event)
}

// PublishGrantChanged publishes a grant upsert or revocation
func (p *WatermillPublisher) PublishGrantChanged(ctx context.Context, action string, grant *core.AccessGrant) error {
	event := GrantEvent{
		Action:       action,
		GrantID:      grant.ID,
		ResourceID:   grant.ResourceID,
		OwnerWallet:  grant.OwnerWallet,
		ViewerWallet: grant.ViewerWallet,
		ExpiresAt:    grant.ExpiresAt,
		RevokedAt:    grant.RevokedAt,
		At:           p.now().UTC(),
	}
	return p.publish(ctx, GrantTopic(p.prefix, action), uuid.NewString(), event)
}

// PublishKeyReleased publishes a key release audit record
func (p *WatermillPublisher) PublishKeyReleased(ctx context.Context, resourceID string, wallet string) error {
	event := KeyReleasedEvent{
		ResourceID: resourceID,
		Wallet:     wallet,
		At:         p.now().UTC(),
	}
	return p.publish(ctx, KeyReleasedTopic(p.prefix), uuid.NewString(), event)
}

func (p *WatermillPublisher) publish(ctx context.Context, topic, id string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(id, payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

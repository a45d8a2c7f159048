package services

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// SentMessage is one message accepted by MemoryDelivery.
type SentMessage struct {
	MessageID string
	List      bool
	Request   SendRequest
}

// MemoryDelivery accepts every message and reports it QUEUED until a status
// is set. Dry-run messages are recorded with status SKIPPED.
type MemoryDelivery struct {
	mu       sync.Mutex
	sent     []SentMessage
	statuses map[string]string
}

// NewMemoryDelivery creates an empty MemoryDelivery.
func NewMemoryDelivery() *MemoryDelivery {
	return &MemoryDelivery{statuses: make(map[string]string)}
}

func (d *MemoryDelivery) Send(ctx context.Context, req SendRequest) (string, error) {
	return d.accept(req, false), nil
}

func (d *MemoryDelivery) SendList(ctx context.Context, req SendRequest) (string, error) {
	return d.accept(req, true), nil
}

func (d *MemoryDelivery) accept(req SendRequest, list bool) string {
	id := uuid.NewString()
	req.Payload = maps.Clone(req.Payload)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, SentMessage{MessageID: id, List: list, Request: req})
	if req.DryRunKey != "" {
		d.statuses[d.key(req.TenantID, id)] = "SKIPPED"
	} else {
		d.statuses[d.key(req.TenantID, id)] = "QUEUED"
	}
	return id
}

func (d *MemoryDelivery) Status(ctx context.Context, tenantID, messageID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.statuses[d.key(tenantID, messageID)]
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeNotFound, "message %q not found", messageID)
	}
	return s, nil
}

// SetStatus records a delivery status update for a message.
func (d *MemoryDelivery) SetStatus(tenantID, messageID, status string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses[d.key(tenantID, messageID)] = status
}

// Sent returns every accepted message in order.
func (d *MemoryDelivery) Sent() []SentMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]SentMessage, len(d.sent))
	copy(out, d.sent)
	return out
}

func (d *MemoryDelivery) key(tenantID, messageID string) string {
	return tenantID + "/" + messageID
}

// Subscription is one recorded list subscription.
type Subscription struct {
	TenantID    string
	ListID      string
	RecipientID string
	Preferences map[string]any
}

// MemoryLists records subscriptions in memory.
type MemoryLists struct {
	mu       sync.Mutex
	archived map[string]bool
	subs     []Subscription
}

// NewMemoryLists creates an empty MemoryLists.
func NewMemoryLists() *MemoryLists {
	return &MemoryLists{archived: make(map[string]bool)}
}

// Archive marks a list as archived; later subscriptions conflict.
func (l *MemoryLists) Archive(tenantID, listID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.archived[tenantID+"/"+listID] = true
}

func (l *MemoryLists) Subscribe(ctx context.Context, tenantID, listID, recipientID string, prefs map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.archived[tenantID+"/"+listID] {
		return schema.NewErrorf(schema.ErrCodeConflict, "list %q is archived", listID).
			WithDetails(map[string]any{"list_id": listID})
	}
	l.subs = append(l.subs, Subscription{
		TenantID:    tenantID,
		ListID:      listID,
		RecipientID: recipientID,
		Preferences: maps.Clone(prefs),
	})
	return nil
}

// Subscriptions returns every recorded subscription in order.
func (l *MemoryLists) Subscriptions() []Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Subscription, len(l.subs))
	copy(out, l.subs)
	return out
}

// MemoryProfiles keeps profiles in memory.
type MemoryProfiles struct {
	mu       sync.RWMutex
	profiles map[string]map[string]any
}

// NewMemoryProfiles creates an empty MemoryProfiles.
func NewMemoryProfiles() *MemoryProfiles {
	return &MemoryProfiles{profiles: make(map[string]map[string]any)}
}

func (p *MemoryProfiles) Get(ctx context.Context, tenantID, recipientID string) (map[string]any, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	prof, ok := p.profiles[tenantID+"/"+recipientID]
	if !ok {
		return nil, false, nil
	}
	return schema.CopyMap(prof), true, nil
}

func (p *MemoryProfiles) Put(ctx context.Context, tenantID, recipientID string, profile map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles[tenantID+"/"+recipientID] = schema.CopyMap(profile)
	return nil
}



var (
	_ Delivery = (*MemoryDelivery)(nil)
	_ Lists    = (*MemoryLists)(nil)
	_ Profiles = (*MemoryProfiles)(nil)
)

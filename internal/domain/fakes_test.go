package domain

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory implementation of the repository ports.
type memStore struct {
	mu      sync.Mutex
	drops   map[string]Drop
	shares  map[string]*Share
	users   map[string]User
	friends map[[2]string]bool

	touches         map[string]int
	createSharesErr []error
}

func newMemStore() *memStore {
	return &memStore{
		drops:   make(map[string]Drop),
		shares:  make(map[string]*Share),
		users:   make(map[string]User),
		friends: make(map[[2]string]bool),
		touches: make(map[string]int),
	}
}

func (m *memStore) befriend(a, b string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.friends[[2]string{a, b}] = true
}

func (m *memStore) CreateDropWithShares(_ context.Context, drop *Drop, recipientIDs []string) ([]Share, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drops[drop.ID] = *drop
	return m.createSharesLocked(drop.ID, recipientIDs, drop.CreatedAt), nil
}

func (m *memStore) createSharesLocked(dropID string, recipientIDs []string, at time.Time) []Share {
	created := []Share{}
	for _, r := range recipientIDs {
		exists := false
		for _, sh := range m.shares {
			if sh.DropID == dropID && sh.RecipientID == r {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		sh := &Share{ID: uuid.NewString(), DropID: dropID, RecipientID: r, Locked: true, CreatedAt: at}
		m.shares[sh.ID] = sh
		created = append(created, *sh)
	}
	return created
}

func (m *memStore) GetDrop(_ context.Context, id string) (*Drop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drops[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (m *memStore) DeleteDrop(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drops, id)
	for sid, sh := range m.shares {
		if sh.DropID == id {
			delete(m.shares, sid)
		}
	}
	return nil
}

func (m *memStore) ListDropsByOwner(_ context.Context, ownerID string) ([]Drop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Drop
	for _, d := range m.drops {
		if d.OwnerID == ownerID {
			out = append(out, d)
		}
	}
	sortDrops(out)
	return out, nil
}

func (m *memStore) ListDropsSharedWith(_ context.Context, recipientID string) ([]SharedDrop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SharedDrop
	for _, sh := range m.shares {
		if sh.RecipientID == recipientID {
			out = append(out, SharedDrop{Drop: m.drops[sh.DropID], Share: *sh})
		}
	}
	return out, nil
}

func (m *memStore) ListDropsVisibleTo(_ context.Context, userID string) ([]Drop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Drop
	for _, d := range m.drops {
		if d.OwnerID == userID {
			out = append(out, d)
			continue
		}
		for _, sh := range m.shares {
			if sh.DropID == d.ID && sh.RecipientID == userID {
				out = append(out, d)
				break
			}
		}
	}
	sortDrops(out)
	return out, nil
}

func (m *memStore) RecipientsForDrops(_ context.Context, dropIDs []string) (map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]string)
	for _, id := range dropIDs {
		for _, sh := range m.shares {
			if sh.DropID == id {
				out[id] = append(out[id], sh.RecipientID)
			}
		}
		sort.Strings(out[id])
	}
	return out, nil
}

func (m *memStore) CreateShares(_ context.Context, dropID string, recipientIDs []string) ([]Share, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.createSharesErr) > 0 {
		err := m.createSharesErr[0]
		m.createSharesErr = m.createSharesErr[1:]
		if err != nil {
			return nil, err
		}
	}
	return m.createSharesLocked(dropID, recipientIDs, time.Now().UTC()), nil
}

func (m *memStore) GetShare(_ context.Context, dropID, recipientID string) (*Share, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sh := range m.shares {
		if sh.DropID == dropID && sh.RecipientID == recipientID {
			cp := *sh
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) SharesForViewer(_ context.Context, viewerID string, dropIDs []string) (map[string]Share, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]bool, len(dropIDs))
	for _, id := range dropIDs {
		wanted[id] = true
	}
	out := make(map[string]Share)
	for _, sh := range m.shares {
		if sh.RecipientID == viewerID && wanted[sh.DropID] {
			out[sh.DropID] = *sh
		}
	}
	return out, nil
}

func (m *memStore) SetUnlocked(_ context.Context, shareID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.shares[shareID]
	if !ok || !sh.Locked {
		return false, nil
	}
	sh.Locked = false
	sh.UnlockedAt = &at
	return true, nil
}

func (m *memStore) TouchLastChecked(_ context.Context, shareID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sh, ok := m.shares[shareID]; ok {
		sh.LastCheckedAt = &at
		m.touches[shareID]++
	}
	return nil
}

func (m *memStore) GetUser(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *memStore) UpsertUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *u
	if existing, ok := m.users[u.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	}
	m.users[u.ID] = stored
	return nil
}

func (m *memStore) IsFriend(_ context.Context, a, b string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.friends[[2]string{a, b}] || m.friends[[2]string{b, a}], nil
}

func sortDrops(drops []Drop) {
	sort.Slice(drops, func(i, j int) bool { return drops[i].CreatedAt.After(drops[j].CreatedAt) })
}

type publishedEvent struct {
	Topic   string
	Event   string
	Payload any
}

type recordingPublisher struct {
	mu      sync.Mutex
	events  []publishedEvent
	evicted []string
}

func (p *recordingPublisher) Evict(topic, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evicted = append(p.evicted, topic+"/"+userID)
}

func (p *recordingPublisher) Publish(topic, event string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Topic: topic, Event: event, Payload: payload})
}

func (p *recordingPublisher) count(event string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

type sentNotification struct {
	UserID       string
	Notification Notification
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Notify(userID string, notification Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{UserID: userID, Notification: notification})
}

func (n *recordingNotifier) byCategory(category string) []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentNotification
	for _, s := range n.sent {
		if s.Notification.Category == category {
			out = append(out, s)
		}
	}
	return out
}

// Package presence tracks ephemeral typing state per room. Entries expire
// after a short TTL; expiry is lazy, so correctness never depends on a
// background sweep running.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultTTL covers a 3s client keystroke throttle plus network slack.
const DefaultTTL = 5 * time.Second

// Registry is the typing-presence store. Implementations must treat
// entries past expiry as absent even before they are physically purged.
type Registry interface {
	Set(ctx context.Context, roomID, userID string) error
	Clear(ctx context.Context, roomID, userID string) error
	Active(ctx context.Context, roomID, excludeUser string) ([]string, error)
}

// Memory is the in-process Registry used when Redis is not configured.
type Memory struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time

	// roomID -> userID -> expiresAt
	rooms map[string]map[string]time.Time
}

// NewMemory creates an in-memory registry. A ttl of zero uses DefaultTTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		ttl:   ttl,
		now:   time.Now,
		rooms: make(map[string]map[string]time.Time),
	}
}

// Set upserts the typing entry with a fresh expiry.
func (m *Memory) Set(ctx context.Context, roomID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room := m.rooms[roomID]
	if room == nil {
		room = make(map[string]time.Time)
		m.rooms[roomID] = room
	}
	room[userID] = m.now().Add(m.ttl)
	return nil
}

// Clear drops the entry immediately; called on send.
func (m *Memory) Clear(ctx context.Context, roomID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if room := m.rooms[roomID]; room != nil {
		delete(room, userID)
		if len(room) == 0 {
			delete(m.rooms, roomID)
		}
	}
	return nil
}

// Active returns unexpired typers excluding the caller, purging expired
// entries as it goes.
func (m *Memory) Active(ctx context.Context, roomID, excludeUser string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room := m.rooms[roomID]
	if room == nil {
		return nil, nil
	}

	now := m.now()
	users := make([]string, 0, len(room))
	for userID, expiresAt := range room {
		if !expiresAt.After(now) {
			delete(room, userID)
			continue
		}
		if userID != excludeUser {
			users = append(users, userID)
		}
	}
	if len(room) == 0 {
		delete(m.rooms, roomID)
	}
	sort.Strings(users)
	return users, nil
}

// Sweep drops all expired entries. Optional housekeeping; Active already
// ignores expired entries.
func (m *Memory) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for roomID, room := range m.rooms {
		for userID, expiresAt := range room {
			if !expiresAt.After(now) {
				delete(room, userID)
			}
		}
		if len(room) == 0 {
			delete(m.rooms, roomID)
		}
	}
}

// RunSweeper runs Sweep on an interval until ctx is done.
func (m *Memory) RunSweeper(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep()
		}
	}
}

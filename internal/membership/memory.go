package membership

import (
	"context"
	"sync"
)

// MemoryService is an in-memory membership table for unit tests and local
// development.
type MemoryService struct {
	mu    sync.RWMutex
	roles map[string]map[string]Role // groupID -> userID -> role
}

func NewMemoryService() *MemoryService {
	return &MemoryService{roles: make(map[string]map[string]Role)}
}

// Add sets userID's role in groupID.
func (m *MemoryService) Add(groupID, userID string, role Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.roles[groupID]
	if !ok {
		g = make(map[string]Role)
		m.roles[groupID] = g
	}
	g[userID] = role
}

// Remove drops userID from groupID.
func (m *MemoryService) Remove(groupID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.roles[groupID]; ok {
		delete(g, userID)
	}
}

func (m *MemoryService) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.roles[groupID]
	if !ok {
		return false, nil
	}
	_, ok = g[userID]
	return ok, nil
}

func (m *MemoryService) RoleOf(ctx context.Context, groupID, userID string) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if g, ok := m.roles[groupID]; ok {
		if r, ok := g[userID]; ok {
			return r, nil
		}
	}
	return RoleNone, nil
}

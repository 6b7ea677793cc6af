package telegram

import "sync"

// StateManager keeps per-chat conversational state. Today that is only the
// detailed text of the most recent analysis, served on the "Full breakdown"
// button. State is in-memory and lost on restart, which is acceptable for a
// convenience feature.
type StateManager struct {
	mu      sync.RWMutex
	details map[int64]string
}

func NewStateManager() *StateManager {
	return &StateManager{details: make(map[int64]string)}
}

func (m *StateManager) SetLastDetail(chatID int64, detail string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.details[chatID] = detail
}

func (m *StateManager) LastDetail(chatID int64) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.details[chatID]
}

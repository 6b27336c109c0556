package credential

import (
	"context"
	"fmt"
	"sync"
)

// MockGate is a test double satisfying the Gate contract: a configurable
// key->metadata mapping plus lists of inactive and rate-limited keys and a
// map of keys that should return an injected error.
type MockGate struct {
	mu            sync.Mutex
	keys          map[string]KeyInfo
	inactiveKeys  map[string]bool
	rateLimited   map[string]bool
	errorKeys     map[string]string
	callCounts    map[string]int
}

// NewMockGate builds an empty MockGate.
func NewMockGate() *MockGate {
	return &MockGate{
		keys:         make(map[string]KeyInfo),
		inactiveKeys: make(map[string]bool),
		rateLimited:  make(map[string]bool),
		errorKeys:    make(map[string]string),
		callCounts:   make(map[string]int),
	}
}

// AddKey registers a valid credential.
func (m *MockGate) AddKey(key string, info KeyInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = info
}

// SetInactive marks key as inactive (same effect as active=false).
func (m *MockGate) SetInactive(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inactiveKeys[key] = true
}

// SetRateLimited marks key as perpetually over its rate limit.
func (m *MockGate) SetRateLimited(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimited[key] = true
}

// SetError makes Validate return the given error for key.
func (m *MockGate) SetError(key, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorKeys[key] = msg
}

// CallCount returns how many times Validate was called for key.
func (m *MockGate) CallCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCounts[key]
}

// Validate implements Gate.
func (m *MockGate) Validate(_ context.Context, key string) (*KeyInfo, Verdict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCounts[key]++

	if msg, ok := m.errorKeys[key]; ok {
		return nil, Unknown, fmt.Errorf("%s", msg)
	}
	if m.inactiveKeys[key] {
		return nil, Unknown, nil
	}
	info, ok := m.keys[key]
	if !ok {
		return nil, Unknown, nil
	}
	if m.rateLimited[key] {
		return &info, RateLimited, nil
	}
	return &info, Valid, nil
}

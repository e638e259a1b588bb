package config

import (
	"fmt"
	"sync"
)

// Section is one independently validated block of configuration.
type Section interface {
	// ID returns the unique section identifier used as the storage key
	ID() string

	// Title returns a human-readable section name
	Title() string

	// Description explains what the section controls
	Description() string

	// Data returns the section's current values in storable form
	Data() map[string]interface{}

	// SetData applies stored values to the section
	SetData(data map[string]interface{}) error

	// Validate checks the current values
	Validate() error

	// Reset restores defaults
	Reset()
}

// Manager coordinates registered sections and their persistence.
type Manager struct {
	store    Store
	sections map[string]Section
	order    []string
	mu       sync.RWMutex
}

// NewManager creates a manager backed by store.
func NewManager(store Store) *Manager {
	return &Manager{
		store:    store,
		sections: make(map[string]Section),
	}
}

// RegisterSection adds a section. Registering the same ID twice is an error.
func (m *Manager) RegisterSection(section Section) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := section.ID()
	if _, exists := m.sections[id]; exists {
		return fmt.Errorf("section %q already registered", id)
	}

	m.sections[id] = section
	m.order = append(m.order, id)
	return nil
}

// GetSection returns a registered section by ID.
func (m *Manager) GetSection(id string) (Section, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	section, ok := m.sections[id]
	return section, ok
}

// GetSections returns all sections in registration order.
func (m *Manager) GetSections() []Section {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sections := make([]Section, 0, len(m.order))
	for _, id := range m.order {
		sections = append(sections, m.sections[id])
	}
	return sections
}

// LoadAll reloads the store and applies stored data to every section, then
// validates the result.
func (m *Manager) LoadAll() error {
	if err := m.store.Load(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	for _, section := range m.GetSections() {
		data, err := m.store.GetSection(section.ID())
		if err != nil {
			return fmt.Errorf("failed to read section %q: %w", section.ID(), err)
		}
		if len(data) == 0 {
			continue
		}
		if err := section.SetData(data); err != nil {
			return fmt.Errorf("failed to apply section %q: %w", section.ID(), err)
		}
		if err := section.Validate(); err != nil {
			return fmt.Errorf("invalid section %q: %w", section.ID(), err)
		}
	}

	return nil
}

// SaveAll validates every section and writes them to the store.
func (m *Manager) SaveAll() error {
	for _, section := range m.GetSections() {
		if err := section.Validate(); err != nil {
			return fmt.Errorf("invalid section %q: %w", section.ID(), err)
		}
		if err := m.store.SetSection(section.ID(), section.Data()); err != nil {
			return fmt.Errorf("failed to store section %q: %w", section.ID(), err)
		}
	}

	return m.store.Save()
}

// ResetAll restores every section to its defaults.
func (m *Manager) ResetAll() {
	for _, section := range m.GetSections() {
		section.Reset()
	}
}

// Store returns the underlying store.
func (m *Manager) Store() Store {
	return m.store
}

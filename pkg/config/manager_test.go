package config

import (
	"fmt"
	"testing"
)

// mockSection is a test implementation of the Section interface
type mockSection struct {
	id          string
	title       string
	data        map[string]interface{}
	setDataErr  error
	validateErr error
	resets      int
}

func (m *mockSection) ID() string                   { return m.id }
func (m *mockSection) Title() string                { return m.title }
func (m *mockSection) Description() string          { return "mock section " + m.id }
func (m *mockSection) Data() map[string]interface{} { return m.data }
func (m *mockSection) Validate() error              { return m.validateErr }
func (m *mockSection) Reset()                       { m.data = make(map[string]interface{}); m.resets++ }
func (m *mockSection) SetData(data map[string]interface{}) error {
	if m.setDataErr != nil {
		return m.setDataErr
	}
	m.data = data
	return nil
}

// mockStore is a test implementation of the Store interface
type mockStore struct {
	sections map[string]map[string]interface{}
	loadErr  error
	saveErr  error
	saves    int
}

func newMockStore() *mockStore {
	return &mockStore{
		sections: make(map[string]map[string]interface{}),
	}
}

func (m *mockStore) Load() error { return m.loadErr }

func (m *mockStore) Save() error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	return nil
}

func (m *mockStore) GetSection(sectionID string) (map[string]interface{}, error) {
	if data, exists := m.sections[sectionID]; exists {
		return data, nil
	}
	return make(map[string]interface{}), nil
}

func (m *mockStore) SetSection(sectionID string, data map[string]interface{}) error {
	m.sections[sectionID] = data
	return nil
}

func (m *mockStore) GetAll() (map[string]map[string]interface{}, error) {
	return m.sections, nil
}

func TestNewManager(t *testing.T) {
	store := newMockStore()
	manager := NewManager(store)

	if manager.Store() != store {
		t.Error("Manager does not reference correct store")
	}
	if len(manager.GetSections()) != 0 {
		t.Error("New manager should have no sections")
	}
}

func TestManager_RegisterSection(t *testing.T) {
	t.Run("prevents duplicate registration", func(t *testing.T) {
		manager := NewManager(newMockStore())

		if err := manager.RegisterSection(&mockSection{id: "tunnel"}); err != nil {
			t.Fatalf("First registration failed: %v", err)
		}
		if err := manager.RegisterSection(&mockSection{id: "tunnel"}); err == nil {
			t.Error("Expected error for duplicate registration")
		}
	})

	t.Run("maintains registration order", func(t *testing.T) {
		manager := NewManager(newMockStore())
		for _, id := range []string{"tunnel", "browser", "server"} {
			if err := manager.RegisterSection(&mockSection{id: id}); err != nil {
				t.Fatalf("RegisterSection(%s) failed: %v", id, err)
			}
		}

		sections := manager.GetSections()
		if len(sections) != 3 {
			t.Fatalf("Expected 3 sections, got %d", len(sections))
		}
		if sections[0].ID() != "tunnel" || sections[1].ID() != "browser" || sections[2].ID() != "server" {
			t.Error("Sections not in registration order")
		}
	})

	t.Run("unknown section is not found", func(t *testing.T) {
		manager := NewManager(newMockStore())
		if _, ok := manager.GetSection("nonexistent"); ok {
			t.Error("Should return false for non-existent section")
		}
	})
}

func TestManager_LoadAll(t *testing.T) {
	t.Run("applies stored data to sections", func(t *testing.T) {
		store := newMockStore()
		store.sections["tunnel"] = map[string]interface{}{"command": "cloudflared"}

		manager := NewManager(store)
		section := &mockSection{id: "tunnel", data: map[string]interface{}{}}
		manager.RegisterSection(section)

		if err := manager.LoadAll(); err != nil {
			t.Fatalf("LoadAll failed: %v", err)
		}
		if section.data["command"] != "cloudflared" {
			t.Error("Section data not loaded correctly")
		}
	})

	t.Run("skips sections with no stored data", func(t *testing.T) {
		manager := NewManager(newMockStore())
		section := &mockSection{id: "browser", data: map[string]interface{}{"kept": true}}
		manager.RegisterSection(section)

		if err := manager.LoadAll(); err != nil {
			t.Fatalf("LoadAll failed: %v", err)
		}
		if section.data["kept"] != true {
			t.Error("Section without stored data should keep its values")
		}
	})

	t.Run("propagates store load error", func(t *testing.T) {
		store := newMockStore()
		store.loadErr = fmt.Errorf("load error")

		if err := NewManager(store).LoadAll(); err == nil {
			t.Error("Expected error from store")
		}
	})

	t.Run("rejects stored data that fails to apply", func(t *testing.T) {
		store := newMockStore()
		store.sections["tunnel"] = map[string]interface{}{"command": 1}

		manager := NewManager(store)
		manager.RegisterSection(&mockSection{id: "tunnel", setDataErr: fmt.Errorf("bad type")})

		if err := manager.LoadAll(); err == nil {
			t.Error("Expected SetData error")
		}
	})

	t.Run("rejects stored data that fails validation", func(t *testing.T) {
		store := newMockStore()
		store.sections["server"] = map[string]interface{}{"listen": "nope"}

		manager := NewManager(store)
		manager.RegisterSection(&mockSection{id: "server", validateErr: fmt.Errorf("invalid")})

		if err := manager.LoadAll(); err == nil {
			t.Error("Expected validation error")
		}
	})
}

func TestManager_SaveAll(t *testing.T) {
	t.Run("saves all sections to store", func(t *testing.T) {
		store := newMockStore()
		manager := NewManager(store)
		manager.RegisterSection(&mockSection{id: "a", data: map[string]interface{}{"key1": "value1"}})
		manager.RegisterSection(&mockSection{id: "b", data: map[string]interface{}{"key2": "value2"}})

		if err := manager.SaveAll(); err != nil {
			t.Fatalf("SaveAll failed: %v", err)
		}
		if store.sections["a"]["key1"] != "value1" || store.sections["b"]["key2"] != "value2" {
			t.Error("Section data not saved correctly")
		}
		if store.saves != 1 {
			t.Errorf("Expected one store save, got %d", store.saves)
		}
	})

	t.Run("validates sections before saving", func(t *testing.T) {
		store := newMockStore()
		manager := NewManager(store)
		manager.RegisterSection(&mockSection{id: "test", validateErr: fmt.Errorf("validation error")})

		if err := manager.SaveAll(); err == nil {
			t.Error("Expected validation error")
		}
		if store.saves != 0 {
			t.Error("Store should not be saved when validation fails")
		}
	})

	t.Run("handles store save error", func(t *testing.T) {
		store := newMockStore()
		store.saveErr = fmt.Errorf("save error")
		manager := NewManager(store)
		manager.RegisterSection(&mockSection{id: "test", data: map[string]interface{}{}})

		if err := manager.SaveAll(); err == nil {
			t.Error("Expected error from store")
		}
	})
}

func TestManager_ResetAll(t *testing.T) {
	manager := NewManager(newMockStore())
	a := &mockSection{id: "a", data: map[string]interface{}{"key": "value"}}
	b := &mockSection{id: "b", data: map[string]interface{}{"key": "value"}}
	manager.RegisterSection(a)
	manager.RegisterSection(b)

	manager.ResetAll()

	if len(a.data) != 0 || len(b.data) != 0 {
		t.Error("Sections not reset")
	}
	if a.resets != 1 || b.resets != 1 {
		t.Error("Each section should be reset exactly once")
	}
}

func TestManager_ConcurrentRegistration(t *testing.T) {
	manager := NewManager(newMockStore())

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(i int) {
			manager.RegisterSection(&mockSection{id: fmt.Sprintf("section%d", i)})
			manager.GetSections()
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	if got := len(manager.GetSections()); got != 10 {
		t.Errorf("Expected 10 sections, got %d", got)
	}
}

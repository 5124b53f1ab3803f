package storage

import (
	"path/filepath"
	"testing"
)

func setupTestDB(t *testing.T) *Storage {
	s, err := NewStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestGetValue_Missing(t *testing.T) {
	s := setupTestDB(t)

	v, found, err := s.GetValue("gas.default")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if found || v != "" {
		t.Errorf("expected missing key, got %q found=%v", v, found)
	}
}

func TestSetAndGetValue(t *testing.T) {
	s := setupTestDB(t)

	// 1. Create
	if err := s.SetValue("gas.default", "10000000000"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}

	// 2. Overwrite
	if err := s.SetValue("gas.default", "123456789012345678901234567890"); err != nil {
		t.Fatalf("SetValue overwrite failed: %v", err)
	}

	v, found, err := s.GetValue("gas.default")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if !found {
		t.Fatal("expected key to be found")
	}
	if v != "123456789012345678901234567890" {
		t.Errorf("expected full-precision value, got %s", v)
	}
}

func TestLoadAllAndDelete(t *testing.T) {
	s := setupTestDB(t)

	s.SetValue("gas.low", "1")
	s.SetValue("gas.max", "2")

	all, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(all) != 2 || all["gas.low"] != "1" || all["gas.max"] != "2" {
		t.Errorf("unexpected values: %v", all)
	}

	if err := s.DeleteValue("gas.low"); err != nil {
		t.Fatalf("DeleteValue failed: %v", err)
	}
	if _, found, _ := s.GetValue("gas.low"); found {
		t.Error("expected gas.low to be deleted")
	}
	if err := s.DeleteValue("never.written"); err != nil {
		t.Errorf("deleting a missing key should not fail: %v", err)
	}
}

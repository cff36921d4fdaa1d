package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAccountStore(t *testing.T) {
	t.Run("SaveAndLoad", func(t *testing.T) {
		dir := t.TempDir()
		store := NewAccountStore(filepath.Join(dir, "account.json"))

		f := &AccountFile{
			CurrentAccount: &StoredAccount{ID: "acc-1", Email: "a@example.com", Token: "tok"},
		}
		if err := store.Save(f); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		loaded, err := store.Load()
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if loaded == nil {
			t.Fatal("Load returned nil")
		}
		if loaded.Version != FileVersion {
			t.Errorf("Version: got %d, want %d", loaded.Version, FileVersion)
		}
		if loaded.LastUpdated.IsZero() {
			t.Error("LastUpdated not set")
		}
		if *loaded.CurrentAccount != *f.CurrentAccount {
			t.Errorf("CurrentAccount: got %+v, want %+v", loaded.CurrentAccount, f.CurrentAccount)
		}
	})

	t.Run("LoadNonExistent", func(t *testing.T) {
		store := NewAccountStore(filepath.Join(t.TempDir(), "missing.json"))

		loaded, err := store.Load()
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if loaded != nil {
			t.Error("Expected nil for non-existent file")
		}
	})

	t.Run("LoadCorrupt", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "account.json")
		if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := NewAccountStore(path).Load(); err == nil {
			t.Error("Expected parse error")
		}
	})

	t.Run("CurrentWithoutAccount", func(t *testing.T) {
		store := NewAccountStore(filepath.Join(t.TempDir(), "account.json"))
		if err := store.Save(&AccountFile{LastUpdated: time.Unix(1, 0)}); err != nil {
			t.Fatal(err)
		}
		acc, err := store.Current()
		if err != nil {
			t.Fatalf("Current failed: %v", err)
		}
		if acc != nil {
			t.Errorf("Expected no account, got %+v", acc)
		}
	})

	t.Run("SaveCreatesDirectory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "dir", "account.json")
		store := NewAccountStore(path)
		if err := store.Save(&AccountFile{CurrentAccount: &StoredAccount{ID: "x"}}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("file not written: %v", err)
		}
	})

	t.Run("SaveLeavesNoTempFiles", func(t *testing.T) {
		dir := t.TempDir()
		store := NewAccountStore(filepath.Join(dir, "account.json"))
		for i := 0; i < 3; i++ {
			if err := store.Save(&AccountFile{CurrentAccount: &StoredAccount{ID: "x"}}); err != nil {
				t.Fatal(err)
			}
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 {
			t.Errorf("expected 1 file, got %d", len(entries))
		}
	})

	t.Run("Clear", func(t *testing.T) {
		store := NewAccountStore(filepath.Join(t.TempDir(), "account.json"))
		if err := store.Save(&AccountFile{CurrentAccount: &StoredAccount{ID: "x"}}); err != nil {
			t.Fatal(err)
		}
		if err := store.Clear(); err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
		loaded, _ := store.Load()
		if loaded != nil {
			t.Error("Expected nil after Clear")
		}
		if err := store.Clear(); err != nil {
			t.Errorf("second Clear failed: %v", err)
		}
	})
}

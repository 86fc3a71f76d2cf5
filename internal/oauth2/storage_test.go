package oauth2

import (
	"context"
	"testing"
	"time"
)

func TestMemoryTokenStorage(t *testing.T) {
	ctx := context.Background()

	t.Run("save and load", func(t *testing.T) {
		storage := NewMemoryTokenStorage()
		token := &Token{
			AccessToken: "tok",
			TokenType:   "Bearer",
			ExpiresAt:   time.Now().Add(time.Hour),
			Scopes:      []string{"read"},
		}

		if err := storage.SaveToken(ctx, "cfg-1", token); err != nil {
			t.Fatalf("SaveToken() unexpected error = %v", err)
		}

		loaded, err := storage.LoadToken(ctx, "cfg-1")
		if err != nil {
			t.Fatalf("LoadToken() unexpected error = %v", err)
		}
		if loaded == nil || loaded.AccessToken != "tok" {
			t.Errorf("LoadToken() = %+v, want access token %q", loaded, "tok")
		}
	})

	t.Run("load missing returns nil", func(t *testing.T) {
		storage := NewMemoryTokenStorage()

		loaded, err := storage.LoadToken(ctx, "never-saved")
		if err != nil {
			t.Fatalf("LoadToken() unexpected error = %v", err)
		}
		if loaded != nil {
			t.Errorf("LoadToken() = %+v, want nil", loaded)
		}
	})

	t.Run("save overwrites in place", func(t *testing.T) {
		storage := NewMemoryTokenStorage()

		storage.SaveToken(ctx, "cfg-1", &Token{AccessToken: "old"})
		storage.SaveToken(ctx, "cfg-1", &Token{AccessToken: "new"})

		loaded, _ := storage.LoadToken(ctx, "cfg-1")
		if loaded.AccessToken != "new" {
			t.Errorf("AccessToken = %q, want new", loaded.AccessToken)
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		storage := NewMemoryTokenStorage()
		storage.SaveToken(ctx, "cfg-1", &Token{AccessToken: "tok"})

		if err := storage.DeleteToken(ctx, "cfg-1"); err != nil {
			t.Fatalf("DeleteToken() unexpected error = %v", err)
		}
		if err := storage.DeleteToken(ctx, "cfg-1"); err != nil {
			t.Fatalf("DeleteToken() second call unexpected error = %v", err)
		}

		loaded, _ := storage.LoadToken(ctx, "cfg-1")
		if loaded != nil {
			t.Error("token should be gone after delete")
		}
	})

	t.Run("loaded token is a copy", func(t *testing.T) {
		storage := NewMemoryTokenStorage()
		storage.SaveToken(ctx, "cfg-1", &Token{AccessToken: "tok"})

		loaded, _ := storage.LoadToken(ctx, "cfg-1")
		loaded.AccessToken = "mutated"

		again, _ := storage.LoadToken(ctx, "cfg-1")
		if again.AccessToken != "tok" {
			t.Error("mutating a loaded token must not affect stored state")
		}
	})
}

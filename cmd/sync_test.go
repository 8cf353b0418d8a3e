package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/marcus/daybook/internal/cache"
	"github.com/marcus/daybook/internal/config"
	"github.com/marcus/daybook/internal/keys"
)

func TestSyncCommandUnauthorizedPurgesLocalState(t *testing.T) {
	cfgDir := t.TempDir()
	dataDir := t.TempDir()
	t.Setenv("DAYBOOK_CONFIG_DIR", cfgDir)
	t.Setenv("DAYBOOK_DATA_DIR", dataDir)

	// Server rejects the session outright.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	t.Setenv("DAYBOOK_SERVER_URL", srv.URL)

	if err := config.SaveAuth(&config.AuthCredentials{Token: "stale-token", UserID: "user-1"}); err != nil {
		t.Fatalf("SaveAuth failed: %v", err)
	}

	// Locally cached content and key material for the user.
	store, err := cache.Open(dataDir)
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	if _, err := store.UpsertEntry("user-1", "2026-08-01", json.RawMessage(`{"text":"x"}`)); err != nil {
		t.Fatalf("UpsertEntry failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close cache: %v", err)
	}
	ks, err := keys.NewKeystore(dataDir, "")
	if err != nil {
		t.Fatalf("NewKeystore failed: %v", err)
	}
	if err := ks.Save("user-1", make([]byte, 32)); err != nil {
		t.Fatalf("keystore Save failed: %v", err)
	}

	rootCmd.SetArgs([]string{"sync"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("sync against a rejecting server reported success")
	}

	// A rejected session signs the user out everywhere: credentials gone,
	// cache purged, key dropped.
	creds, err := config.LoadAuth()
	if err != nil {
		t.Fatalf("LoadAuth failed: %v", err)
	}
	if creds != nil {
		t.Error("credentials survived a rejected session")
	}

	store, err = cache.Open(dataDir)
	if err != nil {
		t.Fatalf("reopen cache: %v", err)
	}
	defer store.Close()
	if e, _ := store.GetEntry("user-1", "2026-08-01"); e != nil {
		t.Error("cache row survived a rejected session")
	}

	key, err := ks.Load("user-1")
	if err != nil {
		t.Fatalf("keystore Load failed: %v", err)
	}
	if key != nil {
		t.Error("user key survived a rejected session")
	}
}

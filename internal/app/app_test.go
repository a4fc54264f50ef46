package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/vns/internal/config"
	"github.com/hitoshi/vns/internal/repository"
	"github.com/hitoshi/vns/internal/store"
	"github.com/hitoshi/vns/internal/supabase"
)

func TestInit_WithValidConfig_Succeeds(t *testing.T) {
	setTestEnv(t)
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg == nil {
		t.Fatal("expected non-nil config")
	}

	if cfg.DatabaseURL != unreachableDatabaseURL {
		t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, unreachableDatabaseURL)
	}

	// グローバルロガーがJSON出力になっていること
	slog.Default().Info("init test")
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "init test")
	}
}

func TestInit_LogLevelFromConfig(t *testing.T) {
	setTestEnv(t)
	t.Setenv("LOG_LEVEL", "error")
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	if _, err := Init(&buf); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	slog.Default().Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info log should be filtered at error level, got %s", buf.String())
	}
}

func TestInit_InvalidLogLevel_ReturnsError(t *testing.T) {
	setTestEnv(t)
	t.Setenv("LOG_LEVEL", "loud")
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	if _, err := Init(&buf); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestInit_WithMissingConfig_ReturnsError(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SUPABASE_URL", "")
	t.Setenv("SUPABASE_ANON_KEY", "")
	t.Setenv("BASE_URL", "")
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err == nil {
		t.Fatal("expected error for missing required env vars, got nil")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
}

func TestNewBackends_DriverSelection(t *testing.T) {
	cfg := &config.Config{
		ProfileDriver: config.DriverSupabase,
		StorageDriver: config.DriverSupabase,
		Supabase:      config.SupabaseConfig{URL: "https://abc.supabase.co", AnonKey: "anon", HTTPTimeout: time.Second},
	}

	b, err := newBackends(context.Background(), cfg, nil, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, ok := b.profiles.(*supabase.ProfileTable); !ok {
		t.Errorf("profiles = %T, want *supabase.ProfileTable", b.profiles)
	}
	if _, ok := b.storage.(*supabase.StorageClient); !ok {
		t.Errorf("storage = %T, want *supabase.StorageClient", b.storage)
	}
	if len(b.imageOrigins) != 1 || b.imageOrigins[0] != "https://abc.supabase.co" {
		t.Errorf("imageOrigins = %v", b.imageOrigins)
	}

	cfg.ProfileDriver = config.DriverPostgres
	b, err = newBackends(context.Background(), cfg, nil, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, ok := b.profiles.(*repository.PostgresProfileRepo); !ok {
		t.Errorf("profiles = %T, want *repository.PostgresProfileRepo", b.profiles)
	}
}

func TestRateLimiterConfig_ConvertsPerMinute(t *testing.T) {
	cfg := &config.Config{RateLimitGeneral: 120, RateLimitAuth: 30}

	rl := rateLimiterConfig(cfg)

	if rl.GeneralRate != rate.Limit(2) {
		t.Errorf("GeneralRate = %v, want 2", rl.GeneralRate)
	}
	if rl.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", rl.GeneralBurst)
	}
	if rl.AuthRate != rate.Limit(0.5) {
		t.Errorf("AuthRate = %v, want 0.5", rl.AuthRate)
	}
	if rl.AuthBurst != 30 {
		t.Errorf("AuthBurst = %d, want 30", rl.AuthBurst)
	}
}

func TestSweepStores_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweepStores(ctx, store.NewRegistry(), time.Hour)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweepStores did not stop after cancel")
	}
}

func TestRunHealthcheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	port := srv.Listener.Addr().(*net.TCPAddr).Port
	if err := runHealthcheck(strconv.Itoa(port)); err != nil {
		t.Errorf("runHealthcheck() error = %v", err)
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	got := maskDatabaseURL("postgres://user:secret@db:5432/vns")
	if strings.Contains(got, "secret") {
		t.Errorf("masked URL leaks password: %q", got)
	}
	if maskDatabaseURL("short") != "***" {
		t.Errorf("short URL should be fully masked")
	}
}

func TestLogMigrationVersion(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	tests := []struct {
		name    string
		version uint
		dirty   bool
		err     error
		wantErr bool
		wantLog string
	}{
		{name: "clean", version: 3, wantLog: `"version":3`},
		{name: "dirty", version: 2, dirty: true, wantErr: true, wantLog: "dirty migration state"},
		{name: "read error", err: errors.New("boom"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))

			var gotURL string
			err := logMigrationVersion("postgres://db/vns", func(url string) (uint, bool, error) {
				gotURL = url
				return tt.version, tt.dirty, tt.err
			})

			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if gotURL != "postgres://db/vns" {
				t.Errorf("version called with %q", gotURL)
			}
			if tt.wantLog != "" && !strings.Contains(buf.String(), tt.wantLog) {
				t.Errorf("log = %s, want to contain %s", buf.String(), tt.wantLog)
			}
		})
	}
}

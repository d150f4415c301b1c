package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/abelzeko/water-balance/internal/config"
)

func TestRunRequiresBotToken(t *testing.T) {
	cfg := config.Default()
	cfg.Supabase.URL = "http://localhost"
	cfg.Supabase.AnonKey = "anon"

	err := run(context.Background(), cfg, log.New(io.Discard))
	if !errors.Is(err, errMissingBotToken) {
		t.Fatalf("Expected missing bot token error, got %v", err)
	}
}

func TestRunRequiresSupabaseSettings(t *testing.T) {
	cfg := config.Default()
	cfg.Telegram.BotToken = "123:abc"

	err := run(context.Background(), cfg, log.New(io.Discard))
	if !errors.Is(err, config.ErrMissingSupabase) {
		t.Fatalf("Expected missing Supabase settings error, got %v", err)
	}
}

// TestRunReturnsAuthFailure checks that a rejected token ends run with an
// error instead of exiting, so deferred cleanup still happens.
func TestRunReturnsAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"msg":"invalid JWT"}`))
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Supabase.URL = server.URL
	cfg.Supabase.AnonKey = "anon"
	cfg.Auth.Token = "stale"
	cfg.Telegram.BotToken = "123:abc"
	cfg.Cache.DBPath = filepath.Join(t.TempDir(), "bot.db")

	err := run(context.Background(), cfg, log.New(io.Discard))
	if err == nil || !strings.Contains(err.Error(), "failed to verify token") {
		t.Fatalf("Expected token verification error, got %v", err)
	}
}

package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/geoboard/internal/config"
)

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	setTestEnv(t, "postgres")
	t.Setenv("DATABASE_URL", "")

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve"})
	if err == nil {
		t.Fatal("Run with missing env should return error")
	}
}

// TestRun_ServeCommand_UnreachableDatabase はpostgresに接続できない場合にserveがエラーを返すことを検証する。
func TestRun_ServeCommand_UnreachableDatabase(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	setTestEnv(t, "postgres")
	t.Setenv("SERVER_PORT", "0")

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve"})
	if err == nil {
		t.Fatal("Run(serve) should fail when the database is unreachable")
	}
	if !strings.Contains(err.Error(), "database") {
		t.Errorf("error = %v, want database related error", err)
	}
}

func TestRun_MigrateCommand_RequiresPostgres(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	setTestEnv(t, "memory")

	var buf bytes.Buffer
	if err := Run(&buf, []string{"migrate"}); err == nil {
		t.Fatal("migrate with memory backend should return error")
	}
}

func TestRun_MigrateCommand_UnknownAction(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	setTestEnv(t, "postgres")

	var buf bytes.Buffer
	err := Run(&buf, []string{"migrate", "sideways"})
	if err == nil || !strings.Contains(err.Error(), "sideways") {
		t.Fatalf("Run(migrate sideways) error = %v, want unknown action error", err)
	}
}

func TestRun_Healthcheck(t *testing.T) {
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	port := fmt.Sprint(ln.Addr().(*net.TCPAddr).Port)
	t.Setenv("SERVER_PORT", port)

	if err := Run(io.Discard, []string{"healthcheck"}); err != nil {
		t.Errorf("Run(healthcheck) = %v, want nil", err)
	}
}

func TestRun_Healthcheck_NoServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	port := fmt.Sprint(ln.Addr().(*net.TCPAddr).Port)
	ln.Close()
	t.Setenv("SERVER_PORT", port)

	if err := Run(io.Discard, []string{"healthcheck"}); err == nil {
		t.Error("Run(healthcheck) without a server should return error")
	}
}

// TestServe_MemoryBackend_ServesAndShutsDown はメモリストアでサーバーが応答し、
// コンテキストのキャンセルで正常終了することを検証する。
func TestServe_MemoryBackend_ServesAndShutsDown(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	slog.SetDefault(slog.New(slog.NewJSONHandler(io.Discard, nil)))

	cfg := &config.Config{
		StoreBackend:          config.BackendMemory,
		CORSAllowedOrigin:     "http://localhost:3000",
		ProximityRadiusMeters: 5000,
		MessageMaxLength:      500,
		VoteMaxRetries:        3,
		VoteRetryBaseDelay:    time.Millisecond,
		RateLimitWrites:       60,
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, ln) }()

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Post(base+"/users", "application/json",
		strings.NewReader(`{"displayName":"Fantine","userAuth":"123456789"}`))
	if err != nil {
		cancel()
		t.Fatalf("POST /users: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || string(body) != "New user created" {
		t.Errorf("POST /users = %d %q", resp.StatusCode, body)
	}

	resp, err = client.Get(base + "/health")
	if err != nil {
		cancel()
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}

package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type statusMetrics struct {
	statuses []int
}

func (s *statusMetrics) RecordVoteTransition(string) {}
func (s *statusMetrics) RecordVoteRetry() {}
func (s *statusMetrics) RecordVoteLatency(time.Duration) {}
func (s *statusMetrics) RecordMessageOp(string) {}
func (s *statusMetrics) RecordUserCreated() {}
func (s *statusMetrics) RecordHTTPStatus(code int) { s.statuses = append(s.statuses, code) }

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func decodeLogEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	return entry
}

// TestLoggingMiddleware_LogsRequestFields はリクエストログに必要なフィールドが含まれることを検証する。
func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	var buf bytes.Buffer

	handler := NewLoggingMiddleware(newTestLogger(&buf), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/messages", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := decodeLogEntry(t, &buf)
	if entry["msg"] != "http_request" {
		t.Errorf("msg = %q, want %q", entry["msg"], "http_request")
	}
	if entry["method"] != "GET" {
		t.Errorf("method = %q, want %q", entry["method"], "GET")
	}
	if entry["path"] != "/messages" {
		t.Errorf("path = %q, want %q", entry["path"], "/messages")
	}
	if status, ok := entry["status"].(float64); !ok || status != 200 {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if d, ok := entry["duration_ms"].(float64); !ok || d < 0 {
		t.Errorf("duration_ms = %v, want >= 0", entry["duration_ms"])
	}
}

// TestLoggingMiddleware_IncludesVerifiedDisplayName はハンドラーが確認した表示名がログに含まれることを検証する。
func TestLoggingMiddleware_IncludesVerifiedDisplayName(t *testing.T) {
	var buf bytes.Buffer

	handler := NewLoggingMiddleware(newTestLogger(&buf), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetVerifiedDisplayName(r.Context(), "Jean Valjean")
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/votes", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := decodeLogEntry(t, &buf)
	if entry["display_name"] != "Jean Valjean" {
		t.Errorf("display_name = %v, want %q", entry["display_name"], "Jean Valjean")
	}
}

// TestLoggingMiddleware_NoIdentity_OmitsField はユーザー未確認のリクエストで表示名が出力されないことを検証する。
func TestLoggingMiddleware_NoIdentity_OmitsField(t *testing.T) {
	var buf bytes.Buffer

	handler := NewLoggingMiddleware(newTestLogger(&buf), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/messages", nil))

	entry := decodeLogEntry(t, &buf)
	if _, ok := entry["display_name"]; ok {
		t.Error("display_name should be omitted when no identity was verified")
	}
}

// TestLoggingMiddleware_LevelAndMetricsByStatus はステータスに応じたログレベルとメトリクス記録を検証する。
func TestLoggingMiddleware_LevelAndMetricsByStatus(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantLevel  string
	}{
		{"200 OK", http.StatusOK, "INFO"},
		{"201 Created", http.StatusCreated, "INFO"},
		{"400 Bad Request", http.StatusBadRequest, "WARN"},
		{"404 Not Found", http.StatusNotFound, "WARN"},
		{"500 Internal Server Error", http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			m := &statusMetrics{}

			handler := NewLoggingMiddleware(newTestLogger(&buf), m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

			entry := decodeLogEntry(t, &buf)
			if status := int(entry["status"].(float64)); status != tt.statusCode {
				t.Errorf("status = %d, want %d", status, tt.statusCode)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
			if len(m.statuses) != 1 || m.statuses[0] != tt.statusCode {
				t.Errorf("recorded statuses = %v, want [%d]", m.statuses, tt.statusCode)
			}
		})
	}
}

// TestLoggingMiddleware_BodyWriteCapture はレスポンスボディ書き込み後もステータスが記録されることを検証する。
func TestLoggingMiddleware_BodyWriteCapture(t *testing.T) {
	var buf bytes.Buffer

	handler := NewLoggingMiddleware(newTestLogger(&buf), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// WriteHeaderを呼ばずにWriteすると暗黙的に200が設定される
		w.Write([]byte("hello"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

	entry := decodeLogEntry(t, &buf)
	if status := int(entry["status"].(float64)); status != 200 {
		t.Errorf("status = %d, want 200", status)
	}
}

// TestLoggingMiddleware_RecordsFirstStatusAndBytes は最初に書き込まれたステータスと
// 本文のバイト数が記録されることを検証する。
func TestLoggingMiddleware_RecordsFirstStatusAndBytes(t *testing.T) {
	var buf bytes.Buffer

	handler := NewLoggingMiddleware(newTestLogger(&buf), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("New user created"))
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodPost, "/users", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := decodeLogEntry(t, &buf)
	if status := entry["status"]; status != float64(http.StatusOK) {
		t.Errorf("status = %v, want %d", status, http.StatusOK)
	}
	if n := entry["bytes"]; n != float64(len("New user created")) {
		t.Errorf("bytes = %v, want %d", n, len("New user created"))
	}
	if addr := entry["remote_addr"]; addr != "192.0.2.1:1234" {
		t.Errorf("remote_addr = %v", addr)
	}
}

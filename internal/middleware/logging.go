package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/geoboard/internal/metrics"
)

// responseRecorder は最初に確定したステータスコードと書き込んだバイト数を記録する。
type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rr *responseRecorder) WriteHeader(code int) {
	if rr.status == 0 {
		rr.status = code
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	n, err := rr.ResponseWriter.Write(b)
	rr.bytes += n
	return n, err
}

// statusOrOK はハンドラーが何も書き込まなかった場合に200を返す。
func (rr *responseRecorder) statusOrOK() int {
	if rr.status == 0 {
		return http.StatusOK
	}
	return rr.status
}

func levelForStatus(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// NewLoggingMiddleware はリクエストごとに http_request ログを1行出力し、
// ステータスコードをメトリクスに記録するミドルウェアを返す。
// ハンドラーがユーザー確認に成功した場合は display_name も出力する。
// collectorがnilの場合はメトリクスを記録しない。
func NewLoggingMiddleware(logger *slog.Logger, collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &responseRecorder{ResponseWriter: w}
			ctx := withIdentityHolder(r.Context())

			next.ServeHTTP(rec, r.WithContext(ctx))

			status := rec.statusOrOK()
			collector.RecordHTTPStatus(status)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", rec.bytes),
				slog.String("remote_addr", r.RemoteAddr),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			}
			if name, err := DisplayNameFromContext(ctx); err == nil {
				attrs = append(attrs, slog.String("display_name", name))
			}

			logger.LogAttrs(r.Context(), levelForStatus(status), "http_request", attrs...)
		})
	}
}

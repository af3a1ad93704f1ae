// Package app はプロセスの起動、依存関係のワイヤリング、サブコマンドの実行を担う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/geoboard/internal/config"
	"github.com/hitoshi/geoboard/internal/database"
	"github.com/hitoshi/geoboard/internal/handler"
	"github.com/hitoshi/geoboard/internal/identity"
	"github.com/hitoshi/geoboard/internal/logger"
	"github.com/hitoshi/geoboard/internal/message"
	"github.com/hitoshi/geoboard/internal/metrics"
	"github.com/hitoshi/geoboard/internal/middleware"
	"github.com/hitoshi/geoboard/internal/repository"
	"github.com/hitoshi/geoboard/internal/security"
	"github.com/hitoshi/geoboard/internal/user"
	"github.com/hitoshi/geoboard/internal/vote"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間の上限。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再構成する
	level, ok := logger.ParseLevel(cfg.LogLevel)
	logger.SetupDefaultWithLevel(w, level)
	if !ok {
		slog.Warn("unknown LOG_LEVEL, falling back to info", slog.String("log_level", cfg.LogLevel))
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8000"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("store_backend", string(cfg.StoreBackend)),
	)

	switch cmd {
	case CommandMigrate:
		action, ok := ParseMigrateAction(args)
		if !ok {
			return fmt.Errorf("unknown migrate action %q (want up, down or version)", args[1])
		}
		return runMigrate(w, cfg, action)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", ":"+cfg.ServerPort)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", cfg.ServerPort, err)
	}
	return serve(ctx, cfg, ln)
}

// serve はストアを開き、全依存関係をワイヤリングしてlnでHTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func serve(ctx context.Context, cfg *config.Config, ln net.Listener) error {
	// 1. ストアの初期化
	store, db, err := openStore(cfg)
	if err != nil {
		ln.Close()
		return err
	}
	if db != nil {
		defer db.Close()
	}

	// 2. メトリクスの初期化
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 3. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitWrites))
	defer rateLimiter.Stop()

	deps := newRouterDeps(cfg, store, collector, rateLimiter)
	deps.Gatherer = reg
	if db != nil {
		deps.Pinger = db
	}
	router := handler.NewRouter(deps)

	// 4. HTTPサーバーの起動
	server := &http.Server{
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", ln.Addr().String()),
		)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// openStore は設定されたバックエンドのストアを開く。
// postgres の場合は接続確認済みの*sql.DBも返す。呼び出し元がCloseする。
func openStore(cfg *config.Config) (repository.Store, *sql.DB, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		slog.Warn("using in-memory store; data is lost on restart")
		return repository.NewMemoryStore(), nil, nil
	default:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established")
		return repository.NewPostgresStore(db), db, nil
	}
}

// newRouterDeps はストアからドメインサービスを構築し、ルーターの依存関係を返す。
func newRouterDeps(cfg *config.Config, store repository.Store, collector metrics.MetricsCollector, rateLimiter *middleware.RateLimiter) *handler.RouterDeps {
	checker := identity.NewChecker(store.Users())

	userService := user.NewService(store.Users(), collector)
	messageService := message.NewService(
		store.Messages(), checker, security.NewTextSanitizer(), collector,
		message.Options{
			RadiusMeters:  cfg.ProximityRadiusMeters,
			MaxTextLength: cfg.MessageMaxLength,
		},
	)
	ledger := vote.NewLedger(
		store.Votes(), store.Users(), checker, collector,
		vote.Options{
			MaxRetries: cfg.VoteMaxRetries,
			BaseDelay:  cfg.VoteRetryBaseDelay,
		},
	)

	return &handler.RouterDeps{
		Logger:            slog.Default(),
		Metrics:           collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		MessageService:    messageService,
		UserService:       userService,
		VoteService:       ledger,
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// version の結果はwにも書き出す。
func runMigrate(w io.Writer, cfg *config.Config, action MigrateAction) error {
	if cfg.StoreBackend != config.BackendPostgres {
		return fmt.Errorf("migrate requires STORE_BACKEND=%s, got %q", config.BackendPostgres, cfg.StoreBackend)
	}

	slog.Info("running database migrations",
		slog.String("action", string(action)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch action {
	case MigrateDown:
		if err := database.RollbackMigration(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
	case MigrateVersion:
		version, dirty, err := database.SchemaVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		slog.Info("schema version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
		fmt.Fprintf(w, "version=%d dirty=%t\n", version, dirty)
		return nil
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}

package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/geoboard/internal/metrics"
	"github.com/hitoshi/geoboard/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// サービス
	MessageService MessageServiceInterface
	UserService    UserServiceInterface
	VoteService    VoteServiceInterface

	// 運用
	Pinger   Pinger
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Logging → Recovery → SecurityHeaders → CORS → RateLimit(Write)
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	healthHandler := NewHealthHandler(deps.Pinger)
	messageHandler := NewMessageHandler(deps.MessageService)
	userHandler := NewUserHandler(deps.UserService)
	voteHandler := NewVoteHandler(deps.VoteService)

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler.Health)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- API ---
	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.WriteMiddleware())
		}

		r.Route("/messages", func(r chi.Router) {
			r.Get("/", messageHandler.ListMessages)
			r.Post("/", messageHandler.PostMessage)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", messageHandler.GetMessage)
				r.Delete("/", messageHandler.DeleteMessage)
			})
		})

		r.Route("/users", func(r chi.Router) {
			r.Get("/", userHandler.GetUser)
			r.Post("/", userHandler.CreateUser)
		})

		r.Route("/votes", func(r chi.Router) {
			r.Get("/", voteHandler.GetVotes)
			r.Post("/", voteHandler.PostVote)
			r.Delete("/", voteHandler.DeleteVote)
		})
	})

	return r
}

package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/campusmap/internal/middleware"
	"github.com/hitoshi/campusmap/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// ストア
	SessionService SessionServiceInterface
	PlaceService   PlaceServiceInterface
	Events         EventSubscriber
	Sanitizer      security.ContentSanitizer

	// Metrics はnilの場合 /metrics を公開しない
	Metrics http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → SecurityHeaders → CORS → (RequireSession → RateLimit)
//
// 変更系のスポット操作は認証済みセッションがない場合401を返す。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	sessionHandler := NewSessionHandler(deps.SessionService, logger)
	placeHandler := NewPlaceHandler(deps.PlaceService, deps.Sanitizer, logger)

	rateLimit := func(next http.Handler) http.Handler { return next }
	if deps.RateLimiter != nil {
		rateLimit = deps.RateLimiter.Middleware()
	}
	requireSession := middleware.NewRequireSessionMiddleware(deps.SessionService)

	// --- 認証不要のルート ---

	r.Get("/health", Health)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}
	if deps.Events != nil {
		r.Get("/events", NewEventsHandler(deps.Events, deps.CORSAllowedOrigin, logger).Stream)
	}

	r.Route("/state", func(r chi.Router) {
		r.Get("/session", sessionHandler.State)
		r.Get("/places", placeHandler.State)
		r.Get("/categories", placeHandler.Categories)
		r.Get("/feed/new", placeHandler.NewFeed)
		r.Get("/feed/top", placeHandler.TopFeed)
	})

	r.Route("/session", func(r chi.Router) {
		r.With(rateLimit).Post("/login", sessionHandler.Login)
		r.With(rateLimit).Post("/register", sessionHandler.Register)
		r.Post("/logout", sessionHandler.Logout)
	})

	r.Post("/places/refresh", placeHandler.Refresh)
	r.Get("/places/{id}", placeHandler.GetPlace)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: RequireSession → RateLimit
	r.Group(func(r chi.Router) {
		r.Use(requireSession)
		r.Use(rateLimit)

		// GET /places/{id} と同じパスを共有するためサブルーターにはしない
		r.Post("/places", placeHandler.CreatePlace)
		r.Put("/places/{id}", placeHandler.UpdatePlace)
		r.Delete("/places/{id}", placeHandler.DeletePlace)
		r.Post("/places/{id}/like", placeHandler.Like)
		r.Post("/places/{id}/favorite", placeHandler.Favorite)
		r.Post("/places/{id}/comments", placeHandler.AddComment)
	})

	r.Group(func(r chi.Router) {
		r.Use(requireSession)

		r.Get("/me/places", placeHandler.MyPlaces)
		r.Get("/me/favorites", placeHandler.MyFavorites)
	})

	return r
}

package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/campusmap/internal/model"
	"github.com/hitoshi/campusmap/internal/session"
)

// SessionServiceInterface はセッションハンドラーが必要とするサービスインターフェース。
// session.Storeが満たす。
type SessionServiceInterface interface {
	Snapshot() session.Session
	IsAuthenticated() bool
	Identity() *model.User
	Login(ctx context.Context, username, password string) (*model.User, error)
	Register(ctx context.Context, reg model.Registration) (*model.User, error)
	Logout(ctx context.Context) error
}

// SessionHandler はログイン状態を扱うHTTPハンドラー。
type SessionHandler struct {
	service SessionServiceInterface
	logger  *slog.Logger
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(service SessionServiceInterface, logger *slog.Logger) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{service: service, logger: logger}
}

// State は現在のセッション状態を返す。
// GET /state/session
func (h *SessionHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Snapshot())
}

// Login はログインを処理する。
// POST /session/login
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.Credentials
	if !decodeBody(w, r, &req) {
		return
	}

	u, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		handleStoreError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, u)
}

// Register はアカウント作成と自動ログインを処理する。
// POST /session/register
func (h *SessionHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.Registration
	if !decodeBody(w, r, &req) {
		return
	}

	u, err := h.service.Register(r.Context(), req)
	if err != nil {
		handleStoreError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, u)
}

// Logout はログアウトを処理する。未ログインでも204を返す。
// POST /session/logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context()); err != nil {
		// メモリ上のセッションはクリア済み
		h.logger.Error("failed to clear persisted credential on logout",
			slog.String("error", err.Error()),
		)
	}
	w.WriteHeader(http.StatusNoContent)
}

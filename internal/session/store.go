// Package session は認証状態（トークンとユーザー）を管理するストアを提供する。
//
// 状態遷移:
//
//	Initializing → Authenticated | Unauthenticated
//	Authenticated → Unauthenticated（Logout または Verify で401）
//	Unauthenticated → Authenticated（Login / Register）
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/campusmap/internal/credential"
	"github.com/hitoshi/campusmap/internal/event"
	"github.com/hitoshi/campusmap/internal/model"
)

const (
	pathToken = "/api/token"
	pathMe    = "/api/users/me/"
	pathUsers = "/api/users/"
)

// ユーザー向けエラーメッセージ
const (
	msgLoginFailed        = "ユーザー名またはパスワードが正しくありません。"
	msgRegistrationFailed = "アカウントの作成に失敗しました。"
)

// State はセッションの状態を表す。
type State string

const (
	StateInitializing    State = "initializing"
	StateAuthenticated   State = "authenticated"
	StateUnauthenticated State = "unauthenticated"
)

// API はSessionStoreが使うHTTPクライアントの機能。
type API interface {
	SetCredential(token string)
	Get(ctx context.Context, path string, query url.Values, out any) error
	GetWithToken(ctx context.Context, token, path string, out any) error
	Post(ctx context.Context, path string, body, out any) error
}

// Session はある時点のセッション状態のコピー。
type Session struct {
	Credential      string      `json:"-"`
	Identity        *model.User `json:"identity,omitempty"`
	IsAuthenticated bool        `json:"is_authenticated"`
	IsInitializing  bool        `json:"is_initializing"`
	State           State       `json:"state"`
	Err             string      `json:"error,omitempty"`
	ExpiresAt       *time.Time  `json:"expires_at,omitempty"`
}

// Store は認証状態を保持する。プロセスごとに1つだけ生成し、利用側に注入する。
type Store struct {
	api    API
	creds  credential.Store
	events event.Publisher
	logger *slog.Logger
	now    func() time.Time

	initOnce sync.Once

	// commitMu はトークンの保存・ヘッダー・メモリ上の状態の切り替えを直列化する
	commitMu sync.Mutex

	mu           sync.RWMutex
	credential   string
	identity     *model.User
	initializing bool
	err          string
}

// NewStore はStoreを生成する。生成直後はInitializing状態。
func NewStore(api API, creds credential.Store, events event.Publisher, logger *slog.Logger) *Store {
	if events == nil {
		events = event.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		api:          api,
		creds:        creds,
		events:       events,
		logger:       logger,
		now:          time.Now,
		initializing: true,
	}
}

// Initialize は起動時に1回だけ、保存済みトークンを検証してセッションを復元する。
// 失敗はすべて未認証として扱い、エラーは返さない。2回目以降の呼び出しは何もしない。
func (s *Store) Initialize(ctx context.Context) {
	s.initOnce.Do(func() {
		defer func() {
			s.mu.Lock()
			s.initializing = false
			s.mu.Unlock()
			s.publish()
		}()
		s.restore(ctx)
	})
}

func (s *Store) restore(ctx context.Context) {
	token, err := s.creds.Load(ctx)
	if err != nil {
		s.logger.Warn("failed to load persisted credential", slog.String("error", err.Error()))
		return
	}
	if token == "" {
		return
	}

	if credential.Expired(token, s.now()) {
		s.logger.Info("persisted credential expired, discarding")
		s.discard(ctx)
		return
	}

	s.api.SetCredential(token)

	var me model.User
	if err := s.api.Get(ctx, pathMe, nil, &me); err != nil {
		s.logger.Warn("auth verification failed", slog.String("error", err.Error()))
		s.discard(ctx)
		return
	}

	s.mu.Lock()
	s.credential = token
	s.identity = &me
	s.mu.Unlock()

	s.logger.Info("session restored", slog.String("username", me.Username))
}

// Login はユーザー名とパスワードでトークンを取得し、セッションを確立する。
// 新しいトークンでユーザー情報を取得できた場合のみ保存・適用するため、
// 失敗時は既存のセッションに一切影響しない。
func (s *Store) Login(ctx context.Context, username, password string) (*model.User, error) {
	s.setErr("")

	var tok model.Token
	if err := s.api.Post(ctx, pathToken, model.Credentials{Username: username, Password: password}, &tok); err != nil {
		return nil, s.loginFailed(username, err)
	}
	if tok.AccessToken == "" {
		return nil, s.loginFailed(username, errors.New("empty access token"))
	}

	var me model.User
	if err := s.api.GetWithToken(ctx, tok.AccessToken, pathMe, &me); err != nil {
		return nil, s.loginFailed(username, err)
	}

	s.commitMu.Lock()
	if err := s.creds.Save(ctx, tok.AccessToken); err != nil {
		s.commitMu.Unlock()
		return nil, s.loginFailed(username, fmt.Errorf("failed to persist credential: %w", err))
	}
	s.api.SetCredential(tok.AccessToken)

	s.mu.Lock()
	s.credential = tok.AccessToken
	s.identity = &me
	s.mu.Unlock()
	s.commitMu.Unlock()
	s.publish()

	s.logger.Info("logged in", slog.String("username", me.Username))

	u := me
	return &u, nil
}

func (s *Store) loginFailed(username string, err error) error {
	s.logger.Warn("login failed",
		slog.String("username", username),
		slog.String("error", err.Error()),
	)
	s.setErr(msgLoginFailed)
	return &model.AuthenticationError{Err: err}
}

// Register はアカウントを作成し、同じ資格情報でログインする。
// 作成に失敗した場合は自動ログインしない。
func (s *Store) Register(ctx context.Context, reg model.Registration) (*model.User, error) {
	s.setErr("")

	if err := validateRegistration(reg); err != nil {
		s.setErr(err.Error())
		return nil, err
	}

	if err := s.api.Post(ctx, pathUsers, reg, nil); err != nil {
		reason := msgRegistrationFailed
		var reqErr *model.RequestError
		if errors.As(err, &reqErr) && reqErr.Message != "" {
			reason = reqErr.Message
		}
		s.logger.Warn("registration failed",
			slog.String("username", reg.Username),
			slog.String("error", err.Error()),
		)
		s.setErr(reason)
		return nil, &model.RegistrationError{Reason: reason, Err: err}
	}

	u, err := s.Login(ctx, reg.Username, reg.Password)
	if err != nil {
		s.setErr(msgRegistrationFailed)
		return nil, &model.RegistrationError{Reason: msgRegistrationFailed, Err: err}
	}
	return u, nil
}

func validateRegistration(reg model.Registration) error {
	switch {
	case strings.TrimSpace(reg.Username) == "":
		return &model.ValidationError{Field: "username", Message: "ユーザー名を入力してください。"}
	case strings.TrimSpace(reg.Email) == "":
		return &model.ValidationError{Field: "email", Message: "メールアドレスを入力してください。"}
	case reg.Password == "":
		return &model.ValidationError{Field: "password", Message: "パスワードを入力してください。"}
	}
	return nil
}

// Logout は保存済みトークンを削除し、セッションをクリアする。
// 未ログイン時に呼び出しても何もしない。永続化層の削除に失敗した場合も
// メモリ上のセッションはクリアした上でエラーを返す。
func (s *Store) Logout(ctx context.Context) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	clearErr := s.creds.Clear(ctx)
	if clearErr != nil {
		s.logger.Error("failed to clear persisted credential", slog.String("error", clearErr.Error()))
	}

	s.api.SetCredential("")

	s.mu.Lock()
	changed := s.credential != "" || s.identity != nil
	s.credential = ""
	s.identity = nil
	s.mu.Unlock()

	if changed {
		s.publish()
		s.logger.Info("logged out")
	}
	return clearErr
}

// Verify は認証済みの場合にトークンを再検証する。
// サーバーが401を返した場合はセッションを破棄して未認証に遷移する。
// それ以外の失敗ではセッションを維持したままエラーを返す。
// 検証中にLogin・Logoutでトークンが入れ替わった場合、結果は適用しない。
func (s *Store) Verify(ctx context.Context) error {
	s.mu.RLock()
	token := s.credential
	authenticated := token != "" && s.identity != nil
	s.mu.RUnlock()
	if !authenticated {
		return nil
	}

	var me model.User
	err := s.api.GetWithToken(ctx, token, pathMe, &me)
	if err != nil && !model.IsUnauthorized(err) {
		return err
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	if s.credential != token {
		s.mu.Unlock()
		s.logger.Debug("credential changed during re-verification, ignoring result")
		return err
	}
	if err == nil {
		s.identity = &me
		s.mu.Unlock()
		return nil
	}
	s.credential = ""
	s.identity = nil
	s.mu.Unlock()

	s.logger.Info("credential rejected on re-verification, logging out")
	s.discard(ctx)
	s.publish()
	return err
}

// discard は保存済みトークンとヘッダーを破棄する。
func (s *Store) discard(ctx context.Context) {
	if err := s.creds.Clear(ctx); err != nil {
		s.logger.Error("failed to clear persisted credential", slog.String("error", err.Error()))
	}
	s.api.SetCredential("")
}

// IsAuthenticated はトークンとユーザー情報の両方が揃っているかを返す。
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential != "" && s.identity != nil
}

// Identity は現在のユーザーのコピーを返す。未認証の場合はnil。
func (s *Store) Identity() *model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil
	}
	u := *s.identity
	return &u
}

// State は現在の状態を返す。
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked()
}

func (s *Store) stateLocked() State {
	switch {
	case s.initializing:
		return StateInitializing
	case s.credential != "" && s.identity != nil:
		return StateAuthenticated
	default:
		return StateUnauthenticated
	}
}

// Err は直近の操作で記録されたエラーメッセージを返す。
func (s *Store) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Snapshot は現在のセッション状態のコピーを返す。
func (s *Store) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Session{
		Credential:      s.credential,
		IsAuthenticated: s.credential != "" && s.identity != nil,
		IsInitializing:  s.initializing,
		State:           s.stateLocked(),
		Err:             s.err,
	}
	if s.identity != nil {
		u := *s.identity
		snap.Identity = &u
	}
	if exp, ok := credential.Expiry(s.credential); ok {
		snap.ExpiresAt = &exp
	}
	return snap
}

func (s *Store) setErr(msg string) {
	s.mu.Lock()
	changed := s.err != msg
	s.err = msg
	s.mu.Unlock()
	if changed && msg != "" {
		s.events.Publish(event.Event{Kind: event.KindError})
	}
}

func (s *Store) publish() {
	s.events.Publish(event.Event{Kind: event.KindSession})
}

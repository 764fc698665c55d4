// Package credential はベアラートークンを永続化するキーバリューストアを提供する。
// トークンはAPIのオリジン単位で1件だけ保持する。
package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Store はトークンの永続化インターフェース。
type Store interface {
	// Load は保存済みトークンを返す。保存されていない場合は空文字列とnilを返す。
	Load(ctx context.Context) (string, error)
	// Save はトークンを保存する。既存のトークンは上書きされる。
	Save(ctx context.Context, token string) error
	// Clear は保存済みトークンを削除する。保存されていない場合も成功する。
	Clear(ctx context.Context) error
}

// MemoryStore はプロセス内だけで保持するStore。
type MemoryStore struct {
	mu    sync.Mutex
	token string
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *MemoryStore) Save(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}

// queries はSQL方言ごとのクエリ。
type queries struct {
	load  string
	save  string
	clear string
}

var postgresQueries = queries{
	load: `SELECT token FROM credentials WHERE origin = $1`,
	save: `INSERT INTO credentials (origin, token, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (origin) DO UPDATE SET token = EXCLUDED.token, updated_at = EXCLUDED.updated_at`,
	clear: `DELETE FROM credentials WHERE origin = $1`,
}

var sqliteQueries = queries{
	load: `SELECT token FROM credentials WHERE origin = ?`,
	save: `INSERT INTO credentials (origin, token, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (origin) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`,
	clear: `DELETE FROM credentials WHERE origin = ?`,
}

// SQLStore はcredentialsテーブルを使うStore。
// スキーマはdatabase.RunMigrationsで作成しておく必要がある。
type SQLStore struct {
	db     *sql.DB
	origin string
	q      queries
}

// NewPostgresStore はPostgreSQLを使うSQLStoreを生成する。
func NewPostgresStore(db *sql.DB, origin string) *SQLStore {
	return &SQLStore{db: db, origin: origin, q: postgresQueries}
}

// NewSQLiteStore はSQLiteファイルを使うSQLStoreを生成する。
func NewSQLiteStore(db *sql.DB, origin string) *SQLStore {
	return &SQLStore{db: db, origin: origin, q: sqliteQueries}
}

// Load は保存済みトークンを返す。
func (s *SQLStore) Load(ctx context.Context) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx, s.q.load, s.origin).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load credential: %w", err)
	}
	return token, nil
}

// Save はトークンを保存する。
func (s *SQLStore) Save(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, s.q.save, s.origin, token); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// Clear は保存済みトークンを削除する。
func (s *SQLStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.q.clear, s.origin); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	return nil
}

// compile-time interface check
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLStore)(nil)
)

// Expiry はJWT形式のトークンからexpクレームを読み取る。
// 署名は検証しない（検証はサーバーの役目）。JWTでない、またはexpがない場合はokがfalseになる。
func Expiry(token string) (exp time.Time, ok bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	nd, err := parsed.Claims.GetExpirationTime()
	if err != nil || nd == nil {
		return time.Time{}, false
	}
	return nd.Time, true
}

// Expired はトークンのexpがnow以前かどうかを返す。expが読めない場合はfalse。
func Expired(token string, now time.Time) bool {
	exp, ok := Expiry(token)
	return ok && !exp.After(now)
}

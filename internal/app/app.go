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
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/term"

	"github.com/hitoshi/campusmap/internal/apiclient"
	"github.com/hitoshi/campusmap/internal/config"
	"github.com/hitoshi/campusmap/internal/credential"
	"github.com/hitoshi/campusmap/internal/database"
	"github.com/hitoshi/campusmap/internal/event"
	"github.com/hitoshi/campusmap/internal/handler"
	"github.com/hitoshi/campusmap/internal/logger"
	"github.com/hitoshi/campusmap/internal/metrics"
	"github.com/hitoshi/campusmap/internal/middleware"
	"github.com/hitoshi/campusmap/internal/place"
	"github.com/hitoshi/campusmap/internal/security"
	"github.com/hitoshi/campusmap/internal/session"
	"github.com/hitoshi/campusmap/internal/worker/refresh"
)

const defaultHealthcheckPort = "8090"

// readPassword は端末からエコーなしでパスワードを読み取る。テストで差し替える。
var readPassword = func(prompt io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal; pass --password")
	}
	fmt.Fprint(prompt, "Password: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}

// Init はアプリケーションの初期化を行う。
// 設定を読み込み、JSON構造化ログをセットアップする。
// logOutが指定された場合はログ出力先としてそのwriterを使用する。
func Init(logOut io.Writer, configPath string) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(logOut, slog.LevelInfo)

	// 2. 設定ファイルと環境変数から設定を読み込む
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでロガーを作り直す
	logger.SetupDefault(logOut, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。コマンドの出力はstdoutへ、ログはstderrへ書き込む。
func Run(stdout, stderr io.Writer, args []string) error {
	cmd, opts, err := ParseCommand(args, stdout)
	if err != nil {
		return err
	}
	if cmd == "" {
		return nil
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = defaultHealthcheckPort
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(stderr, optString(opts, "--config"))
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Debug("starting application",
		slog.String("command", string(cmd)),
		slog.String("api_base_url", cfg.APIBaseURL),
		slog.String("credential_store", cfg.CredentialStore),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandLogin:
		password := optString(opts, "--password")
		if password == "" {
			password, err = readPassword(stderr)
			if err != nil {
				return err
			}
		}
		return runLogin(ctx, stdout, cfg, optString(opts, "<username>"), password)
	case CommandLogout:
		return runLogout(ctx, stdout, cfg)
	case CommandWhoami:
		return runWhoami(ctx, stdout, cfg)
	case CommandPlaces:
		return runPlaces(ctx, stdout, cfg, optString(opts, "--category"))
	default:
		return runServe(ctx, cfg)
	}
}

// components はサブコマンド間で共有する依存関係。
type components struct {
	db       *sql.DB
	client   *apiclient.Client
	sessions *session.Store
	places   *place.Store
	broker   *event.Broker
}

// Close はDB接続を閉じる。
func (c *components) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// openComponents は資格情報ストア、APIクライアント、両ストアを構築する。
func openComponents(ctx context.Context, cfg *config.Config, mc metrics.MetricsCollector) (*components, error) {
	log := slog.Default()

	// 1. 資格情報ストア
	db, creds, err := openCredentialStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// 2. APIクライアント
	client := apiclient.New(apiclient.Config{
		BaseURL:   cfg.APIBaseURL,
		Timeout:   cfg.APITimeout,
		RateLimit: cfg.APIRateLimit,
		RateBurst: cfg.APIRateBurst,
	}, nil, logger.Component(log, "apiclient"), mc)

	// 3. ストア
	broker := event.NewBroker()
	sessions := session.NewStore(client, creds, broker, logger.Component(log, "session"))
	places := place.NewStore(client, broker, mc, logger.Component(log, "place"))

	return &components{
		db:       db,
		client:   client,
		sessions: sessions,
		places:   places,
		broker:   broker,
	}, nil
}

// openCredentialStore はCREDENTIAL_STOREに応じた資格情報ストアを開く。
// sqliteの場合はマイグレーションも適用する。memoryの場合dbはnil。
func openCredentialStore(ctx context.Context, cfg *config.Config) (*sql.DB, credential.Store, error) {
	switch cfg.CredentialStore {
	case config.CredentialStoreMemory:
		return nil, credential.NewMemoryStore(), nil

	case config.CredentialStoreSQLite:
		if err := database.RunMigrations(database.DriverSQLite, cfg.CredentialPath); err != nil {
			return nil, nil, fmt.Errorf("failed to migrate credential store: %w", err)
		}
		db, err := database.Open(database.DriverSQLite, cfg.CredentialPath)
		if err != nil {
			return nil, nil, err
		}
		return db, credential.NewSQLiteStore(db, cfg.Origin()), nil

	case config.CredentialStorePostgres:
		db, err := database.Open(database.DriverPostgres, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established")
		return db, credential.NewPostgresStore(db, cfg.Origin()), nil

	default:
		return nil, nil, fmt.Errorf("unknown credential store: %s", cfg.CredentialStore)
	}
}

// runServe はゲートウェイを起動する。
// セッションを復元して初期データを読み込み、定期再取得とHTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 2. ストアの構築
	comps, err := openComponents(ctx, cfg, collector)
	if err != nil {
		return err
	}
	defer comps.Close()

	// 3. セッション復元と初期データ読み込み
	comps.sessions.Initialize(ctx)
	if err := comps.places.InitializeData(ctx); err != nil {
		// 失敗はストアのエラーとして保持され、ビューに表示される
		slog.Warn("initial data load incomplete", slog.String("error", err.Error()))
	}

	// 4. 定期再取得
	scheduler := refresh.NewScheduler(comps.places, comps.sessions, logger.Component(slog.Default(), "refresh"))
	go scheduler.Start(ctx, cfg.FeedRefreshInterval)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), slog.Default())
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		SessionService:    comps.sessions,
		PlaceService:      comps.places,
		Events:            comps.broker,
		Sanitizer:         security.NewContentSanitizer(),
		Metrics:           metrics.Handler(registry),
	})

	// 6. HTTPサーバーの起動
	// /events の接続がシャットダウンで閉じるよう、リクエストコンテキストをctxから派生させる
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	slog.Info("shutting down gateway...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("gateway stopped gracefully")
	return nil
}

// runMigrate は資格情報ストアのマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	var driver, dsn, target string
	switch cfg.CredentialStore {
	case config.CredentialStoreSQLite:
		driver, dsn, target = database.DriverSQLite, cfg.CredentialPath, cfg.CredentialPath
	case config.CredentialStorePostgres:
		driver, dsn, target = database.DriverPostgres, cfg.DatabaseURL, maskDatabaseURL(cfg.DatabaseURL)
	default:
		slog.Info("nothing to migrate", slog.String("credential_store", cfg.CredentialStore))
		return nil
	}

	slog.Info("running database migrations",
		slog.String("driver", driver),
		slog.String("target", target),
	)

	if err := database.RunMigrations(driver, dsn); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runLogin はログインしてトークンを資格情報ストアに保存する。
func runLogin(ctx context.Context, w io.Writer, cfg *config.Config, username, password string) error {
	comps, err := openComponents(ctx, cfg, metrics.Nop{})
	if err != nil {
		return err
	}
	defer comps.Close()

	u, err := comps.sessions.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("%s: %w", comps.sessions.Err(), err)
	}

	fmt.Fprintf(w, "Logged in as %s\n", u.Username)
	return nil
}

// runLogout は保存済みトークンを削除する。
func runLogout(ctx context.Context, w io.Writer, cfg *config.Config) error {
	comps, err := openComponents(ctx, cfg, metrics.Nop{})
	if err != nil {
		return err
	}
	defer comps.Close()

	if err := comps.sessions.Logout(ctx); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}

	fmt.Fprintln(w, "Logged out")
	return nil
}

// runWhoami は保存済みトークンでセッションを復元し、ユーザー名を表示する。
func runWhoami(ctx context.Context, w io.Writer, cfg *config.Config) error {
	comps, err := openComponents(ctx, cfg, metrics.Nop{})
	if err != nil {
		return err
	}
	defer comps.Close()

	comps.sessions.Initialize(ctx)

	snap := comps.sessions.Snapshot()
	if !snap.IsAuthenticated {
		fmt.Fprintln(w, "Not logged in")
		return nil
	}

	fmt.Fprintf(w, "%s <%s>\n", snap.Identity.Username, snap.Identity.Email)
	if snap.ExpiresAt != nil {
		fmt.Fprintf(w, "token expires at %s\n", snap.ExpiresAt.Local().Format(time.RFC3339))
	}
	return nil
}

// runPlaces はスポット一覧を表形式で表示する。categoryが空でない場合は絞り込む。
func runPlaces(ctx context.Context, w io.Writer, cfg *config.Config, category string) error {
	var categoryID *int64
	if category != "" {
		id, err := strconv.ParseInt(category, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid --category %q: %w", category, err)
		}
		categoryID = &id
	}

	comps, err := openComponents(ctx, cfg, metrics.Nop{})
	if err != nil {
		return err
	}
	defer comps.Close()

	comps.sessions.Initialize(ctx)

	if err := comps.places.FetchPlaces(ctx, categoryID); err != nil {
		return fmt.Errorf("%s: %w", comps.places.Err(), err)
	}

	sanitizer := security.NewContentSanitizer()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tLIKES\tDISLIKES\tFAVORITES")
	for _, p := range comps.places.Places() {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\n",
			p.ID, sanitizer.SanitizePlainText(p.Name), p.LikeCount, p.DislikeCount, p.FavoriteCount)
	}
	return tw.Flush()
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	addr := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(addr)
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
func maskDatabaseURL(dsn string) string {
	if len(dsn) > 20 {
		return dsn[:12] + "***@..."
	}
	return "***"
}

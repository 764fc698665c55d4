// Package refresh はフィードとセッションの定期再取得を提供する。
package refresh

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// FeedRefresher はフィード再取得のインターフェース。place.Storeが満たす。
type FeedRefresher interface {
	FetchNewPlaces(ctx context.Context) error
	FetchTopPlaces(ctx context.Context) error
}

// SessionVerifier はセッション再検証のインターフェース。session.Storeが満たす。
type SessionVerifier interface {
	Verify(ctx context.Context) error
}

// task は1サイクルで実行する処理。
type task struct {
	name string
	run  func(ctx context.Context) error
}

// Scheduler は一定間隔で新着・人気フィードを再取得し、セッションを再検証する。
// 失敗はログに記録するだけで、同じサイクル内ではリトライしない。
type Scheduler struct {
	tasks  []task
	logger *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// sessionsがnilの場合はセッションの再検証を行わない。
func NewScheduler(feeds FeedRefresher, sessions SessionVerifier, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	tasks := []task{
		{name: "feed_new", run: feeds.FetchNewPlaces},
		{name: "feed_top", run: feeds.FetchTopPlaces},
	}
	if sessions != nil {
		tasks = append(tasks, task{name: "session_verify", run: sessions.Verify})
	}
	return &Scheduler{tasks: tasks, logger: logger}
}

// Start はinterval間隔のティッカーでスケジューラを起動する。
// intervalが0以下の場合は何もせずに戻る。
// 起動時の取得は呼び出し側が済ませている前提で、最初の実行は1間隔後になる。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		s.logger.Info("定期再取得は無効です")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("定期再取得スケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("定期再取得スケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Warn("再取得サイクルで失敗した処理があります",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はすべての処理を並列に1回ずつ実行し、失敗をまとめて返す。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	errs := make([]error, len(s.tasks))
	var wg sync.WaitGroup

	for i, t := range s.tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := t.run(ctx); err != nil {
				s.logger.Error("再取得に失敗しました",
					slog.String("task", t.name),
					slog.String("error", err.Error()),
				)
				errs[i] = err
			}
		}()
	}

	wg.Wait()

	s.logger.Debug("再取得サイクルが完了しました",
		slog.Int("task_count", len(s.tasks)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return errors.Join(errs...)
}

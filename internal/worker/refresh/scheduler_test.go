package refresh

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// --- モック定義 ---

// mockFeeds はFeedRefresherのテスト用モック。
type mockFeeds struct {
	newCalls atomic.Int32
	topCalls atomic.Int32

	fetchNewFunc func(ctx context.Context) error
	fetchTopFunc func(ctx context.Context) error
}

func (m *mockFeeds) FetchNewPlaces(ctx context.Context) error {
	m.newCalls.Add(1)
	if m.fetchNewFunc != nil {
		return m.fetchNewFunc(ctx)
	}
	return nil
}

func (m *mockFeeds) FetchTopPlaces(ctx context.Context) error {
	m.topCalls.Add(1)
	if m.fetchTopFunc != nil {
		return m.fetchTopFunc(ctx)
	}
	return nil
}

// mockSessions はSessionVerifierのテスト用モック。
type mockSessions struct {
	calls      atomic.Int32
	verifyFunc func(ctx context.Context) error
}

func (m *mockSessions) Verify(ctx context.Context) error {
	m.calls.Add(1)
	if m.verifyFunc != nil {
		return m.verifyFunc(ctx)
	}
	return nil
}

// syncBuffer は複数goroutineから書き込まれるログ用のバッファ。
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger(w *syncBuffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// --- RunOnce テスト ---

func TestScheduler_RunOnce_RunsEveryTask(t *testing.T) {
	feeds := &mockFeeds{}
	sessions := &mockSessions{}
	s := NewScheduler(feeds, sessions, newTestLogger(&syncBuffer{}))

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	if got := feeds.newCalls.Load(); got != 1 {
		t.Errorf("FetchNewPlaces 呼び出し回数: got %d, want 1", got)
	}
	if got := feeds.topCalls.Load(); got != 1 {
		t.Errorf("FetchTopPlaces 呼び出し回数: got %d, want 1", got)
	}
	if got := sessions.calls.Load(); got != 1 {
		t.Errorf("Verify 呼び出し回数: got %d, want 1", got)
	}
}

func TestScheduler_RunOnce_FailureDoesNotStopOtherTasks(t *testing.T) {
	errTop := errors.New("top feed unavailable")
	feeds := &mockFeeds{
		fetchTopFunc: func(ctx context.Context) error { return errTop },
	}
	sessions := &mockSessions{}
	logs := &syncBuffer{}
	s := NewScheduler(feeds, sessions, newTestLogger(logs))

	err := s.RunOnce(context.Background())
	if !errors.Is(err, errTop) {
		t.Fatalf("エラー: got %v, want %v", err, errTop)
	}

	// リトライしない
	if got := feeds.topCalls.Load(); got != 1 {
		t.Errorf("FetchTopPlaces 呼び出し回数: got %d, want 1", got)
	}
	if feeds.newCalls.Load() != 1 || sessions.calls.Load() != 1 {
		t.Error("失敗していない処理が実行されていない")
	}
	if !strings.Contains(logs.String(), `"task":"feed_top"`) {
		t.Errorf("失敗したタスク名がログにない: %s", logs.String())
	}
}

func TestScheduler_RunOnce_WithoutSessionVerifier(t *testing.T) {
	feeds := &mockFeeds{}
	s := NewScheduler(feeds, nil, nil)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if len(s.tasks) != 2 {
		t.Errorf("タスク数: got %d, want 2", len(s.tasks))
	}
}

// --- Start テスト ---

func TestScheduler_Start_ZeroIntervalDisables(t *testing.T) {
	feeds := &mockFeeds{}
	s := NewScheduler(feeds, nil, newTestLogger(&syncBuffer{}))

	done := make(chan struct{})
	go func() {
		s.Start(context.Background(), 0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("interval=0 でStartが戻らない")
	}
	if feeds.newCalls.Load() != 0 {
		t.Error("無効時に再取得が実行された")
	}
}

func TestScheduler_Start_TicksUntilCancelled(t *testing.T) {
	feeds := &mockFeeds{}
	sessions := &mockSessions{}
	s := NewScheduler(feeds, sessions, newTestLogger(&syncBuffer{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for feeds.newCalls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("ティッカーで再取得が実行されない")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("キャンセル後にStartが戻らない")
	}

	if sessions.calls.Load() < 2 {
		t.Errorf("Verify 呼び出し回数: got %d, want >= 2", sessions.calls.Load())
	}
}

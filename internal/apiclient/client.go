// Package apiclient はキャンパスマップREST APIのHTTPクライアントを提供する。
// 認証トークンの付与はこのパッケージに集約し、両ストアのリクエストはすべてここを通る。
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hitoshi/campusmap/internal/metrics"
	"github.com/hitoshi/campusmap/internal/model"
)

const (
	// maxErrorBodySize はエラーレスポンスから読み取る最大バイト数。
	maxErrorBodySize = 64 * 1024
	userAgent        = "campusmap-client/1.0"
)

// Config はClientの設定。
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // req/sec。0以下の場合は制限しない
	RateBurst int
}

// Client はベアラートークンを付与してREST APIを呼び出すクライアント。
// 複数のgoroutineから同時に利用できる。
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	metrics    metrics.MetricsCollector

	mu         sync.RWMutex
	credential string
}

// New はClientを生成する。httpClientがnilの場合はcfg.Timeoutを持つクライアントを作る。
func New(cfg Config, httpClient *http.Client, logger *slog.Logger, mc metrics.MetricsCollector) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if mc == nil {
		mc = metrics.Nop{}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger,
		metrics:    mc,
	}
}

// SetCredential は以降のすべてのリクエストに付与するベアラートークンを設定する。
// 空文字列を渡すとAuthorizationヘッダーを外す。
func (c *Client) SetCredential(token string) {
	c.mu.Lock()
	c.credential = token
	c.mu.Unlock()
}

// Credential は現在設定されているベアラートークンを返す。
func (c *Client) Credential() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.credential
}

// Get はGETリクエストを送り、レスポンスJSONをoutにデコードする。
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out, c.Credential())
}

// GetWithToken は設定済みのトークンの代わりにtokenを使ってGETリクエストを送る。
// 発行直後のトークンをコミット前に検証する用途で使う。
func (c *Client) GetWithToken(ctx context.Context, token, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, nil, out, token)
}

// Post はbodyをJSONとしてPOSTし、レスポンスJSONをoutにデコードする。
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out, c.Credential())
}

// Put はbodyをJSONとしてPUTし、レスポンスJSONをoutにデコードする。
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPut, path, nil, body, out, c.Credential())
}

// Delete はDELETEリクエストを送る。outがnilの場合レスポンスボディは読み捨てる。
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil, out, c.Credential())
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, token string) error {
	reqErr := func(status int, msg string, err error) *model.RequestError {
		return &model.RequestError{Method: method, Path: path, Status: status, Message: msg, Err: err}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return reqErr(0, "", fmt.Errorf("rate limiter: %w", err))
		}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return reqErr(0, "", fmt.Errorf("failed to encode request body: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return reqErr(0, "", fmt.Errorf("failed to create request: %w", err))
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	endpoint := EndpointTemplate(path)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.metrics.RecordAPIRequest(method, endpoint, 0, duration)
		c.logger.Error("api request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		return reqErr(0, "", err)
	}
	defer resp.Body.Close()

	c.metrics.RecordAPIRequest(method, endpoint, resp.StatusCode, duration)

	level := slog.LevelDebug
	if resp.StatusCode >= 500 {
		level = slog.LevelError
	} else if resp.StatusCode >= 400 {
		level = slog.LevelWarn
	}
	c.logger.Log(ctx, level, "api request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("http_status", resp.StatusCode),
		slog.Float64("duration_ms", float64(duration.Nanoseconds())/float64(time.Millisecond)),
		slog.String("request_id", requestID),
	)

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return reqErr(resp.StatusCode, ServerMessage(data), nil)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return reqErr(resp.StatusCode, "invalid response body", err)
	}
	return nil
}

// ServerMessage はエラーレスポンスボディからサーバーのメッセージを取り出す。
// {"detail": "..."} と、バリデーションエラー時の {"detail": [{"msg": "..."}]} に対応する。
func ServerMessage(body []byte) string {
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}

	if len(payload.Detail) > 0 {
		var s string
		if err := json.Unmarshal(payload.Detail, &s); err == nil {
			return s
		}
		var list []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(payload.Detail, &list); err == nil && len(list) > 0 {
			return list[0].Msg
		}
	}
	return payload.Message
}

// EndpointTemplate はパス中の数値セグメントを{id}に置き換える。
// メトリクスのラベル数を抑えるために使う。
func EndpointTemplate(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg != "" && isDigits(seg) {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/campusmap/internal/event"
)

const (
	eventsBuffer       = 16
	eventsWriteTimeout = 10 * time.Second
	eventsPingInterval = 30 * time.Second
	eventsPongTimeout  = 2 * eventsPingInterval
)

// EventSubscriber はストアの変更通知を購読するインターフェース。event.Brokerが満たす。
type EventSubscriber interface {
	Subscribe(buffer int) (<-chan event.Event, func())
}

// EventsHandler は変更通知をWebSocketで配信するハンドラー。
// ビューは通知の種別を見て /state/* を再取得する。
type EventsHandler struct {
	events   EventSubscriber
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewEventsHandler はEventsHandlerを生成する。
// Originヘッダーがない接続（CLIなど）とallowedOriginからの接続のみ受け付ける。
func NewEventsHandler(events EventSubscriber, allowedOrigin string, logger *slog.Logger) *EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsHandler{
		events: events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
		logger: logger,
	}
}

// Stream はWebSocket接続を確立し、切断されるまで通知を送り続ける。
// GET /events
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgradeが応答を書き込み済み
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	ch, unsubscribe := h.events.Subscribe(eventsBuffer)
	defer unsubscribe()

	// クライアントからのメッセージは読み捨て、切断の検知だけに使う
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(eventsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventsPongTimeout))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			conn.SetWriteDeadline(time.Now().Add(eventsWriteTimeout))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-closed:
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(eventsWriteTimeout))
			if err := conn.WriteJSON(e); err != nil {
				h.logger.Debug("websocket write failed", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(eventsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

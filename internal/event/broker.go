// Package event はストアの変更通知を購読者に配信する。
// ビューはこの通知を受けて該当するスナップショットを再取得する。
package event

import (
	"sync"
	"time"
)

// Kind は変更されたコレクションの種別。
type Kind string

const (
	KindSession    Kind = "session"
	KindPlaces     Kind = "places"
	KindCategories Kind = "categories"
	KindFeedNew    Kind = "feed_new"
	KindFeedTop    Kind = "feed_top"
	KindLoading    Kind = "loading"
	KindError      Kind = "error"
)

// Event は1件の変更通知。ペイロードは持たず、購読者はストアから最新状態を読む。
type Event struct {
	Kind    Kind      `json:"kind"`
	PlaceID int64     `json:"place_id,omitempty"`
	At      time.Time `json:"at"`
}

// Publisher はストアが依存する通知先。
type Publisher interface {
	Publish(e Event)
}

// Broker はPublisherの実装で、購読者ごとにバッファ付きチャネルを持つ。
// 受信が追いつかない購読者への通知は破棄し、ストアの書き込みをブロックしない。
type Broker struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	now    func() time.Time
}

// NewBroker はBrokerを生成する。
func NewBroker() *Broker {
	return &Broker{
		subs: make(map[int]chan Event),
		now:  time.Now,
	}
}

// Subscribe は通知チャネルと購読解除関数を返す。
// 解除関数は複数回呼び出しても安全で、呼び出し後にチャネルはクローズされる。
func (b *Broker) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish はすべての購読者に通知する。Atが未設定の場合は現在時刻を入れる。
func (b *Broker) Publish(e Event) {
	if e.At.IsZero() {
		e.At = b.now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribers は現在の購読者数を返す。
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Discard は通知を捨てるPublisher。
type Discard struct{}

func (Discard) Publish(Event) {}

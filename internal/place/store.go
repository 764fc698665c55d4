// Package place はスポット・カテゴリ・フィードのインメモリ状態を管理するストアを提供する。
// コレクションを変更するのはこのパッケージのメソッドだけで、読み出しは常にコピーを返す。
package place

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/hitoshi/campusmap/internal/event"
	"github.com/hitoshi/campusmap/internal/metrics"
	"github.com/hitoshi/campusmap/internal/model"
)

const (
	pathPlaces     = "/api/places/"
	pathCategories = "/api/categories/"
	pathFeedNew    = "/api/feed/new"
	pathFeedTop    = "/api/feed/top"
	pathMyPlaces   = "/api/users/me/places"
	pathMyFavorite = "/api/users/me/favorites"
)

// MaxCommentLength はコメント本文の最大文字数（サーバーの制限と同じ）。
const MaxCommentLength = 1000

// ストアに記録するユーザー向けエラーメッセージ
const (
	msgFetchPlaces     = "スポットの取得に失敗しました。"
	msgFetchCategories = "カテゴリの取得に失敗しました。"
	msgFetchNew        = "新着スポットの取得に失敗しました。"
	msgFetchTop        = "人気スポットの取得に失敗しました。"
	msgFetchPlace      = "スポット（ID: %d）の取得に失敗しました。"
	msgAddPlace        = "スポットの追加に失敗しました。"
	msgUpdatePlace     = "スポットの更新に失敗しました。"
	msgDeletePlace     = "スポットの削除に失敗しました。"
	msgLikePlace       = "評価の送信に失敗しました。"
	msgFavoritePlace   = "お気に入りの登録に失敗しました。"
	msgAddComment      = "コメントの投稿に失敗しました。"
	msgUserPlaces      = "投稿したスポットの取得に失敗しました。"
	msgUserFavorites   = "お気に入りの取得に失敗しました。"
	msgInitialize      = "データの初期化に失敗しました。"
)

// API はPlaceStoreが使うHTTPクライアントの機能。
type API interface {
	Get(ctx context.Context, path string, query url.Values, out any) error
	Post(ctx context.Context, path string, body, out any) error
	Put(ctx context.Context, path string, body, out any) error
	Delete(ctx context.Context, path string, out any) error
}

// Store はスポット関連のコレクションを保持する。
// 同じスポットへの操作を直列化はしないため、並行した操作のレスポンスは任意の順で反映される。
type Store struct {
	api     API
	events  event.Publisher
	metrics metrics.MetricsCollector
	logger  *slog.Logger

	mu         sync.RWMutex
	places     []model.Place
	categories []model.Category
	newPlaces  []model.Place
	topPlaces  []model.Place
	loading    int
	err        string
}

// NewStore はStoreを生成する。eventsとmcはnilでもよい。
func NewStore(api API, events event.Publisher, mc metrics.MetricsCollector, logger *slog.Logger) *Store {
	if events == nil {
		events = event.Discard{}
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		api:        api,
		events:     events,
		metrics:    mc,
		logger:     logger,
		places:     []model.Place{},
		categories: []model.Category{},
		newPlaces:  []model.Place{},
		topPlaces:  []model.Place{},
	}
}

// FetchPlaces はスポット一覧をサーバーの結果で丸ごと置き換える。
// categoryIDがnilでない場合はカテゴリで絞り込む。失敗時は既存の一覧を維持する。
func (s *Store) FetchPlaces(ctx context.Context, categoryID *int64) error {
	s.beginLoading()
	defer s.endLoading()
	s.setErr("")

	query := url.Values{}
	if categoryID != nil {
		query.Set("category_id", strconv.FormatInt(*categoryID, 10))
	}

	var places []model.Place
	if err := s.api.Get(ctx, pathPlaces, query, &places); err != nil {
		return s.fail("fetch_places", msgFetchPlaces, err)
	}
	if places == nil {
		places = []model.Place{}
	}

	s.mu.Lock()
	s.places = places
	s.mu.Unlock()
	s.publish(event.KindPlaces, 0)

	s.logger.Debug("places fetched", slog.Int("places_count", len(places)))
	return nil
}

// FetchCategories はカテゴリ一覧を丸ごと置き換える。
func (s *Store) FetchCategories(ctx context.Context) error {
	s.beginLoading()
	defer s.endLoading()

	var categories []model.Category
	if err := s.api.Get(ctx, pathCategories, nil, &categories); err != nil {
		return s.fail("fetch_categories", msgFetchCategories, err)
	}
	if categories == nil {
		categories = []model.Category{}
	}

	s.mu.Lock()
	s.categories = categories
	s.mu.Unlock()
	s.publish(event.KindCategories, 0)
	return nil
}

// FetchNewPlaces は新着フィードを丸ごと置き換える。
func (s *Store) FetchNewPlaces(ctx context.Context) error {
	places, err := s.fetchList(ctx, pathFeedNew)
	if err != nil {
		return s.fail("fetch_feed_new", msgFetchNew, err)
	}

	s.mu.Lock()
	s.newPlaces = places
	s.mu.Unlock()
	s.publish(event.KindFeedNew, 0)
	return nil
}

// FetchTopPlaces は人気フィードを丸ごと置き換える。
func (s *Store) FetchTopPlaces(ctx context.Context) error {
	places, err := s.fetchList(ctx, pathFeedTop)
	if err != nil {
		return s.fail("fetch_feed_top", msgFetchTop, err)
	}

	s.mu.Lock()
	s.topPlaces = places
	s.mu.Unlock()
	s.publish(event.KindFeedTop, 0)
	return nil
}

func (s *Store) fetchList(ctx context.Context, path string) ([]model.Place, error) {
	var places []model.Place
	if err := s.api.Get(ctx, path, nil, &places); err != nil {
		return nil, err
	}
	if places == nil {
		places = []model.Place{}
	}
	return places, nil
}

// FetchPlaceByID はコメント付きのスポット詳細を取得する。一覧は変更しない。
func (s *Store) FetchPlaceByID(ctx context.Context, id int64) (*model.Place, error) {
	s.beginLoading()
	defer s.endLoading()

	var p model.Place
	if err := s.api.Get(ctx, placePath(id), nil, &p); err != nil {
		return nil, s.fail("fetch_place", fmt.Sprintf(msgFetchPlace, id), err)
	}
	return &p, nil
}

// AddPlace はスポットを作成し、サーバーが返したスポットを一覧の末尾に追加する。
// その後、新着フィードを再取得する。入力が不正な場合は通信せずValidationErrorを返す。
func (s *Store) AddPlace(ctx context.Context, draft model.PlaceDraft) (*model.Place, error) {
	if err := ValidateDraft(draft); err != nil {
		return nil, err
	}

	s.beginLoading()
	defer s.endLoading()

	var created model.Place
	if err := s.api.Post(ctx, pathPlaces, draft, &created); err != nil {
		return nil, s.fail("add_place", msgAddPlace, err)
	}

	s.mu.Lock()
	s.places = append(s.places, created)
	s.mu.Unlock()
	s.publish(event.KindPlaces, created.ID)

	s.logger.Info("place added",
		slog.Int64("place_id", created.ID),
		slog.String("name", created.Name),
	)

	// フィードの取得失敗は記録済み。作成自体は成功しているので結果を返す
	_ = s.FetchNewPlaces(ctx)

	p := clonePlace(created)
	return &p, nil
}

// UpdatePlace はスポットの名前・説明・カテゴリを置き換え、
// サーバーの応答を同じIDの要素にだけマージする。
func (s *Store) UpdatePlace(ctx context.Context, id int64, patch model.PlacePatch) (*model.Place, error) {
	if err := ValidatePatch(patch); err != nil {
		return nil, err
	}

	var updated model.Place
	if err := s.api.Put(ctx, placePath(id), patch, &updated); err != nil {
		return nil, s.fail("update_place", msgUpdatePlace, err)
	}

	s.mu.Lock()
	for i := range s.places {
		if s.places[i].ID == id {
			s.places[i] = mergePlace(s.places[i], updated)
		}
	}
	s.mu.Unlock()
	s.publish(event.KindPlaces, id)

	p := clonePlace(updated)
	return &p, nil
}

// DeletePlace はスポットを削除し、一覧から取り除く。フィードは変更しない。
func (s *Store) DeletePlace(ctx context.Context, id int64) error {
	if err := s.api.Delete(ctx, placePath(id), nil); err != nil {
		return s.fail("delete_place", msgDeletePlace, err)
	}

	s.mu.Lock()
	s.places = slices.DeleteFunc(s.places, func(p model.Place) bool { return p.ID == id })
	s.mu.Unlock()
	s.publish(event.KindPlaces, id)

	s.logger.Info("place deleted", slog.Int64("place_id", id))
	return nil
}

// LikePlace はいいね（isLike=false の場合はよくないね）を送信する。
// ローカルのカウントは送信前に加算し、失敗しても戻さない。
// 人気フィードは送信結果にかかわらず再取得する。
func (s *Store) LikePlace(ctx context.Context, id int64, isLike bool) error {
	kind := "like"
	if !isLike {
		kind = "dislike"
	}

	s.patchPlace(id, func(p *model.Place) {
		if isLike {
			p.LikeCount++
		} else {
			p.DislikeCount++
		}
	})
	s.metrics.RecordOptimisticUpdate(kind)

	var voteErr error
	if err := s.api.Post(ctx, placePath(id)+"/like", model.Vote{IsLike: isLike}, nil); err != nil {
		voteErr = s.fail("like_place", msgLikePlace, err)
	}

	topErr := s.FetchTopPlaces(ctx)
	return errors.Join(voteErr, topErr)
}

// FavoritePlace はお気に入り登録を送信する。
// favorite_count の加算と is_favorited の設定は送信前に行い、失敗しても戻さない。
func (s *Store) FavoritePlace(ctx context.Context, id int64) error {
	s.patchPlace(id, func(p *model.Place) {
		p.FavoriteCount++
		p.IsFavorited = true
	})
	s.metrics.RecordOptimisticUpdate("favorite")

	if err := s.api.Post(ctx, placePath(id)+"/favorite", nil, nil); err != nil {
		return s.fail("favorite_place", msgFavoritePlace, err)
	}
	return nil
}

// AddComment はコメントを投稿し、作成されたコメントを返す。
// キャッシュ済みのスポットのコメント一覧は更新しないため、
// 反映を見るにはFetchPlaceByIDで取り直す必要がある。
func (s *Store) AddComment(ctx context.Context, placeID int64, text string) (*model.Comment, error) {
	content, err := ValidateComment(text)
	if err != nil {
		return nil, err
	}

	var c model.Comment
	if err := s.api.Post(ctx, placePath(placeID)+"/comments/", model.NewComment{Content: content}, &c); err != nil {
		return nil, s.fail("add_comment", msgAddComment, err)
	}
	return &c, nil
}

// UserPlaces は現在のユーザーが作成したスポットを返す。共有の一覧は変更しない。
func (s *Store) UserPlaces(ctx context.Context) ([]model.Place, error) {
	places, err := s.fetchList(ctx, pathMyPlaces)
	if err != nil {
		return nil, s.fail("user_places", msgUserPlaces, err)
	}
	return places, nil
}

// UserFavorites は現在のユーザーのお気に入りを返す。共有の一覧は変更しない。
func (s *Store) UserFavorites(ctx context.Context) ([]model.Place, error) {
	places, err := s.fetchList(ctx, pathMyFavorite)
	if err != nil {
		return nil, s.fail("user_favorites", msgUserFavorites, err)
	}
	return places, nil
}

// InitializeData はスポット・カテゴリ・新着・人気の4つを並行して取得する。
// 一部が失敗しても他の取得は最後まで行い、すべて終わってからloadingを下ろす。
// 失敗があった場合はそれらをまとめたエラーを返す。
func (s *Store) InitializeData(ctx context.Context) error {
	s.beginLoading()
	defer s.endLoading()

	fetches := []func(context.Context) error{
		func(ctx context.Context) error { return s.FetchPlaces(ctx, nil) },
		s.FetchCategories,
		s.FetchNewPlaces,
		s.FetchTopPlaces,
	}

	errs := make([]error, len(fetches))
	var wg sync.WaitGroup
	for i, fetch := range fetches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = fetch(ctx)
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		s.setErr(msgInitialize)
		s.logger.Error("failed to initialize data", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// Places はスポット一覧のコピーを返す。
func (s *Store) Places() []model.Place {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePlaces(s.places)
}

// Categories はカテゴリ一覧のコピーを返す。
func (s *Store) Categories() []model.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.categories)
}

// NewPlaces は新着フィードのコピーを返す。
func (s *Store) NewPlaces() []model.Place {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePlaces(s.newPlaces)
}

// TopPlaces は人気フィードのコピーを返す。
func (s *Store) TopPlaces() []model.Place {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePlaces(s.topPlaces)
}

// Place は一覧から指定IDのスポットを探す。
func (s *Store) Place(id int64) (model.Place, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.places {
		if p.ID == id {
			return clonePlace(p), true
		}
	}
	return model.Place{}, false
}

// Loading は通信中の操作が1つ以上あるかを返す。
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading > 0
}

// Err は直近に記録されたエラーメッセージを返す。
func (s *Store) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *Store) patchPlace(id int64, fn func(p *model.Place)) {
	s.mu.Lock()
	found := false
	for i := range s.places {
		if s.places[i].ID == id {
			fn(&s.places[i])
			found = true
		}
	}
	s.mu.Unlock()
	if found {
		s.publish(event.KindPlaces, id)
	}
}

func (s *Store) beginLoading() {
	s.mu.Lock()
	s.loading++
	changed := s.loading == 1
	s.mu.Unlock()
	if changed {
		s.publish(event.KindLoading, 0)
	}
}

func (s *Store) endLoading() {
	s.mu.Lock()
	s.loading--
	changed := s.loading == 0
	s.mu.Unlock()
	if changed {
		s.publish(event.KindLoading, 0)
	}
}

// fail はエラーを記録してそのまま返す。
func (s *Store) fail(op, msg string, err error) error {
	s.metrics.RecordStoreError(op)
	s.logger.Warn("place store operation failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	s.setErr(msg)
	return err
}

func (s *Store) setErr(msg string) {
	s.mu.Lock()
	s.err = msg
	s.mu.Unlock()
	if msg != "" {
		s.publish(event.KindError, 0)
	}
}

func (s *Store) publish(kind event.Kind, placeID int64) {
	s.events.Publish(event.Event{Kind: kind, PlaceID: placeID})
}

func placePath(id int64) string {
	return pathPlaces + strconv.FormatInt(id, 10)
}

// mergePlace はサーバーの応答をローカルの要素に重ねる。
// サーバーが返さないクライアント側の値（is_favorited、コメント）は残す。
func mergePlace(local, server model.Place) model.Place {
	merged := server
	if !server.IsFavorited {
		merged.IsFavorited = local.IsFavorited
	}
	if server.Comments == nil {
		merged.Comments = local.Comments
	}
	return merged
}

func clonePlace(p model.Place) model.Place {
	p.Categories = slices.Clone(p.Categories)
	p.OSMTags = cloneTags(p.OSMTags)
	if p.Comments != nil {
		comments := make([]model.Comment, len(p.Comments))
		for i, c := range p.Comments {
			if c.User != nil {
				u := *c.User
				c.User = &u
			}
			comments[i] = c
		}
		p.Comments = comments
	}
	return p
}

// cloneTags はOSMタグをネストしたオブジェクト・配列ごと複製する。
func cloneTags(tags map[string]any) map[string]any {
	if tags == nil {
		return nil
	}
	out := maps.Clone(tags)
	for k, v := range out {
		out[k] = cloneTagValue(v)
	}
	return out
}

func cloneTagValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneTags(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneTagValue(e)
		}
		return out
	default:
		return v
	}
}

func clonePlaces(src []model.Place) []model.Place {
	out := make([]model.Place, len(src))
	for i, p := range src {
		out[i] = clonePlace(p)
	}
	return out
}

// ValidateDraft はスポット作成の入力を検証する。
func ValidateDraft(d model.PlaceDraft) error {
	if err := validateFields(d.Name, d.Description, d.CategoryIDs); err != nil {
		return err
	}
	if math.IsNaN(d.Latitude) || d.Latitude < -90 || d.Latitude > 90 {
		return &model.ValidationError{Field: "latitude", Message: "緯度は-90から90の範囲で指定してください。"}
	}
	if math.IsNaN(d.Longitude) || d.Longitude < -180 || d.Longitude > 180 {
		return &model.ValidationError{Field: "longitude", Message: "経度は-180から180の範囲で指定してください。"}
	}
	return nil
}

// ValidatePatch はスポット更新の入力を検証する。
func ValidatePatch(p model.PlacePatch) error {
	return validateFields(p.Name, p.Description, p.CategoryIDs)
}

func validateFields(name, description string, categoryIDs []int64) error {
	switch {
	case strings.TrimSpace(name) == "":
		return &model.ValidationError{Field: "name", Message: "名前を入力してください。"}
	case strings.TrimSpace(description) == "":
		return &model.ValidationError{Field: "description", Message: "説明を入力してください。"}
	case len(categoryIDs) == 0:
		return &model.ValidationError{Field: "category_ids", Message: "カテゴリを1つ以上選択してください。"}
	}
	return nil
}

// ValidateComment はコメント本文を検証し、前後の空白を除いた本文を返す。
func ValidateComment(text string) (string, error) {
	content := strings.TrimSpace(text)
	if content == "" {
		return "", &model.ValidationError{Field: "content", Message: "コメントを入力してください。"}
	}
	if utf8.RuneCountInString(content) > MaxCommentLength {
		return "", &model.ValidationError{
			Field:   "content",
			Message: fmt.Sprintf("コメントは%d文字以内で入力してください。", MaxCommentLength),
		}
	}
	return content, nil
}

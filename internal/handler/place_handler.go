package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/campusmap/internal/model"
	"github.com/hitoshi/campusmap/internal/security"
)

// PlaceServiceInterface はスポットハンドラーが必要とするサービスインターフェース。
// place.Storeが満たす。
type PlaceServiceInterface interface {
	Places() []model.Place
	Categories() []model.Category
	NewPlaces() []model.Place
	TopPlaces() []model.Place
	Loading() bool
	Err() string

	FetchPlaces(ctx context.Context, categoryID *int64) error
	InitializeData(ctx context.Context) error
	FetchPlaceByID(ctx context.Context, id int64) (*model.Place, error)
	AddPlace(ctx context.Context, draft model.PlaceDraft) (*model.Place, error)
	UpdatePlace(ctx context.Context, id int64, patch model.PlacePatch) (*model.Place, error)
	DeletePlace(ctx context.Context, id int64) error
	LikePlace(ctx context.Context, id int64, isLike bool) error
	FavoritePlace(ctx context.Context, id int64) error
	AddComment(ctx context.Context, placeID int64, text string) (*model.Comment, error)
	UserPlaces(ctx context.Context) ([]model.Place, error)
	UserFavorites(ctx context.Context) ([]model.Place, error)
}

// PlaceHandler はスポット関連のHTTPハンドラー。
type PlaceHandler struct {
	service   PlaceServiceInterface
	sanitizer security.ContentSanitizer
	logger    *slog.Logger
}

// NewPlaceHandler はPlaceHandlerを生成する。sanitizerがnilの場合は既定のポリシーを使う。
func NewPlaceHandler(service PlaceServiceInterface, sanitizer security.ContentSanitizer, logger *slog.Logger) *PlaceHandler {
	if sanitizer == nil {
		sanitizer = security.NewContentSanitizer()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaceHandler{service: service, sanitizer: sanitizer, logger: logger}
}

// placesStateResponse は GET /state/places のレスポンス。
type placesStateResponse struct {
	Places  []model.Place `json:"places"`
	Loading bool          `json:"loading"`
	Error   string        `json:"error"`
}

// placeListResponse は一覧系エンドポイントのレスポンス。
type placeListResponse struct {
	Places []model.Place `json:"places"`
}

type categoryListResponse struct {
	Categories []model.Category `json:"categories"`
}

// State はスポット一覧と読み込み状態、最新のエラーメッセージを返す。
// GET /state/places
func (h *PlaceHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, placesStateResponse{
		Places:  security.SanitizePlaces(h.sanitizer, h.service.Places()),
		Loading: h.service.Loading(),
		Error:   h.service.Err(),
	})
}

// Categories はカテゴリ一覧を返す。
// GET /state/categories
func (h *PlaceHandler) Categories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, categoryListResponse{Categories: h.service.Categories()})
}

// NewFeed は新着フィードを返す。
// GET /state/feed/new
func (h *PlaceHandler) NewFeed(w http.ResponseWriter, r *http.Request) {
	h.writePlaces(w, http.StatusOK, h.service.NewPlaces())
}

// TopFeed は人気フィードを返す。
// GET /state/feed/top
func (h *PlaceHandler) TopFeed(w http.ResponseWriter, r *http.Request) {
	h.writePlaces(w, http.StatusOK, h.service.TopPlaces())
}

// Refresh はスポット一覧を再取得する。
// all=1 の場合はカテゴリ・フィードも含めて再取得し、category_id でカテゴリを絞り込める。
// POST /places/refresh
func (h *PlaceHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Get("all") == "1" {
		if err := h.service.InitializeData(r.Context()); err != nil {
			handleStoreError(w, r, h.logger, err)
			return
		}
		h.State(w, r)
		return
	}

	var categoryID *int64
	if raw := q.Get("category_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
				Code:     model.ErrCodeValidation,
				Message:  "category_id が不正です。",
				Category: "validation",
				Action:   "数値のカテゴリIDを指定してください。",
			})
			return
		}
		categoryID = &id
	}

	if err := h.service.FetchPlaces(r.Context(), categoryID); err != nil {
		handleStoreError(w, r, h.logger, err)
		return
	}
	h.State(w, r)
}

// GetPlace はスポット詳細を取得する。キャッシュ済み一覧は変更しない。
// GET /places/{id}
func (h *PlaceHandler) GetPlace(w http.ResponseWriter, r *http.Request) {
	id, ok := placeIDParam(w, r)
	if !ok {
		return
	}

	p, err := h.service.FetchPlaceByID(r.Context(), id)
	if err != nil {
		handleStoreError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, security.SanitizePlace(h.sanitizer, *p))
}

// CreatePlace はスポットを登録する。
// POST /places
func (h *PlaceHandler) CreatePlace(w http.ResponseWriter, r *http.Request) {
	var draft model.PlaceDraft
	if !decodeBody(w, r, &draft) {
		return
	}

	p, err := h.service.AddPlace(r.Context(), draft)
	if err != nil {
		handleStoreError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, security.SanitizePlace(h.sanitizer, *p))
}

// UpdatePlace はスポットを更新する。
// PUT /places/{id}
func (h *PlaceHandler) UpdatePlace(w http.ResponseWriter, r *http.Request) {
	id, ok := placeIDParam(w, r)
	if !ok {
		return
	}

	var patch model.PlacePatch
	if !decodeBody(w, r, &patch) {
		return
	}

	p, err := h.service.UpdatePlace(r.Context(), id, patch)
	if err != nil {
		handleStoreError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, security.SanitizePlace(h.sanitizer, *p))
}

// DeletePlace はスポットを削除する。
// DELETE /places/{id}
func (h *PlaceHandler) DeletePlace(w http.ResponseWriter, r *http.Request) {
	id, ok := placeIDParam(w, r)
	if !ok {
		return
	}

	if err := h.service.DeletePlace(r.Context(), id); err != nil {
		handleStoreError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Like はいいね/よくないねを投票する。
// 失敗した場合もローカルのカウンターは投票後の値のまま残る。
// POST /places/{id}/like
func (h *PlaceHandler) Like(w http.ResponseWriter, r *http.Request) {
	id, ok := placeIDParam(w, r)
	if !ok {
		return
	}

	var vote model.Vote
	if !decodeBody(w, r, &vote) {
		return
	}

	if err := h.service.LikePlace(r.Context(), id, vote.IsLike); err != nil {
		handleStoreError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Favorite はお気に入りに登録する。
// POST /places/{id}/favorite
func (h *PlaceHandler) Favorite(w http.ResponseWriter, r *http.Request) {
	id, ok := placeIDParam(w, r)
	if !ok {
		return
	}

	if err := h.service.FavoritePlace(r.Context(), id); err != nil {
		handleStoreError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AddComment はコメントを投稿する。
// POST /places/{id}/comments
func (h *PlaceHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	id, ok := placeIDParam(w, r)
	if !ok {
		return
	}

	var req model.NewComment
	if !decodeBody(w, r, &req) {
		return
	}

	c, err := h.service.AddComment(r.Context(), id, req.Content)
	if err != nil {
		handleStoreError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, security.SanitizeComment(h.sanitizer, *c))
}

// MyPlaces はログインユーザーが登録したスポットを返す。
// GET /me/places
func (h *PlaceHandler) MyPlaces(w http.ResponseWriter, r *http.Request) {
	places, err := h.service.UserPlaces(r.Context())
	if err != nil {
		handleStoreError(w, r, h.logger, err)
		return
	}
	h.writePlaces(w, http.StatusOK, places)
}

// MyFavorites はログインユーザーのお気に入りを返す。
// GET /me/favorites
func (h *PlaceHandler) MyFavorites(w http.ResponseWriter, r *http.Request) {
	places, err := h.service.UserFavorites(r.Context())
	if err != nil {
		handleStoreError(w, r, h.logger, err)
		return
	}
	h.writePlaces(w, http.StatusOK, places)
}

func (h *PlaceHandler) writePlaces(w http.ResponseWriter, statusCode int, places []model.Place) {
	writeJSON(w, statusCode, placeListResponse{Places: security.SanitizePlaces(h.sanitizer, places)})
}

// placeIDParam はURLパラメータ{id}を数値として取り出す。失敗時は400を書き込む。
func placeIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidPlaceIDError(raw))
		return 0, false
	}
	return id, true
}

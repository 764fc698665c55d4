// Package model はドメインモデルを定義する。
package model

import "time"

// Category はマップ全体で共有されるカテゴリ（表示名と色）を表す。
type Category struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Color     string     `json:"color"`
	Icon      string     `json:"icon,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// Place はユーザーが登録したスポットを表す。
// Comments は詳細取得（GET /api/places/{id}）の場合のみ埋められる。
type Place struct {
	ID            int64          `json:"id"`
	UserID        int64          `json:"user_id"`
	UserUsername  string         `json:"user_username,omitempty"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Latitude      float64        `json:"latitude"`
	Longitude     float64        `json:"longitude"`
	Categories    []Category     `json:"categories"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	LikeCount     int            `json:"like_count"`
	DislikeCount  int            `json:"dislike_count"`
	FavoriteCount int            `json:"favorite_count"`
	OSMID         string         `json:"osm_id,omitempty"`
	IsOSMImported bool           `json:"is_osm_imported"`
	OSMTags       map[string]any `json:"osm_tags,omitempty"`
	// IsFavorited はクライアント側だけで立てるフラグ。サーバーは返さない。
	IsFavorited bool      `json:"is_favorited,omitempty"`
	Comments    []Comment `json:"comments,omitempty"`
}

// CategoryIDs はPlaceに紐づくカテゴリIDの一覧を返す。
func (p *Place) CategoryIDs() []int64 {
	ids := make([]int64, 0, len(p.Categories))
	for _, c := range p.Categories {
		ids = append(ids, c.ID)
	}
	return ids
}

// Comment はスポットに対するコメント。クライアントからは追記のみ可能。
type Comment struct {
	ID        int64     `json:"id"`
	PlaceID   int64     `json:"place_id"`
	UserID    int64     `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	User      *User     `json:"user,omitempty"`
}

// PlaceDraft はスポット作成リクエストのボディ。
type PlaceDraft struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Latitude      float64        `json:"latitude"`
	Longitude     float64        `json:"longitude"`
	CategoryIDs   []int64        `json:"category_ids"`
	OSMID         string         `json:"osm_id,omitempty"`
	IsOSMImported bool           `json:"is_osm_imported,omitempty"`
	OSMTags       map[string]any `json:"osm_tags,omitempty"`
}

// PlacePatch はスポット更新（全置換）リクエストのボディ。
type PlacePatch struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	CategoryIDs []int64 `json:"category_ids"`
}

// Vote はいいね/よくないね投票のボディ。
type Vote struct {
	IsLike bool `json:"is_like"`
}

// NewComment はコメント投稿のボディ。
type NewComment struct {
	Content string `json:"content"`
}

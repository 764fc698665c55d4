package handler

import (
	"context"

	"github.com/hitoshi/campusmap/internal/model"
	"github.com/hitoshi/campusmap/internal/session"
)

// --- モック定義 ---

// mockSessionService はSessionServiceInterfaceのモック実装。
type mockSessionService struct {
	snapshot      session.Session
	authenticated bool
	identity      *model.User

	loginFn    func(ctx context.Context, username, password string) (*model.User, error)
	registerFn func(ctx context.Context, reg model.Registration) (*model.User, error)
	logoutFn   func(ctx context.Context) error
}

func (m *mockSessionService) Snapshot() session.Session { return m.snapshot }
func (m *mockSessionService) IsAuthenticated() bool     { return m.authenticated }
func (m *mockSessionService) Identity() *model.User     { return m.identity }

func (m *mockSessionService) Login(ctx context.Context, username, password string) (*model.User, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, username, password)
	}
	return &model.User{Username: username}, nil
}

func (m *mockSessionService) Register(ctx context.Context, reg model.Registration) (*model.User, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, reg)
	}
	return &model.User{Username: reg.Username, Email: reg.Email}, nil
}

func (m *mockSessionService) Logout(ctx context.Context) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx)
	}
	return nil
}

// mockPlaceService はPlaceServiceInterfaceのモック実装。
type mockPlaceService struct {
	places     []model.Place
	categories []model.Category
	newPlaces  []model.Place
	topPlaces  []model.Place
	loading    bool
	errMsg     string

	fetchPlacesFn    func(ctx context.Context, categoryID *int64) error
	initializeDataFn func(ctx context.Context) error
	fetchPlaceByIDFn func(ctx context.Context, id int64) (*model.Place, error)
	addPlaceFn       func(ctx context.Context, draft model.PlaceDraft) (*model.Place, error)
	updatePlaceFn    func(ctx context.Context, id int64, patch model.PlacePatch) (*model.Place, error)
	deletePlaceFn    func(ctx context.Context, id int64) error
	likePlaceFn      func(ctx context.Context, id int64, isLike bool) error
	favoritePlaceFn  func(ctx context.Context, id int64) error
	addCommentFn     func(ctx context.Context, placeID int64, text string) (*model.Comment, error)
	userPlacesFn     func(ctx context.Context) ([]model.Place, error)
	userFavoritesFn  func(ctx context.Context) ([]model.Place, error)
}

func (m *mockPlaceService) Places() []model.Place        { return m.places }
func (m *mockPlaceService) Categories() []model.Category { return m.categories }
func (m *mockPlaceService) NewPlaces() []model.Place     { return m.newPlaces }
func (m *mockPlaceService) TopPlaces() []model.Place     { return m.topPlaces }
func (m *mockPlaceService) Loading() bool                { return m.loading }
func (m *mockPlaceService) Err() string                  { return m.errMsg }

func (m *mockPlaceService) FetchPlaces(ctx context.Context, categoryID *int64) error {
	if m.fetchPlacesFn != nil {
		return m.fetchPlacesFn(ctx, categoryID)
	}
	return nil
}

func (m *mockPlaceService) InitializeData(ctx context.Context) error {
	if m.initializeDataFn != nil {
		return m.initializeDataFn(ctx)
	}
	return nil
}

func (m *mockPlaceService) FetchPlaceByID(ctx context.Context, id int64) (*model.Place, error) {
	if m.fetchPlaceByIDFn != nil {
		return m.fetchPlaceByIDFn(ctx, id)
	}
	return &model.Place{ID: id}, nil
}

func (m *mockPlaceService) AddPlace(ctx context.Context, draft model.PlaceDraft) (*model.Place, error) {
	if m.addPlaceFn != nil {
		return m.addPlaceFn(ctx, draft)
	}
	return &model.Place{ID: 1, Name: draft.Name}, nil
}

func (m *mockPlaceService) UpdatePlace(ctx context.Context, id int64, patch model.PlacePatch) (*model.Place, error) {
	if m.updatePlaceFn != nil {
		return m.updatePlaceFn(ctx, id, patch)
	}
	return &model.Place{ID: id, Name: patch.Name}, nil
}

func (m *mockPlaceService) DeletePlace(ctx context.Context, id int64) error {
	if m.deletePlaceFn != nil {
		return m.deletePlaceFn(ctx, id)
	}
	return nil
}

func (m *mockPlaceService) LikePlace(ctx context.Context, id int64, isLike bool) error {
	if m.likePlaceFn != nil {
		return m.likePlaceFn(ctx, id, isLike)
	}
	return nil
}

func (m *mockPlaceService) FavoritePlace(ctx context.Context, id int64) error {
	if m.favoritePlaceFn != nil {
		return m.favoritePlaceFn(ctx, id)
	}
	return nil
}

func (m *mockPlaceService) AddComment(ctx context.Context, placeID int64, text string) (*model.Comment, error) {
	if m.addCommentFn != nil {
		return m.addCommentFn(ctx, placeID, text)
	}
	return &model.Comment{ID: 1, PlaceID: placeID, Content: text}, nil
}

func (m *mockPlaceService) UserPlaces(ctx context.Context) ([]model.Place, error) {
	if m.userPlacesFn != nil {
		return m.userPlacesFn(ctx)
	}
	return nil, nil
}

func (m *mockPlaceService) UserFavorites(ctx context.Context) ([]model.Place, error) {
	if m.userFavoritesFn != nil {
		return m.userFavoritesFn(ctx)
	}
	return nil, nil
}

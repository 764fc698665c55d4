package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/campusmap/internal/middleware"
	"github.com/hitoshi/campusmap/internal/model"
)

// maxBodySize はリクエストボディの上限。
const maxBodySize = 1 << 20

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// decodeBody はJSONボディをデコードする。失敗時は400を書き込んでfalseを返す。
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidBodyError())
		return false
	}
	return true
}

// handleStoreError はストアから返されたエラーを適切なHTTPステータスコードに変換する。
//
//	ValidationError     → 400
//	AuthenticationError → 401
//	RegistrationError   → 400
//	RequestError        → middleware.WriteUpstreamError
func handleStoreError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var (
		validationErr *model.ValidationError
		authErr       *model.AuthenticationError
		regErr        *model.RegistrationError
		reqErr        *model.RequestError
	)

	switch {
	case errors.As(err, &validationErr):
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeValidation,
			Message:  validationErr.Message,
			Category: "validation",
			Action:   "入力内容を確認してください。",
		})
	case errors.As(err, &regErr):
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeRegistration,
			Message:  regErr.Reason,
			Category: "auth",
			Action:   "入力内容を確認して再度お試しください。",
		})
	case errors.As(err, &authErr):
		writeAPIErrorResponse(w, http.StatusUnauthorized, &model.APIError{
			Code:     model.ErrCodeAuthentication,
			Message:  "ユーザー名またはパスワードが正しくありません。",
			Category: "auth",
			Action:   "ユーザー名とパスワードを確認してください。",
		})
	case errors.As(err, &reqErr):
		writeRequestError(w, r, logger, reqErr)
	default:
		logger.Error("internal server error",
			slog.String("error", err.Error()),
			slog.String("username", middleware.UsernameFromContext(r.Context())),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
		middleware.WriteInternalServerError(w)
	}
}

func writeRequestError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, reqErr *model.RequestError) {
	if reqErr.Status < http.StatusBadRequest || reqErr.Status >= http.StatusInternalServerError {
		logger.Error("upstream request failed",
			slog.String("path", reqErr.Path),
			slog.Int("status", reqErr.Status),
			slog.String("error", reqErr.Error()),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
	}
	middleware.WriteUpstreamError(w, reqErr)
}

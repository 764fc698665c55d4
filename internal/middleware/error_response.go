package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/campusmap/internal/model"
)

// ErrorResponseBody はゲートウェイのエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse はapiErrを統一フォーマットで書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部エラーの汎用レスポンスを書き込む。詳細はログにのみ残す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// WriteUpstreamError はAPIサーバーへの呼び出しの失敗をゲートウェイの応答に変換する。
//
//	通信失敗（Status 0）       → 502 UPSTREAM_UNREACHABLE
//	2xx/3xx（応答が解釈不能） → 502 UPSTREAM_ERROR
//	401                        → 401 UNAUTHORIZED
//	404                        → 404 PLACE_NOT_FOUND
//	その他                     → APIのステータスのまま UPSTREAM_ERROR
func WriteUpstreamError(w http.ResponseWriter, reqErr *model.RequestError) {
	status, apiErr := upstreamError(reqErr)
	WriteErrorResponse(w, status, apiErr)
}

func upstreamError(reqErr *model.RequestError) (int, *model.APIError) {
	switch {
	case reqErr.Status == 0:
		return http.StatusBadGateway, &model.APIError{
			Code:     model.ErrCodeUpstreamUnreachable,
			Message:  "APIサーバーに接続できません。",
			Category: "upstream",
			Action:   "しばらく待ってから再度お試しください。",
		}
	case reqErr.Status < http.StatusBadRequest:
		return http.StatusBadGateway, &model.APIError{
			Code:     model.ErrCodeUpstream,
			Message:  "APIサーバーから不正な応答を受信しました。",
			Category: "upstream",
			Action:   "しばらく待ってから再度お試しください。",
		}
	case reqErr.Status == http.StatusUnauthorized:
		return http.StatusUnauthorized, model.NewUnauthorizedError()
	case reqErr.Status == http.StatusNotFound:
		return http.StatusNotFound, &model.APIError{
			Code:     model.ErrCodePlaceNotFound,
			Message:  serverMessageOr(reqErr, "対象が見つかりません。"),
			Category: "place",
			Action:   "一覧を更新してください。",
		}
	default:
		return reqErr.Status, &model.APIError{
			Code:     model.ErrCodeUpstream,
			Message:  serverMessageOr(reqErr, "APIサーバーでエラーが発生しました。"),
			Category: "upstream",
			Action:   "しばらく待ってから再度お試しください。",
		}
	}
}

func serverMessageOr(reqErr *model.RequestError, fallback string) string {
	if reqErr.Message != "" {
		return reqErr.Message
	}
	return fallback
}

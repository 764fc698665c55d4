// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError はゲートウェイが返す統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, place, upstream, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeValidation          = "VALIDATION_FAILED"
	ErrCodeAuthentication      = "AUTHENTICATION_FAILED"
	ErrCodeRegistration        = "REGISTRATION_FAILED"
	ErrCodeUpstream            = "UPSTREAM_ERROR"
	ErrCodeUpstreamUnreachable = "UPSTREAM_UNREACHABLE"
	ErrCodePlaceNotFound       = "PLACE_NOT_FOUND"
	ErrCodeInvalidPlaceID      = "INVALID_PLACE_ID"
	ErrCodeInvalidBody         = "INVALID_BODY"
)

// NewUnauthorizedError はログインが必要な操作を未認証で呼び出した場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidPlaceIDError は数値でないスポットIDが指定された場合のエラーを生成する。
func NewInvalidPlaceIDError(raw string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPlaceID,
		Message:  fmt.Sprintf("無効なスポットIDです: %s", raw),
		Category: "validation",
		Action:   "スポットIDを確認してください。",
	}
}

// NewInvalidBodyError はリクエストボディが解析できない場合のエラーを生成する。
func NewInvalidBodyError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidBody,
		Message:  "リクエストボディが不正です。",
		Category: "validation",
		Action:   "JSON形式で送信してください。",
	}
}

// AuthenticationError はユーザー名またはパスワードが拒否されたことを表す。
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	if e.Err == nil {
		return "authentication failed"
	}
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// RegistrationError はアカウント作成が拒否されたことを表す。
// Reason はサーバーが返した理由（detail）で、ない場合は汎用メッセージになる。
type RegistrationError struct {
	Reason string
	Err    error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("registration failed: %s", e.Reason)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// RequestError はHTTP通信の失敗またはエラーステータスを表す。
// 通信自体が失敗した場合 Status は0になる。
type RequestError struct {
	Method  string
	Path    string
	Status  int
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
}

func (e *RequestError) Unwrap() error { return e.Err }

// IsUnauthorized はerrが401応答を表すRequestErrorかどうかを返す。
func IsUnauthorized(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.Status == http.StatusUnauthorized
}

// ValidationError はネットワーク呼び出し前にクライアント側で検出した入力エラー。
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

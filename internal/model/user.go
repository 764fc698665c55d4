// Package model はドメインモデルを定義する。
package model

import "time"

// User はAPIが返す認証済みユーザーのプロフィールを表す。
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// Registration はアカウント作成リクエストのボディ。
// 作成成功後、同じ資格情報でそのままログインに使用される。
type Registration struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Credentials はトークン取得エンドポイントに送るユーザー名とパスワード。
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Token はトークン取得エンドポイントのレスポンス。
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User はバックエンドが保持する利用者レコードを表す。
// このサービスは画面の生存期間を超えてキャッシュしない。
type User struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Email      string          `json:"email"`
	NetAmount  decimal.Decimal `json:"net_amount"`
	PersonalID string          `json:"personal_id,omitempty"`

	// PasswordOrSecret はバックエンドの pass フィールド。
	// Googleで作成したユーザーはsubject IDが入る。クライアントには返さない。
	PasswordOrSecret string `json:"-"`

	// GoogleSubjectID はバックエンドの gmail_token フィールド。未連携ならnil。
	GoogleSubjectID *string `json:"-"`
}

// HasGoogleSubject はGoogle subject IDが紐付いているかを返す。
func (u *User) HasGoogleSubject() bool {
	return u.GoogleSubjectID != nil && *u.GoogleSubjectID != ""
}

// Session はユーザーのログインセッションを表す。
// バックエンドのユーザーを特定するための最小限の情報のみを保持する。
type Session struct {
	ID        string
	UserID    string
	Email     string
	Name      string
	ExpiresAt time.Time
	CreatedAt time.Time
}

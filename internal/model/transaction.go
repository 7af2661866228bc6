package model

import "github.com/shopspring/decimal"

// Transaction はバックエンドから取得する入出金1件を表す。
type Transaction struct {
	ID          string          `json:"id"`
	Category    string          `json:"category"`
	Subcategory string          `json:"subcategory"`
	Amount      decimal.Decimal `json:"amount"`
	IsIncome    bool            `json:"is_income"`
	Date        string          `json:"date"`
	Time        string          `json:"time"`
	Description string          `json:"description,omitempty"`
	WalletID    string          `json:"wallet_id"`
	ReceiptURL  string          `json:"receipt_url,omitempty"`
}

// SpendingTrend は日付ごとの収入と支出の合計。
type SpendingTrend struct {
	Date    string          `json:"date"`
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
}

// SetupItem はホーム画面の初期設定項目。
type SetupItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	IsCompleted bool   `json:"is_completed"`
	ActionURL   string `json:"action_url,omitempty"`
}

// ConnectedPhone はWhatsApp連携済みの電話番号。
type ConnectedPhone struct {
	Number string `json:"number"`
	UserID string `json:"user_id"`
}

// GmailAccount は連携済みのGmailアカウント。
type GmailAccount struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	UserID       string `json:"user_id"`
	Name         string `json:"name"`
	RefreshToken string `json:"-"`
}

// Package permission は連携権限（WhatsApp・メール・SMS）の接続状況を提供する。
package permission

import (
	"context"
	"log/slog"

	"github.com/hitoshi/walletgate/internal/model"
)

// 権限の種類
const (
	KindWhatsApp = "whatsapp"
	KindEmail    = "email"
	KindSMS      = "sms"
)

// Permission は1つの連携権限とその接続状況。
type Permission struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Action      string `json:"action"`
	IsConnected bool   `json:"isConnected"`
}

// catalog は表示順に並べた権限の一覧。
var catalog = []Permission{
	{
		ID:          "1",
		Kind:        KindWhatsApp,
		Name:        "WhatsApp",
		Title:       "WhatsApp Integration",
		Description: "Maintain Records of your transactions through WhatsApp.",
		Action:      "Connect WhatsApp",
	},
	{
		ID:          "2",
		Kind:        KindEmail,
		Name:        "Email",
		Title:       "Email Integration",
		Description: "Import bank emails and receive detailed financial reports.",
		Action:      "Connect Email",
	},
	{
		ID:          "3",
		Kind:        KindSMS,
		Name:        "SMS",
		Title:       "SMS Permissions",
		Description: "Allow the app to send SMS alerts and notifications.",
		Action:      "Grant SMS Permissions",
	},
}

// Backend は接続状況の確認に必要なバックエンド操作。
type Backend interface {
	ConnectedWhatsAppPhones(ctx context.Context, userID string) ([]model.ConnectedPhone, error)
	ConnectedGmailAccounts(ctx context.Context, userID string) ([]model.GmailAccount, error)
}

// Service は権限一覧を組み立てる。
type Service struct {
	backend Backend
	logger  *slog.Logger
}

// NewService はServiceを生成する。
func NewService(b Backend, logger *slog.Logger) *Service {
	return &Service{backend: b, logger: logger}
}

// List はユーザーの権限一覧を返す。
// 接続状況の取得に失敗した項目は未接続として扱い、画面全体は失敗させない。
// SMSはサーバー側で管理しないため常に未接続。
func (s *Service) List(ctx context.Context, userID string) []Permission {
	out := make([]Permission, len(catalog))
	copy(out, catalog)

	for i := range out {
		switch out[i].Kind {
		case KindWhatsApp:
			phones, err := s.backend.ConnectedWhatsAppPhones(ctx, userID)
			if err != nil {
				s.logger.Warn("whatsapp status unavailable", slog.String("user_id", userID), slog.String("error", err.Error()))
				continue
			}
			out[i].IsConnected = len(phones) > 0
		case KindEmail:
			accounts, err := s.backend.ConnectedGmailAccounts(ctx, userID)
			if err != nil {
				s.logger.Warn("gmail status unavailable", slog.String("user_id", userID), slog.String("error", err.Error()))
				continue
			}
			out[i].IsConnected = len(accounts) > 0
		}
	}
	return out
}

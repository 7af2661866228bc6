// Package gmail はGmailアカウントの連携を提供する。
package gmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/walletgate/internal/auth"
	"github.com/hitoshi/walletgate/internal/backend"
	"github.com/hitoshi/walletgate/internal/model"
)

// ErrRefreshTokenMissing はバックエンドがリフレッシュトークンを返さなかったことを示す。
var ErrRefreshTokenMissing = errors.New("gmail: refresh token missing from google auth response")

// Backend はGmail連携に必要なバックエンド操作。
type Backend interface {
	GoogleAuth(ctx context.Context, req backend.GoogleAuthRequest) (*backend.GoogleAuthTokens, error)
	StoreGmailAccount(ctx context.Context, acc backend.GmailAccountTokens) error
	ConnectedGmailAccounts(ctx context.Context, userID string) ([]model.GmailAccount, error)
	UpdateGmailTokens(ctx context.Context, acc backend.GmailAccountTokens) error
	DeleteGmailAccount(ctx context.Context, accID string) error
}

// Service はGmailアカウントの連携・一覧・更新・解除を行う。
type Service struct {
	backend Backend
	logger  *slog.Logger
}

// NewService はServiceを生成する。
func NewService(b Backend, logger *slog.Logger) *Service {
	return &Service{backend: b, logger: logger}
}

// Link はgmail.readonlyスコープでGoogleにサインインし、得られたアカウントをユーザーに連携する。
// control は多重実行を防ぐ。サーバー認可コードはバックエンドで交換され、
// サインイン時に交換済みの場合はそのトークンをそのまま保存する。
// リフレッシュトークンが得られない場合は連携しない。
func (s *Service) Link(ctx context.Context, control *auth.SignInControl, grant auth.Grant, userID string) (*model.GmailAccount, error) {
	var linked *model.GmailAccount
	err := control.Run(ctx, grant, func(ctx context.Context, id *model.ExternalIdentity) error {
		if id == nil || !id.HasTokens() {
			return auth.ErrMissingTokens
		}

		name := id.DisplayName
		if name == "" {
			name = "Unknown User"
		}
		tokens, err := s.tokens(ctx, id, name)
		if err != nil {
			return err
		}
		if tokens.RefreshToken == "" {
			return ErrRefreshTokenMissing
		}

		if err := s.backend.StoreGmailAccount(ctx, backend.GmailAccountTokens{
			AccountID:    id.Email,
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
			UserID:       userID,
		}); err != nil {
			return fmt.Errorf("store gmail account: %w", err)
		}

		linked = &model.GmailAccount{Email: id.Email, UserID: userID, Name: name}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("gmail account linked", slog.String("user_id", userID))
	return linked, nil
}

// tokens はアカウントのアクセストークンとリフレッシュトークンを得る。
// 認可コードが未交換ならバックエンドの /auth/google で交換する。
func (s *Service) tokens(ctx context.Context, id *model.ExternalIdentity, name string) (*backend.GoogleAuthTokens, error) {
	if id.ServerAuthCode == "" && id.Redeemed() {
		return &backend.GoogleAuthTokens{AccessToken: id.AccessToken, RefreshToken: id.RefreshToken}, nil
	}
	tokens, err := s.backend.GoogleAuth(ctx, backend.GoogleAuthRequest{
		IDToken:        id.IDToken,
		ServerAuthCode: id.ServerAuthCode,
		User:           backend.GoogleUserInfo{ID: id.SubjectID, Email: id.Email, Name: name},
		Scopes:         id.Scopes,
	})
	if err != nil {
		return nil, fmt.Errorf("google auth: %w", err)
	}
	return tokens, nil
}

// Accounts はユーザーに連携済みのGmailアカウントを返す。
// 名前が無いアカウントはメールアドレスのローカル部を名前とする。
func (s *Service) Accounts(ctx context.Context, userID string) ([]model.GmailAccount, error) {
	accounts, err := s.backend.ConnectedGmailAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list gmail accounts: %w", err)
	}
	for i := range accounts {
		if accounts[i].Name == "" {
			accounts[i].Name = localPart(accounts[i].Email)
		}
	}
	return accounts, nil
}

// UpdateTokens はユーザーに連携済みのアカウントのトークンを更新する。
func (s *Service) UpdateTokens(ctx context.Context, userID, accID, accessToken, refreshToken string) error {
	if err := s.ensureOwned(ctx, userID, accID); err != nil {
		return err
	}
	return s.backend.UpdateGmailTokens(ctx, backend.GmailAccountTokens{
		AccountID:    accID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}

// Delete はユーザーに連携済みのアカウントの連携を解除する。
func (s *Service) Delete(ctx context.Context, userID, accID string) error {
	if err := s.ensureOwned(ctx, userID, accID); err != nil {
		return err
	}
	if err := s.backend.DeleteGmailAccount(ctx, accID); err != nil {
		return fmt.Errorf("delete gmail account: %w", err)
	}
	s.logger.Info("gmail account deleted", slog.String("user_id", userID), slog.String("acc_id", accID))
	return nil
}

// ensureOwned は accID がユーザーの連携済みアカウントかを確認する。
// バックエンドの更新・削除は acc_id しか受け取らないため、所有者の確認はここで行う。
func (s *Service) ensureOwned(ctx context.Context, userID, accID string) error {
	if accID == "" {
		return model.NewValidationError("acc_id", "Account ID is required.")
	}
	accounts, err := s.backend.ConnectedGmailAccounts(ctx, userID)
	if err != nil {
		return fmt.Errorf("list gmail accounts: %w", err)
	}
	for _, a := range accounts {
		if a.Email == accID {
			return nil
		}
	}
	s.logger.Warn("gmail account not owned by user", slog.String("user_id", userID), slog.String("acc_id", accID))
	return model.NewAccountNotFoundError()
}

func localPart(email string) string {
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return email[:i]
	}
	return email
}

var _ Backend = (*backend.Client)(nil)

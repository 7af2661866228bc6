// Package auth はGoogleサインイン、アイデンティティ解決、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/walletgate/internal/model"
	"github.com/hitoshi/walletgate/internal/repository"
)

// ErrSessionNotFound はセッションが存在しないか期限切れであることを示す。
var ErrSessionNotFound = errors.New("auth: session not found or expired")

// UserLookup は現在のユーザーをバックエンドから取得する。
type UserLookup interface {
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service はサインイン完了後のセッションに関するビジネスロジックを提供する。
type Service struct {
	resolver    *Resolver
	users       UserLookup
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	resolver *Resolver,
	users UserLookup,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		resolver:    resolver,
		users:       users,
		sessionRepo: sessionRepo,
		config:      config,
		now:         time.Now,
	}
}

// SignInWithGoogle は control でサインインしてユーザーを特定し、成功時はセッションを発行する。
// 解決に失敗した場合はセッションを発行せず Outcome に失敗を格納して返す。
func (s *Service) SignInWithGoogle(ctx context.Context, control *SignInControl, grant Grant) (Outcome, *model.Session, error) {
	outcome, err := control.Trigger(ctx, grant, s.resolver)
	if err != nil {
		return Outcome{}, nil, err
	}
	if !outcome.OK() {
		return outcome, nil, nil
	}

	session, err := s.CreateSession(ctx, outcome.Result.User)
	if err != nil {
		return Outcome{}, nil, fmt.Errorf("failed to create session: %w", err)
	}
	return outcome, session, nil
}

// CreateSession はユーザーのセッションを作成し永続化する。
func (s *Service) CreateSession(ctx context.Context, user *model.User) (*model.Session, error) {
	if user == nil || user.ID == "" {
		return nil, errors.New("user is required")
	}

	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	slog.Info("session created", slog.String("user_id", user.ID))
	return session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// FindSession はセッションを取得する。存在しないか期限切れの場合は nil を返す。
func (s *Service) FindSession(ctx context.Context, sessionID string) (*model.Session, error) {
	return s.sessionRepo.FindByID(ctx, sessionID)
}

// GetCurrentUser はセッションから現在のユーザーをバックエンドで取得し直す。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	user, err := s.users.FindUserByEmail(ctx, session.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user not found")
	}

	return user, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

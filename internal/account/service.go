// Package account はメールアドレスによるサインアップ・ログイン・パスワード再設定を提供する。
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/walletgate/internal/backend"
	"github.com/hitoshi/walletgate/internal/model"
	"github.com/hitoshi/walletgate/internal/otp"
)

// Backend はアカウント操作に必要なバックエンド操作。
type Backend interface {
	otp.EmailBackend
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
	GenerateUUID(ctx context.Context) (string, error)
	CreateUser(ctx context.Context, u *model.User) error
	AuthenticateEmail(ctx context.Context, email, password string) (*backend.EmailAuthResult, error)
	ChangePassword(ctx context.Context, email, newPassword string) error
}

// Service はサインアップ・ログイン・パスワード再設定のビジネスロジックを提供する。
type Service struct {
	backend  Backend
	logger   *slog.Logger
	validate *validator.Validate
	opts     []otp.Option
}

// NewService はServiceを生成する。opts はメールOTPのチャレンジに渡される。
func NewService(b Backend, logger *slog.Logger, opts ...otp.Option) *Service {
	return &Service{
		backend:  b,
		logger:   logger,
		validate: newValidator(),
		opts:     opts,
	}
}

func (s *Service) newChallenge(email string) *otp.Challenge {
	return otp.NewChallenge(otp.ChannelEmail, email, email,
		otp.NewEmailSender(s.backend), otp.NewEmailVerifier(s.backend), s.opts...)
}

// Signup は入力済みのサインアップフォームとメール確認の状態。
type Signup struct {
	form      SignupForm
	challenge *otp.Challenge
}

// Email は確認中のメールアドレスを返す。
func (p *Signup) Email() string { return p.form.Email }

// Challenge はメールOTPのチャレンジを返す。
func (p *Signup) Challenge() *otp.Challenge { return p.challenge }

// StartSignup はフォームを検証し、未登録のメールアドレスであればOTPを送信する。
// 検証エラーはバックエンドに問い合わせずに返す。
func (s *Service) StartSignup(ctx context.Context, form SignupForm) (*Signup, error) {
	form.Name = strings.TrimSpace(form.Name)
	form.Email = strings.TrimSpace(form.Email)
	if err := s.validateForm(form); err != nil {
		return nil, err
	}

	existing, err := s.backend.FindUserByEmail(ctx, form.Email)
	if err != nil {
		return nil, fmt.Errorf("check existing user: %w", err)
	}
	if existing != nil {
		return nil, model.NewUserExistsError()
	}

	signup := &Signup{form: form, challenge: s.newChallenge(form.Email)}
	if err := signup.challenge.Send(ctx); err != nil {
		return nil, err
	}
	return signup, nil
}

// CompleteSignup はOTPを検証し、成功すればユーザーを作成して正規のレコードを返す。
func (s *Service) CompleteSignup(ctx context.Context, signup *Signup, code string) (*model.User, error) {
	if _, err := signup.challenge.Verify(ctx, code); err != nil {
		return nil, err
	}

	id, err := s.backend.GenerateUUID(ctx)
	if err != nil {
		return nil, fmt.Errorf("generate uuid: %w", err)
	}
	if err := s.backend.CreateUser(ctx, &model.User{
		ID:               id,
		Name:             signup.form.Name,
		Email:            signup.form.Email,
		NetAmount:        decimal.Zero,
		PasswordOrSecret: signup.form.Password,
	}); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	user, err := s.backend.FindUserByEmail(ctx, signup.form.Email)
	if err != nil {
		return nil, fmt.Errorf("refetch created user: %w", err)
	}
	if user == nil {
		return nil, errors.New("created user not found")
	}

	s.logger.Info("user signed up", slog.String("user_id", user.ID))
	return user, nil
}

// Login はメールアドレスとパスワードで認証する。
func (s *Service) Login(ctx context.Context, form LoginForm) (*model.User, error) {
	form.Email = strings.TrimSpace(form.Email)
	if err := s.validateForm(form); err != nil {
		return nil, err
	}

	res, err := s.backend.AuthenticateEmail(ctx, form.Email, form.Password)
	if err != nil {
		var he *backend.HTTPError
		if errors.As(err, &he) && he.Status >= 400 && he.Status < 500 && he.Status != http.StatusTooManyRequests {
			return nil, model.NewInvalidCredentialsError()
		}
		return nil, fmt.Errorf("authenticate email: %w", err)
	}
	if !res.Exists || res.User == nil {
		return nil, model.NewUserNotFoundError()
	}

	s.logger.Info("user logged in with email", slog.String("user_id", res.User.ID))
	return res.User, nil
}

// Reset はパスワード再設定の状態。OTP検証に成功するまでパスワードは変更できない。
type Reset struct {
	email     string
	challenge *otp.Challenge

	mu       sync.Mutex
	verified bool
}

// Email は再設定対象のメールアドレスを返す。
func (r *Reset) Email() string { return r.email }

// Challenge はメールOTPのチャレンジを返す。
func (r *Reset) Challenge() *otp.Challenge { return r.challenge }

// Verified はOTP検証済みかを返す。
func (r *Reset) Verified() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.verified
}

// StartReset は登録済みのメールアドレスにOTPを送信する。
func (s *Service) StartReset(ctx context.Context, form ResetForm) (*Reset, error) {
	form.Email = strings.TrimSpace(form.Email)
	if err := s.validateForm(form); err != nil {
		return nil, err
	}

	user, err := s.backend.FindUserByEmail(ctx, form.Email)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	reset := &Reset{email: form.Email, challenge: s.newChallenge(form.Email)}
	if err := reset.challenge.Send(ctx); err != nil {
		return nil, err
	}
	return reset, nil
}

// VerifyReset はOTPを検証し、パスワード変更を許可する。
func (s *Service) VerifyReset(ctx context.Context, reset *Reset, code string) error {
	if _, err := reset.challenge.Verify(ctx, code); err != nil {
		return err
	}
	reset.mu.Lock()
	reset.verified = true
	reset.mu.Unlock()
	return nil
}

// ChangePassword は検証済みの再設定でパスワードを変更する。変更後は再設定を無効にする。
func (s *Service) ChangePassword(ctx context.Context, reset *Reset, form PasswordChangeForm) error {
	if !reset.Verified() {
		return model.NewNotVerifiedError()
	}
	if err := s.validateForm(form); err != nil {
		return err
	}

	if err := s.backend.ChangePassword(ctx, reset.email, form.Password); err != nil {
		return fmt.Errorf("change password: %w", err)
	}

	reset.mu.Lock()
	reset.verified = false
	reset.mu.Unlock()

	s.logger.Info("password changed")
	return nil
}

var _ Backend = (*backend.Client)(nil)

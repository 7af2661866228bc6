package otp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hitoshi/walletgate/internal/backend"
	"github.com/hitoshi/walletgate/internal/model"
)

// EmailBackend はメールOTPに必要なバックエンド操作。
type EmailBackend interface {
	RequestOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, code string) (*backend.OTPVerification, error)
}

// EmailSender はメールアドレス宛にOTPを送る。
type EmailSender struct {
	backend EmailBackend
}

// NewEmailSender はEmailSenderを生成する。
func NewEmailSender(b EmailBackend) *EmailSender {
	return &EmailSender{backend: b}
}

// Send はSenderインターフェースを実装する。
func (s *EmailSender) Send(ctx context.Context, destination, _ string) error {
	return s.backend.RequestOTP(ctx, destination)
}

// EmailVerifier はメールアドレスに紐付くOTPを検証する。
// WhatsAppで送ったコードもメールアドレスで検証される。
type EmailVerifier struct {
	backend EmailBackend
}

// NewEmailVerifier はEmailVerifierを生成する。
func NewEmailVerifier(b EmailBackend) *EmailVerifier {
	return &EmailVerifier{backend: b}
}

// Verify はVerifierインターフェースを実装する。
// バックエンドの4xx応答（429を除く）はコード不一致として扱う。
func (v *EmailVerifier) Verify(ctx context.Context, identity, code string) (*model.User, error) {
	res, err := v.backend.VerifyOTP(ctx, identity, code)
	if err != nil {
		var he *backend.HTTPError
		if errors.As(err, &he) && he.Status >= 400 && he.Status < 500 && he.Status != http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCode, he.Body)
		}
		return nil, err
	}
	if !res.Success {
		return nil, ErrInvalidCode
	}
	return res.User, nil
}

var (
	_ Sender   = (*EmailSender)(nil)
	_ Verifier = (*EmailVerifier)(nil)
)

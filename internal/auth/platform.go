package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/hitoshi/walletgate/internal/model"
)

// Grant はクライアントから受け取ったOAuthサインインの結果。
// ネイティブSDKは IDToken と ServerAuthCode を、Webのリダイレクトフローは Code を渡す。
type Grant struct {
	Code           string   `json:"code,omitempty"`
	IDToken        string   `json:"idToken,omitempty"`
	ServerAuthCode string   `json:"serverAuthCode,omitempty"`
	Scopes         []string `json:"scopes,omitempty"`
	// Error はリダイレクトフローでIdPが返した error パラメータ。
	Error string `json:"error,omitempty"`
}

// Platform はOAuthプロバイダーのインターフェース。
type Platform interface {
	// SignOut はキャッシュされたプロバイダーのセッションを破棄する。
	SignOut(ctx context.Context) error
	// CheckAvailable はプロバイダーが利用可能かを確認する。
	CheckAvailable(ctx context.Context) error
	// SignIn はグラントを検証し外部アイデンティティを返す。
	SignIn(ctx context.Context, grant Grant) (*model.ExternalIdentity, error)
}

// PlatformErrorCode はプロバイダーエラーの種別。
type PlatformErrorCode string

const (
	CodeCancelled           PlatformErrorCode = "cancelled"
	CodeInProgress          PlatformErrorCode = "in_progress"
	CodeServicesUnavailable PlatformErrorCode = "services_unavailable"
	CodeDeveloperError      PlatformErrorCode = "developer_error"
	CodeNetwork             PlatformErrorCode = "network"
	CodeUnknown             PlatformErrorCode = "unknown"
)

// PlatformError はOAuthプロバイダーで発生したエラー。
type PlatformError struct {
	Code PlatformErrorCode
	Err  error
}

// Error はerrorインターフェースを実装する。
func (e *PlatformError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("platform %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("platform %s", e.Code)
}

// Unwrap は元のエラーを返す。
func (e *PlatformError) Unwrap() error {
	return e.Err
}

// APIError はエラー種別ごとのユーザー向けエラーを返す。
func (e *PlatformError) APIError() *model.APIError {
	switch e.Code {
	case CodeCancelled:
		return &model.APIError{
			Code:     model.ErrCodeSignInCancelled,
			Message:  "Sign in cancelled",
			Category: "auth",
			Action:   "Sign in again when you are ready.",
		}
	case CodeInProgress:
		return model.NewSignInInProgressError()
	case CodeServicesUnavailable:
		return &model.APIError{
			Code:     model.ErrCodeServicesUnavailable,
			Message:  "Google services not available",
			Category: "integration",
			Action:   "Please try again later.",
		}
	case CodeDeveloperError:
		return &model.APIError{
			Code:     model.ErrCodeDeveloperError,
			Message:  "Developer Error",
			Category: "system",
			Action:   "Please check your Google Sign-In configuration.",
		}
	case CodeNetwork:
		return &model.APIError{
			Code:     model.ErrCodeNetworkError,
			Message:  "Network Error",
			Category: "integration",
			Action:   "Please check your internet connection and try again.",
		}
	}
	return &model.APIError{
		Code:     model.ErrCodeBackendFailure,
		Message:  "Something went wrong",
		Category: "system",
		Action:   "Please try again.",
	}
}

// AsPlatformError は err から *PlatformError を取り出す。
func AsPlatformError(err error) (*PlatformError, bool) {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

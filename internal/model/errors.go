// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, integration, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation          = "VALIDATION_FAILED"
	ErrCodeUserExists          = "USER_EXISTS"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeMissingTokens       = "MISSING_TOKENS"
	ErrCodeSignInInProgress    = "SIGN_IN_IN_PROGRESS"
	ErrCodeSignInCancelled     = "SIGN_IN_CANCELLED"
	ErrCodeServicesUnavailable = "SERVICES_UNAVAILABLE"
	ErrCodeDeveloperError      = "DEVELOPER_ERROR"
	ErrCodeNetworkError        = "NETWORK_ERROR"
	ErrCodeOTPIncomplete       = "OTP_INCOMPLETE"
	ErrCodeOTPInvalid          = "OTP_INVALID"
	ErrCodeOTPCooldown         = "OTP_COOLDOWN"
	ErrCodeOTPNotRequested     = "OTP_NOT_REQUESTED"
	ErrCodeNotVerified         = "NOT_VERIFIED"
	ErrCodeInvalidPhone        = "INVALID_PHONE"
	ErrCodeRefreshTokenMissing = "REFRESH_TOKEN_MISSING"
	ErrCodeBackendFailure      = "BACKEND_FAILURE"
	ErrCodeFlowNotFound        = "FLOW_NOT_FOUND"
	ErrCodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
)

// NewValidationError は入力検証エラーを生成する。
// ネットワーク呼び出し前に検出されたものに使う。
func NewValidationError(field, message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   fmt.Sprintf("Please check the %s field and try again.", field),
	}
}

// NewUserExistsError は既存アカウントとの重複エラーを生成する。
func NewUserExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeUserExists,
		Message:  "An account with this email already exists.",
		Category: "auth",
		Action:   "Please sign in instead.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found.",
		Category: "auth",
		Action:   "Please sign up first.",
	}
}

// NewInvalidCredentialsError はメール・パスワード認証の失敗エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid email or password.",
		Category: "auth",
		Action:   "Please try again.",
	}
}

// NewMissingTokensError はIDトークンまたはサーバー認可コードの欠落エラーを生成する。
func NewMissingTokensError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingTokens,
		Message:  "Could not get ID token or server auth code.",
		Category: "auth",
		Action:   "Please sign in with Google again.",
	}
}

// NewSignInInProgressError は多重サインインの拒否エラーを生成する。
func NewSignInInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeSignInInProgress,
		Message:  "Sign in in progress.",
		Category: "auth",
		Action:   "Please wait for the current sign in to finish.",
	}
}

// NewOTPIncompleteError は6桁未満のOTP入力エラーを生成する。
func NewOTPIncompleteError() *APIError {
	return &APIError{
		Code:     ErrCodeOTPIncomplete,
		Message:  "Please enter the complete 6-digit OTP.",
		Category: "validation",
		Action:   "Enter all six digits of the code you received.",
	}
}

// NewOTPInvalidError はOTP検証失敗エラーを生成する。
func NewOTPInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeOTPInvalid,
		Message:  "Invalid OTP. Please try again.",
		Category: "auth",
		Action:   "Check the code or request a new one.",
	}
}

// NewOTPCooldownError は再送クールダウン中のエラーを生成する。
func NewOTPCooldownError(remaining int) *APIError {
	return &APIError{
		Code:     ErrCodeOTPCooldown,
		Message:  fmt.Sprintf("Resend available in %ds.", remaining),
		Category: "validation",
		Action:   "Please wait before requesting another code.",
	}
}

// NewOTPNotRequestedError はOTP未送信のまま検証しようとした場合のエラーを生成する。
func NewOTPNotRequestedError() *APIError {
	return &APIError{
		Code:     ErrCodeOTPNotRequested,
		Message:  "No verification code has been requested.",
		Category: "validation",
		Action:   "Request a code first.",
	}
}

// NewNotVerifiedError は検証前の操作を拒否するエラーを生成する。
func NewNotVerifiedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotVerified,
		Message:  "Verification is required before this step.",
		Category: "auth",
		Action:   "Verify the code sent to you first.",
	}
}

// NewInvalidPhoneError は電話番号の形式エラーを生成する。
func NewInvalidPhoneError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPhone,
		Message:  "Please enter a valid phone number.",
		Category: "validation",
		Action:   "Enter at least 10 digits.",
	}
}

// NewRefreshTokenMissingError はGmail連携でリフレッシュトークンが得られない場合のエラーを生成する。
func NewRefreshTokenMissingError() *APIError {
	return &APIError{
		Code:     ErrCodeRefreshTokenMissing,
		Message:  "Failed to get refresh token.",
		Category: "integration",
		Action:   "Please try connecting the account again.",
	}
}

// NewBackendFailureError はバックエンド呼び出しの失敗エラーを生成する。
func NewBackendFailureError(details string) *APIError {
	return &APIError{
		Code:     ErrCodeBackendFailure,
		Message:  details,
		Category: "system",
		Action:   "Please try again later.",
	}
}

// NewFlowNotFoundError は画面フローが失効している場合のエラーを生成する。
func NewFlowNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeFlowNotFound,
		Message:  "This screen has expired.",
		Category: "validation",
		Action:   "Please start again.",
	}
}

// NewAccountNotFoundError は連携済みアカウントがユーザーのものでない場合のエラーを生成する。
func NewAccountNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  "Linked account not found.",
		Category: "integration",
		Action:   "Please refresh the list of connected accounts.",
	}
}

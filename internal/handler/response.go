// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/walletgate/internal/auth"
	"github.com/hitoshi/walletgate/internal/backend"
	"github.com/hitoshi/walletgate/internal/gmail"
	"github.com/hitoshi/walletgate/internal/middleware"
	"github.com/hitoshi/walletgate/internal/model"
	"github.com/hitoshi/walletgate/internal/otp"
	"github.com/hitoshi/walletgate/internal/whatsapp"
)

// maxBodyBytes はリクエストボディの上限。
const maxBodyBytes = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON はリクエストボディをJSONとして読み込む。
// 失敗した場合は400を書き込んで false を返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "The request body could not be parsed.",
			Category: "validation",
			Action:   "Send a valid JSON body.",
		})
		return false
	}
	return true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	if pe, ok := auth.AsPlatformError(err); ok {
		slog.Warn("sign in failed", slog.String("code", string(pe.Code)), slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, mapPlatformErrorToHTTPStatus(pe.Code), pe.APIError())
		return
	}

	var cooldown *otp.CooldownError
	switch {
	case errors.Is(err, auth.ErrSignInInProgress):
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewSignInInProgressError())
		return
	case errors.Is(err, auth.ErrMissingTokens):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingTokensError())
		return
	case errors.As(err, &cooldown):
		w.Header().Set("Retry-After", strconv.Itoa(cooldown.Remaining))
		middleware.WriteErrorResponse(w, http.StatusTooManyRequests, model.NewOTPCooldownError(cooldown.Remaining))
		return
	case errors.Is(err, otp.ErrIncompleteCode):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewOTPIncompleteError())
		return
	case errors.Is(err, otp.ErrInvalidCode):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewOTPInvalidError())
		return
	case errors.Is(err, otp.ErrNotRequested), errors.Is(err, whatsapp.ErrNotStarted):
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewOTPNotRequestedError())
		return
	case errors.Is(err, otp.ErrBusy):
		middleware.WriteErrorResponse(w, http.StatusConflict, &model.APIError{
			Code:     "OTP_BUSY",
			Message:  "Verification is already in progress.",
			Category: "auth",
			Action:   "Please wait for the current verification to finish.",
		})
		return
	case errors.Is(err, whatsapp.ErrInvalidNumber):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidPhoneError())
		return
	case errors.Is(err, whatsapp.ErrNotVerified):
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewNotVerifiedError())
		return
	case errors.Is(err, gmail.ErrRefreshTokenMissing):
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewRefreshTokenMissingError())
		return
	}

	var he *backend.HTTPError
	if errors.As(err, &he) {
		slog.Error("backend request failed",
			slog.Int("status", he.Status),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewBackendFailureError(http.StatusText(he.Status)))
		return
	}

	// それ以外は内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation, model.ErrCodeMissingTokens,
		model.ErrCodeOTPIncomplete, model.ErrCodeOTPInvalid,
		model.ErrCodeInvalidPhone, model.ErrCodeFlowNotFound:
		return http.StatusBadRequest
	case model.ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case model.ErrCodeUserNotFound, model.ErrCodeAccountNotFound:
		return http.StatusNotFound
	case model.ErrCodeUserExists, model.ErrCodeSignInInProgress,
		model.ErrCodeOTPNotRequested, model.ErrCodeNotVerified:
		return http.StatusConflict
	case model.ErrCodeOTPCooldown:
		return http.StatusTooManyRequests
	case model.ErrCodeBackendFailure, model.ErrCodeRefreshTokenMissing:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// mapPlatformErrorToHTTPStatus はプロバイダーエラーの種別からHTTPステータスコードにマッピングする。
func mapPlatformErrorToHTTPStatus(code auth.PlatformErrorCode) int {
	switch code {
	case auth.CodeCancelled:
		return http.StatusBadRequest
	case auth.CodeInProgress:
		return http.StatusConflict
	case auth.CodeServicesUnavailable:
		return http.StatusServiceUnavailable
	case auth.CodeNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// identityOrUnauthorized はセッションの識別情報を返す。無ければ401を書き込む。
func identityOrUnauthorized(w http.ResponseWriter, r *http.Request) (middleware.Identity, bool) {
	id, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return middleware.Identity{}, false
	}
	return id, true
}

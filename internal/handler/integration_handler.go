package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/walletgate/internal/auth"
	"github.com/hitoshi/walletgate/internal/middleware"
	"github.com/hitoshi/walletgate/internal/model"
	"github.com/hitoshi/walletgate/internal/whatsapp"
)

// WhatsAppServiceInterface はWhatsApp連携ハンドラーが必要とするサービスインターフェース。
type WhatsAppServiceInterface interface {
	ConnectedPhones(ctx context.Context, userID string) ([]model.ConnectedPhone, error)
	NewLinker(userID, email string) *whatsapp.Linker
}

// GmailServiceInterface はGmail連携ハンドラーが必要とするサービスインターフェース。
type GmailServiceInterface interface {
	Link(ctx context.Context, control *auth.SignInControl, grant auth.Grant, userID string) (*model.GmailAccount, error)
	Accounts(ctx context.Context, userID string) ([]model.GmailAccount, error)
	UpdateTokens(ctx context.Context, userID, accID, accessToken, refreshToken string) error
	Delete(ctx context.Context, userID, accID string) error
}

// IntegrationHandler はWhatsAppとGmailの連携のHTTPハンドラー。
type IntegrationHandler struct {
	whatsapp WhatsAppServiceInterface
	gmail    GmailServiceInterface
}

// NewIntegrationHandler はIntegrationHandlerを生成する。
func NewIntegrationHandler(wa WhatsAppServiceInterface, gm GmailServiceInterface) *IntegrationHandler {
	return &IntegrationHandler{whatsapp: wa, gmail: gm}
}

// whatsAppResponse は連携済み番号と進行中の連携状態。
type whatsAppResponse struct {
	Phones   []model.ConnectedPhone `json:"phones"`
	State    string                 `json:"state"`
	Number   string                 `json:"number,omitempty"`
	ResendIn int                    `json:"resendIn"`
}

// whatsAppOTPRequest はWhatsApp番号へのOTP送信リクエスト。
// number を省略すると直前の番号に再送する。
type whatsAppOTPRequest struct {
	Number string `json:"number"`
}

// gmailTokensRequest はGmailアカウントのトークン更新リクエスト。
type gmailTokensRequest struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// WhatsApp は連携済み番号と進行中の連携状態を返す。
// GET /api/integrations/whatsapp
func (h *IntegrationHandler) WhatsApp(w http.ResponseWriter, r *http.Request) {
	id, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}

	phones, err := h.whatsapp.ConnectedPhones(r.Context(), id.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := whatsAppResponse{Phones: phones, State: whatsapp.Idle.String()}
	if f, ok := middleware.FlowFromContext(r.Context()); ok {
		if l := f.ExistingLinker(id.UserID); l != nil {
			resp.State = l.State().String()
			resp.Number = l.Number()
			resp.ResendIn = l.Cooldown()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// WhatsAppOTP は番号を正規化してOTPを送信する。
// POST /api/integrations/whatsapp/otp
func (h *IntegrationHandler) WhatsAppOTP(w http.ResponseWriter, r *http.Request) {
	id, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}
	f, ok := flowOrBadRequest(w, r)
	if !ok {
		return
	}

	var req whatsAppOTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	linker := f.Linker(id.UserID, func() *whatsapp.Linker {
		return h.whatsapp.NewLinker(id.UserID, id.Email)
	})

	number := req.Number
	if number == "" {
		if err := linker.Resend(r.Context()); err != nil {
			handleServiceError(w, err)
			return
		}
		number = linker.Number()
	} else {
		normalized, err := linker.Start(r.Context(), number)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		number = normalized
	}

	writeJSON(w, http.StatusAccepted, otpSentResponse{
		Destination: number,
		ResendIn:    linker.Cooldown(),
	})
}

// WhatsAppVerify はOTPを検証し、番号を連携する。
// POST /api/integrations/whatsapp/verify
func (h *IntegrationHandler) WhatsAppVerify(w http.ResponseWriter, r *http.Request) {
	id, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}
	f, ok := flowOrBadRequest(w, r)
	if !ok {
		return
	}

	var req otpRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	linker := f.ExistingLinker(id.UserID)
	if linker == nil {
		handleServiceError(w, whatsapp.ErrNotStarted)
		return
	}

	var err error
	if linker.State() == whatsapp.Verified {
		// 前回の接続に失敗していれば再試行する
		err = linker.Connect(r.Context())
	} else {
		err = linker.Verify(r.Context(), req.code())
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"state":  linker.State().String(),
		"number": linker.Number(),
	})
}

// GmailAccounts は連携済みのGmailアカウントを返す。
// GET /api/integrations/gmail
func (h *IntegrationHandler) GmailAccounts(w http.ResponseWriter, r *http.Request) {
	id, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}

	accounts, err := h.gmail.Accounts(r.Context(), id.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string][]model.GmailAccount{"accounts": accounts})
}

// GmailLink はGoogleのグラントでGmailアカウントを連携する。
// POST /api/integrations/gmail
func (h *IntegrationHandler) GmailLink(w http.ResponseWriter, r *http.Request) {
	id, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}
	f, ok := flowOrBadRequest(w, r)
	if !ok {
		return
	}

	var grant auth.Grant
	if !decodeJSON(w, r, &grant) {
		return
	}

	acc, err := h.gmail.Link(r.Context(), f.Gmail(), grant, id.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, acc)
}

// GmailUpdateTokens はGmailアカウントのトークンを更新する。
// PUT /api/integrations/gmail/{accID}/tokens
func (h *IntegrationHandler) GmailUpdateTokens(w http.ResponseWriter, r *http.Request) {
	id, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req gmailTokensRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AccessToken == "" {
		handleServiceError(w, model.NewValidationError("accessToken", "Access token is required."))
		return
	}

	if err := h.gmail.UpdateTokens(r.Context(), id.UserID, chi.URLParam(r, "accID"), req.AccessToken, req.RefreshToken); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GmailDelete はGmailアカウントの連携を解除する。
// DELETE /api/integrations/gmail/{accID}
func (h *IntegrationHandler) GmailDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}

	if err := h.gmail.Delete(r.Context(), id.UserID, chi.URLParam(r, "accID")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

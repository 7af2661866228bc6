package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/hitoshi/walletgate/internal/model"
)

// GoogleAuthRequest は /auth/google のリクエストボディ。
type GoogleAuthRequest struct {
	IDToken        string         `json:"idToken"`
	ServerAuthCode string         `json:"serverAuthCode"`
	User           GoogleUserInfo `json:"user"`
	Scopes         []string       `json:"scopes"`
}

// GoogleUserInfo はGoogleサインインで得たプロフィール。
type GoogleUserInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// GoogleAuthTokens は /auth/google が返すトークン。
type GoogleAuthTokens struct {
	RefreshToken string `json:"refresh_access_token"`
	AccessToken  string `json:"access_token"`
}

// GmailAccountTokens はGmailアカウントの保存・更新に使うトークン一式。
type GmailAccountTokens struct {
	AccountID    string `json:"acc_id"`
	AccessToken  string `json:"acc_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id,omitempty"`
}

// GoogleAuth はサーバー認可コードをバックエンドに渡し、Gmail用のトークンを得る。
func (c *Client) GoogleAuth(ctx context.Context, req GoogleAuthRequest) (*GoogleAuthTokens, error) {
	if req.Scopes == nil {
		req.Scopes = []string{}
	}
	var tokens GoogleAuthTokens
	if err := c.do(ctx, "auth_google", http.MethodPost, "/auth/google", nil, req, &tokens); err != nil {
		return nil, err
	}
	return &tokens, nil
}

// ConnectedWhatsAppPhones はユーザーに連携済みのWhatsApp番号を取得する。
func (c *Client) ConnectedWhatsAppPhones(ctx context.Context, userID string) ([]model.ConnectedPhone, error) {
	var resp struct {
		Success bool   `json:"success"`
		UserID  string `json:"user_id"`
		Numbers []struct {
			Number string `json:"number"`
		} `json:"whatsapp_numbers"`
	}
	q := url.Values{"user_id": {userID}}
	if err := c.do(ctx, "whatsapp_connected_phones", http.MethodGet, "/whatsapp/connected-phones", q, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return []model.ConnectedPhone{}, nil
	}
	phones := make([]model.ConnectedPhone, 0, len(resp.Numbers))
	for _, n := range resp.Numbers {
		phones = append(phones, model.ConnectedPhone{Number: n.Number, UserID: resp.UserID})
	}
	return phones, nil
}

// SendWhatsAppOTP は電話番号宛にWhatsAppでOTPを送信させる。
// OTPはメールアドレスに紐付けてバックエンドに記録される。
func (c *Client) SendWhatsAppOTP(ctx context.Context, phoneNumber, email string) error {
	body := map[string]string{"phone_number": phoneNumber, "email": email}
	return c.do(ctx, "whatsapp_send_otp", http.MethodPost, "/whatsapp/send-otp", nil, body, nil)
}

// ConnectWhatsApp は検証済みの電話番号をユーザーに連携する。
func (c *Client) ConnectWhatsApp(ctx context.Context, userID, number string) error {
	body := map[string]string{"user_id": userID, "number": number}
	return c.do(ctx, "whatsapp_connect", http.MethodPost, "/whatsapp/connect", nil, body, nil)
}

// StoreGmailAccount はGmailアカウントとリフレッシュトークンを保存する。
func (c *Client) StoreGmailAccount(ctx context.Context, acc GmailAccountTokens) error {
	return c.do(ctx, "gmail_store_account", http.MethodPost, "/gmail/store-account", nil, acc, nil)
}

// ConnectedGmailAccounts はユーザーに連携済みのGmailアカウントを取得する。
// acc_id にはアカウントのメールアドレスが入っている。
func (c *Client) ConnectedGmailAccounts(ctx context.Context, userID string) ([]model.GmailAccount, error) {
	var resp struct {
		Success  bool `json:"success"`
		Accounts []struct {
			ID           string `json:"id"`
			AccID        string `json:"acc_id"`
			UserID       string `json:"user_id"`
			Name         string `json:"name"`
			RefreshToken string `json:"refresh_token"`
		} `json:"accounts"`
	}
	q := url.Values{"user_id": {userID}}
	if err := c.do(ctx, "gmail_connected_accounts", http.MethodGet, "/gmail/connected-accounts", q, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return []model.GmailAccount{}, nil
	}
	accounts := make([]model.GmailAccount, 0, len(resp.Accounts))
	for _, a := range resp.Accounts {
		accounts = append(accounts, model.GmailAccount{
			ID:           a.ID,
			Email:        a.AccID,
			UserID:       a.UserID,
			Name:         a.Name,
			RefreshToken: a.RefreshToken,
		})
	}
	return accounts, nil
}

// UpdateGmailTokens はGmailアカウントのトークンを更新する。
func (c *Client) UpdateGmailTokens(ctx context.Context, acc GmailAccountTokens) error {
	acc.UserID = ""
	return c.do(ctx, "gmail_update_tokens", http.MethodPut, "/gmail/update-tokens", nil, acc, nil)
}

// DeleteGmailAccount はGmailアカウントの連携を解除する。
func (c *Client) DeleteGmailAccount(ctx context.Context, accID string) error {
	q := url.Values{"acc_id": {accID}}
	return c.do(ctx, "gmail_delete_account", http.MethodDelete, "/gmail/delete-account", q, nil, nil)
}

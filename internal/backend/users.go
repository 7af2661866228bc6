package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/walletgate/internal/model"
)

// userPayload はバックエンドのユーザーレコードのワイヤ表現。
type userPayload struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Pass       string          `json:"pass"`
	Gmail      string          `json:"gmail"`
	NetAmount  decimal.Decimal `json:"net_amount"`
	GmailToken *string         `json:"gmail_token"`
	PersonalID string          `json:"personal_id"`
}

func (p *userPayload) toModel() *model.User {
	return &model.User{
		ID:               p.ID,
		Name:             p.Name,
		Email:            p.Gmail,
		NetAmount:        p.NetAmount,
		PersonalID:       p.PersonalID,
		PasswordOrSecret: p.Pass,
		GoogleSubjectID:  p.GmailToken,
	}
}

type userEnvelope struct {
	User *userPayload `json:"user"`
}

// createUserRequest は /user/create のリクエストボディ。
// net_amount はJSONの数値として送る。
type createUserRequest struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Pass       string      `json:"pass"`
	Gmail      string      `json:"gmail"`
	NetAmount  json.Number `json:"net_amount"`
	GmailToken *string     `json:"gmail_token"`
}

// EmailAuthResult は /auth/email のレスポンス。
type EmailAuthResult struct {
	Exists bool
	User   *model.User
}

// OTPVerification は /user/verify_otp のレスポンス。
type OTPVerification struct {
	Success bool
	User    *model.User
}

// GenerateUUID はバックエンドに新しいユーザーIDを払い出させる。
// 返却値がUUIDとして解釈できない場合はエラーを返す。
func (c *Client) GenerateUUID(ctx context.Context) (string, error) {
	var resp struct {
		UUID string `json:"uuid"`
	}
	if err := c.do(ctx, "generate_uuid", http.MethodGet, "/generate-uuid", nil, nil, &resp); err != nil {
		return "", err
	}
	id, err := uuid.Parse(resp.UUID)
	if err != nil {
		return "", fmt.Errorf("backend returned invalid uuid %q: %w", resp.UUID, err)
	}
	return id.String(), nil
}

// GetUserByEmail はメールアドレスでユーザーを取得する。
// 存在しない場合は404の *HTTPError を返す。
func (c *Client) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return c.getUser(ctx, "user_by_email", "/user/medium/email", email)
}

// GetUserByGoogleID はGoogle subject IDでユーザーを取得する。
// 存在しない場合は404の *HTTPError を返す。
func (c *Client) GetUserByGoogleID(ctx context.Context, subjectID string) (*model.User, error) {
	return c.getUser(ctx, "user_by_google_id", "/user/medium/gmail_token", subjectID)
}

func (c *Client) getUser(ctx context.Context, endpoint, path, key string) (*model.User, error) {
	var env userEnvelope
	q := url.Values{"user_id": {key}}
	if err := c.do(ctx, endpoint, http.MethodGet, path, q, nil, &env); err != nil {
		return nil, err
	}
	if env.User == nil {
		return nil, fmt.Errorf("%s: response has no user", endpoint)
	}
	return env.User.toModel(), nil
}

// FindUserByEmail はメールアドレスでユーザーを検索する。
// 見つからない場合は nil, nil を返す。
func (c *Client) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return orNil(c.GetUserByEmail(ctx, email))
}

// FindUserByGoogleID はGoogle subject IDでユーザーを検索する。
// 見つからない場合は nil, nil を返す。
func (c *Client) FindUserByGoogleID(ctx context.Context, subjectID string) (*model.User, error) {
	return orNil(c.GetUserByGoogleID(ctx, subjectID))
}

func orNil(u *model.User, err error) (*model.User, error) {
	if IsNotFound(err) {
		return nil, nil
	}
	return u, err
}

// CreateUser はユーザーを作成する。
// u.ID にはGenerateUUIDで払い出したIDを設定しておくこと。
func (c *Client) CreateUser(ctx context.Context, u *model.User) error {
	body := createUserRequest{
		ID:         u.ID,
		Name:       u.Name,
		Pass:       u.PasswordOrSecret,
		Gmail:      u.Email,
		NetAmount:  json.Number(u.NetAmount.String()),
		GmailToken: u.GoogleSubjectID,
	}
	return c.do(ctx, "create_user", http.MethodPost, "/user/create", nil, body, nil)
}

// UpdateGmailToken はユーザーに紐付くGoogle subject IDを更新する。
// userID はバックエンドのユーザーID。
func (c *Client) UpdateGmailToken(ctx context.Context, userID, subjectID string) error {
	q := url.Values{"user_id": {userID}, "gmail_token": {subjectID}}
	return c.do(ctx, "update_gmail_token", http.MethodPost, "/user/update-gmail-token", q, nil, nil)
}

// AuthenticateEmail はメールアドレスとパスワードでユーザーを認証する。
func (c *Client) AuthenticateEmail(ctx context.Context, email, password string) (*EmailAuthResult, error) {
	body := map[string]string{"email": email, "password": password}
	var resp struct {
		Exists bool         `json:"exists"`
		User   *userPayload `json:"user"`
	}
	if err := c.do(ctx, "auth_email", http.MethodPost, "/auth/email", nil, body, &resp); err != nil {
		return nil, err
	}
	result := &EmailAuthResult{Exists: resp.Exists}
	if resp.User != nil {
		result.User = resp.User.toModel()
	}
	return result, nil
}

// RequestOTP はメールアドレス宛にOTPを送信させる。
func (c *Client) RequestOTP(ctx context.Context, email string) error {
	q := url.Values{"email": {email}}
	return c.do(ctx, "get_otp", http.MethodPost, "/user/get_otp", q, nil, nil)
}

// VerifyOTP はメールアドレスに対するOTPを検証する。
func (c *Client) VerifyOTP(ctx context.Context, email, code string) (*OTPVerification, error) {
	q := url.Values{"email": {email}, "otp_code": {code}}
	var resp struct {
		Success bool         `json:"success"`
		User    *userPayload `json:"user"`
	}
	if err := c.do(ctx, "verify_otp", http.MethodPost, "/user/verify_otp", q, nil, &resp); err != nil {
		return nil, err
	}
	result := &OTPVerification{Success: resp.Success}
	if resp.User != nil {
		result.User = resp.User.toModel()
	}
	return result, nil
}

// ChangePassword はパスワードを変更する。
func (c *Client) ChangePassword(ctx context.Context, email, newPassword string) error {
	q := url.Values{"email": {email}, "new_password": {newPassword}}
	return c.do(ctx, "change_password", http.MethodPost, "/user/change-password", q, nil, nil)
}

// RecentTransactions は直近の取引を最大 limit 件取得する。
func (c *Client) RecentTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	q := url.Values{"user_id": {userID}, "limit": {strconv.Itoa(limit)}}
	var resp struct {
		Transactions []model.Transaction `json:"transactions"`
	}
	if err := c.do(ctx, "recent_transactions", http.MethodGet, "/user/recent-transactions", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Transactions, nil
}

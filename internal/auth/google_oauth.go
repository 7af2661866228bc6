package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/hitoshi/walletgate/internal/model"
)

const (
	defaultGoogleIssuer = "https://accounts.google.com"
	// GmailReadonlyScope はGmail連携で要求するスコープ。
	GmailReadonlyScope = "https://www.googleapis.com/auth/gmail.readonly"
	// ネイティブSDKが発行したサーバー認可コードの交換に使うリダイレクトURI
	postMessageRedirect = "postmessage"
)

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// IncludeGmail が true の場合は gmail.readonly スコープを要求する。
	IncludeGmail bool

	// テスト用にオーバーライド可能な発行者URL
	IssuerURL string
}

// idClaims はIDトークンから取り出すクレーム。
type idClaims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

// GooglePlatform はGoogle OAuth 2.0 / OpenID Connectによるサインインを提供する。
// OIDCディスカバリは最初の利用時に行う。
type GooglePlatform struct {
	config GoogleOAuthConfig
	logger *slog.Logger

	mu       sync.Mutex
	oauth    *oauth2.Config
	exchange func(ctx context.Context, code string) (*oauth2.Token, error)
	verify   func(ctx context.Context, rawIDToken string) (*idClaims, error)
}

// NewGooglePlatform はGooglePlatformを生成する。
func NewGooglePlatform(config GoogleOAuthConfig, logger *slog.Logger) *GooglePlatform {
	if config.IssuerURL == "" {
		config.IssuerURL = defaultGoogleIssuer
	}
	redirect := config.RedirectURL
	if redirect == "" {
		redirect = postMessageRedirect
	}
	return &GooglePlatform{
		config: config,
		logger: logger,
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  redirect,
			Scopes:       googleScopes(config.IncludeGmail),
		},
	}
}

func googleScopes(includeGmail bool) []string {
	scopes := []string{oidc.ScopeOpenID, "profile", "email"}
	if includeGmail {
		scopes = append(scopes, GmailReadonlyScope)
	}
	return scopes
}

// Scopes は要求するスコープを返す。
func (p *GooglePlatform) Scopes() []string {
	return p.oauth.Scopes
}

// GetLoginURL はWebのリダイレクトフロー用の認証URLを生成する。
// リフレッシュトークンを得るため offline アクセスを要求する。
func (p *GooglePlatform) GetLoginURL(ctx context.Context, state string) (string, error) {
	if err := p.init(ctx); err != nil {
		return "", err
	}
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// init はOIDCディスカバリを行い、トークン交換と検証の関数を準備する。
func (p *GooglePlatform) init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exchange != nil && p.verify != nil {
		return nil
	}

	provider, err := oidc.NewProvider(ctx, p.config.IssuerURL)
	if err != nil {
		return &PlatformError{Code: CodeServicesUnavailable, Err: fmt.Errorf("init google oidc provider: %w", err)}
	}
	p.oauth.Endpoint = provider.Endpoint()

	verifier := provider.Verifier(&oidc.Config{ClientID: p.config.ClientID})
	p.exchange = func(ctx context.Context, code string) (*oauth2.Token, error) {
		return p.oauth.Exchange(ctx, code)
	}
	p.verify = func(ctx context.Context, raw string) (*idClaims, error) {
		token, err := verifier.Verify(ctx, raw)
		if err != nil {
			return nil, err
		}
		var claims idClaims
		if err := token.Claims(&claims); err != nil {
			return nil, fmt.Errorf("parse id_token claims: %w", err)
		}
		return &claims, nil
	}
	return nil
}

// SignOut はPlatformインターフェースを実装する。
// サーバー側ではプロバイダーのセッションをキャッシュしないため何もしない。
func (p *GooglePlatform) SignOut(_ context.Context) error {
	return nil
}

// CheckAvailable はPlatformインターフェースを実装する。
// OIDCディスカバリが成功すれば利用可能とみなす。
func (p *GooglePlatform) CheckAvailable(ctx context.Context) error {
	return p.init(ctx)
}

// SignIn はPlatformインターフェースを実装する。
// IDトークンがあれば検証のみ行い、サーバー認可コードはバックエンドでの交換用に温存する。
// 認可コードのみの場合はここで交換し、得られたIDトークンを検証する。
// 交換済みの認可コードは再利用できないため、得られたトークンをアイデンティティに載せる。
func (p *GooglePlatform) SignIn(ctx context.Context, grant Grant) (*model.ExternalIdentity, error) {
	if grant.Error != "" {
		return nil, classifyGrantError(grant.Error)
	}
	if grant.Code == "" && grant.IDToken == "" && grant.ServerAuthCode == "" {
		return nil, &PlatformError{Code: CodeCancelled}
	}
	if err := p.init(ctx); err != nil {
		return nil, err
	}

	identity := &model.ExternalIdentity{
		Provider:       model.ProviderGoogle,
		IDToken:        grant.IDToken,
		ServerAuthCode: grant.ServerAuthCode,
		Scopes:         grant.Scopes,
	}

	if identity.IDToken == "" && grant.Code != "" {
		token, err := p.exchange(ctx, grant.Code)
		if err != nil {
			return nil, classifyExchangeError(err)
		}
		identity.IDToken, _ = token.Extra("id_token").(string)
		identity.AccessToken = token.AccessToken
		identity.RefreshToken = token.RefreshToken
		if s, ok := token.Extra("scope").(string); ok && len(identity.Scopes) == 0 {
			identity.Scopes = strings.Fields(s)
		}
	}

	rawIDToken := identity.IDToken
	if rawIDToken == "" {
		// トークン欠落はResolverが判定する
		return identity, nil
	}

	claims, err := p.verify(ctx, rawIDToken)
	if err != nil {
		return nil, &PlatformError{Code: CodeDeveloperError, Err: fmt.Errorf("verify google id_token: %w", err)}
	}
	if claims.Subject == "" || claims.Email == "" {
		return nil, &PlatformError{Code: CodeDeveloperError, Err: errors.New("google id_token missing required claims")}
	}

	identity.SubjectID = claims.Subject
	identity.Email = claims.Email
	identity.DisplayName = claims.Name

	p.logger.Info("google id_token verified",
		slog.Bool("server_auth_code_present", identity.ServerAuthCode != ""),
		slog.Bool("code_redeemed", identity.Redeemed()),
		slog.Int("scope_count", len(identity.Scopes)),
	)
	return identity, nil
}

// classifyGrantError はリダイレクトフローの error パラメータを分類する。
func classifyGrantError(code string) error {
	switch code {
	case "access_denied":
		return &PlatformError{Code: CodeCancelled, Err: errors.New(code)}
	case "temporarily_unavailable", "server_error":
		return &PlatformError{Code: CodeServicesUnavailable, Err: errors.New(code)}
	}
	return &PlatformError{Code: CodeDeveloperError, Err: errors.New(code)}
}

// classifyExchangeError はトークン交換の失敗を分類する。
func classifyExchangeError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		switch re.ErrorCode {
		case "invalid_client", "unauthorized_client", "redirect_uri_mismatch":
			return &PlatformError{Code: CodeDeveloperError, Err: err}
		case "invalid_grant":
			return &PlatformError{Code: CodeCancelled, Err: err}
		}
		if re.Response != nil && re.Response.StatusCode >= 500 {
			return &PlatformError{Code: CodeServicesUnavailable, Err: err}
		}
		return &PlatformError{Code: CodeDeveloperError, Err: err}
	}
	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return &PlatformError{Code: CodeNetwork, Err: err}
	}
	return &PlatformError{Code: CodeUnknown, Err: err}
}

// compile-time interface check
var _ Platform = (*GooglePlatform)(nil)

package auth

import (
	"context"
	"log/slog"

	"github.com/hitoshi/walletgate/internal/model"
)

// SignInControl は1つのサインイン操作の同時実行を1件に制限する。
// 保持中に呼ばれた場合は何も開始せずに ErrSignInInProgress を返す。
type SignInControl struct {
	permit   chan struct{}
	platform Platform
	logger   *slog.Logger
}

// NewSignInControl はSignInControlを生成する。
func NewSignInControl(platform Platform, logger *slog.Logger) *SignInControl {
	return &SignInControl{
		permit:   make(chan struct{}, 1),
		platform: platform,
		logger:   logger,
	}
}

// InProgress はサインインが進行中かを返す。
func (c *SignInControl) InProgress() bool {
	return len(c.permit) == 1
}

// Run はプロバイダーでサインインし、得られたアイデンティティで fn を実行する。
// 許可はどの経路で終了しても解放される。
func (c *SignInControl) Run(ctx context.Context, grant Grant, fn func(ctx context.Context, id *model.ExternalIdentity) error) error {
	select {
	case c.permit <- struct{}{}:
	default:
		return ErrSignInInProgress
	}
	defer func() { <-c.permit }()

	// 以前のセッションが残っていても続行する
	if err := c.platform.SignOut(ctx); err != nil {
		c.logger.Debug("sign out before sign in failed", slog.String("error", err.Error()))
	}

	if err := c.platform.CheckAvailable(ctx); err != nil {
		return err
	}

	identity, err := c.platform.SignIn(ctx, grant)
	if err != nil {
		return err
	}
	return fn(ctx, identity)
}

// Trigger はサインインしてアイデンティティ解決まで行う。
// プロバイダーの失敗と多重実行はエラーで、解決の失敗は Outcome で返す。
func (c *SignInControl) Trigger(ctx context.Context, grant Grant, resolver *Resolver) (Outcome, error) {
	var outcome Outcome
	err := c.Run(ctx, grant, func(ctx context.Context, id *model.ExternalIdentity) error {
		outcome = resolver.Resolve(ctx, id)
		return nil
	})
	return outcome, err
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/walletgate/internal/model"
)

var (
	// ErrMissingTokens はIDトークンまたはサーバー認可コードが無いことを示す。
	ErrMissingTokens = errors.New("auth: missing id token or server auth code")
	// ErrSignInInProgress はサインインが既に進行中であることを示す。
	ErrSignInInProgress = errors.New("auth: sign in already in progress")
)

// 失敗の種別
const (
	KindMissingTokens = "missing_tokens"
	KindBackend       = "backend"
)

// 連携結果のメトリクスラベル
const (
	LinkExisting = "existing"
	LinkLinked   = "linked"
	LinkCreated  = "created"
	LinkFailed   = "failed"
)

// defaultDisplayName は表示名が取得できなかったユーザーの名前。
const defaultDisplayName = "Unknown User"

// UserDirectory はアイデンティティ解決に必要なバックエンド操作。
// Find系は見つからない場合に nil, nil を返す。
type UserDirectory interface {
	FindUserByGoogleID(ctx context.Context, subjectID string) (*model.User, error)
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
	UpdateGmailToken(ctx context.Context, userID, subjectID string) error
	GenerateUUID(ctx context.Context) (string, error)
	CreateUser(ctx context.Context, u *model.User) error
}

// LinkRecorder は連携結果を記録する。
type LinkRecorder interface {
	ObserveLink(outcome string)
}

// FailureDetails は解決に失敗した理由。
type FailureDetails struct {
	Kind    string
	Details string
	cause   error
}

// FailureBody はクライアントに返す失敗の表現。
type FailureBody struct {
	Error        bool   `json:"error"`
	ErrorDetails string `json:"errorDetails"`
}

// Outcome はアイデンティティ解決の結果。Result と Err のどちらか一方だけが設定される。
type Outcome struct {
	Result *model.LinkResult
	Err    *FailureDetails
}

// OK は解決に成功したかを返す。
func (o Outcome) OK() bool {
	return o.Result != nil && o.Err == nil
}

// Cause は失敗の原因となったエラーを返す。成功時は nil。
func (o Outcome) Cause() error {
	if o.Err == nil {
		return nil
	}
	return o.Err.cause
}

// Failure は失敗を {error: true, errorDetails} の形に変換する。
func (o Outcome) Failure() FailureBody {
	if o.Err == nil {
		return FailureBody{}
	}
	return FailureBody{Error: true, ErrorDetails: o.Err.Details}
}

func failed(kind string, err error) Outcome {
	return Outcome{Err: &FailureDetails{Kind: kind, Details: err.Error(), cause: err}}
}

// Resolver は外部アイデンティティをバックエンドのユーザーに対応付ける。
type Resolver struct {
	users    UserDirectory
	logger   *slog.Logger
	recorder LinkRecorder
}

// NewResolver はResolverを生成する。recorder は nil でもよい。
func NewResolver(users UserDirectory, logger *slog.Logger, recorder LinkRecorder) *Resolver {
	return &Resolver{users: users, logger: logger, recorder: recorder}
}

// Resolve は外部アイデンティティに対応するユーザーを特定する。
//
// 1. IDトークンとサーバー認可コード（または交換済みトークン）が揃っていなければバックエンドに問い合わせずに失敗する。
// 2. Google subject IDで検索し、見つかればそのユーザーを返す。
// 3. メールアドレスで検索し、見つかればsubject IDを紐付けてから再取得する。
// 4. どちらにも無ければ新規ユーザーを作成して再取得する。
//
// 404以外のバックエンドエラーは例外ではなく失敗として Outcome に格納する。
func (r *Resolver) Resolve(ctx context.Context, id *model.ExternalIdentity) Outcome {
	if id == nil || !id.HasTokens() {
		r.observe(LinkFailed)
		return Outcome{Err: &FailureDetails{
			Kind:    KindMissingTokens,
			Details: model.NewMissingTokensError().Message,
			cause:   ErrMissingTokens,
		}}
	}

	user, err := r.users.FindUserByGoogleID(ctx, id.SubjectID)
	if err != nil {
		return r.fail(fmt.Errorf("find user by google id: %w", err))
	}
	if user != nil {
		r.observe(LinkExisting)
		r.logger.Info("existing user signed in with google", slog.String("user_id", user.ID))
		return Outcome{Result: &model.LinkResult{User: user}}
	}

	user, err = r.users.FindUserByEmail(ctx, id.Email)
	if err != nil {
		return r.fail(fmt.Errorf("find user by email: %w", err))
	}
	if user != nil {
		if err := r.users.UpdateGmailToken(ctx, user.ID, id.SubjectID); err != nil {
			return r.fail(fmt.Errorf("update gmail token: %w", err))
		}
		canonical, err := r.refetch(ctx, id.SubjectID)
		if err != nil {
			return r.fail(err)
		}
		r.observe(LinkLinked)
		r.logger.Info("linked google identity to existing user", slog.String("user_id", canonical.ID))
		return Outcome{Result: &model.LinkResult{User: canonical, GmailTokenUpdated: true}}
	}

	newID, err := r.users.GenerateUUID(ctx)
	if err != nil {
		return r.fail(fmt.Errorf("generate uuid: %w", err))
	}
	name := id.DisplayName
	if name == "" {
		name = defaultDisplayName
	}
	subject := id.SubjectID
	if err := r.users.CreateUser(ctx, &model.User{
		ID:               newID,
		Name:             name,
		Email:            id.Email,
		NetAmount:        decimal.Zero,
		PasswordOrSecret: subject,
		GoogleSubjectID:  &subject,
	}); err != nil {
		return r.fail(fmt.Errorf("create user: %w", err))
	}
	canonical, err := r.refetch(ctx, subject)
	if err != nil {
		return r.fail(err)
	}
	r.observe(LinkCreated)
	r.logger.Info("new user created from google identity", slog.String("user_id", canonical.ID))
	return Outcome{Result: &model.LinkResult{User: canonical, IsNewUser: true}}
}

// refetch はsubject IDでユーザーを取得し直す。
func (r *Resolver) refetch(ctx context.Context, subjectID string) (*model.User, error) {
	user, err := r.users.FindUserByGoogleID(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("refetch user by google id: %w", err)
	}
	if user == nil {
		return nil, errors.New("user not found after linking google identity")
	}
	return user, nil
}

func (r *Resolver) fail(err error) Outcome {
	r.observe(LinkFailed)
	r.logger.Error("identity resolution failed", slog.String("error", err.Error()))
	return failed(KindBackend, err)
}

func (r *Resolver) observe(outcome string) {
	if r.recorder != nil {
		r.recorder.ObserveLink(outcome)
	}
}

// Package whatsapp はWhatsApp番号の連携フローを提供する。
//
// コードは電話番号宛てに送るが、検証はユーザーのメールアドレスで行う。
// 連携の順序は 送信 → 検証 → 接続 に固定される。
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/hitoshi/walletgate/internal/backend"
	"github.com/hitoshi/walletgate/internal/model"
	"github.com/hitoshi/walletgate/internal/otp"
)

// CountryPrefix は番号に付与する国番号。
const CountryPrefix = "+92"

const minNumberLength = 10

var (
	// ErrInvalidNumber は電話番号の形式が不正であることを示す。
	ErrInvalidNumber = errors.New("whatsapp: invalid phone number")
	// ErrNotStarted は番号が未入力のまま操作されたことを示す。
	ErrNotStarted = errors.New("whatsapp: no number entered")
	// ErrNotVerified は検証前に接続しようとしたことを示す。
	ErrNotVerified = errors.New("whatsapp: number not verified")
)

// State は連携フローの状態。
type State int

const (
	Idle State = iota
	OTPSent
	Verified
	Connected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case OTPSent:
		return "otp_sent"
	case Verified:
		return "verified"
	case Connected:
		return "connected"
	}
	return "unknown"
}

// Backend はWhatsApp連携に必要なバックエンド操作。
type Backend interface {
	otp.EmailBackend
	SendWhatsAppOTP(ctx context.Context, phoneNumber, email string) error
	ConnectWhatsApp(ctx context.Context, userID, number string) error
	ConnectedWhatsAppPhones(ctx context.Context, userID string) ([]model.ConnectedPhone, error)
}

// NormalizeNumber は入力された番号を国番号付きの形式に正規化する。
// 空白・ハイフン・括弧は取り除く。国番号を除いた数字部分は10文字以上必要。
func NormalizeNumber(raw string) (string, error) {
	s := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '\t':
			return -1
		}
		return r
	}, raw)

	digits := strings.TrimPrefix(s, CountryPrefix)
	if digits == "" || !allDigits(digits) {
		return "", ErrInvalidNumber
	}
	if len(s) < minNumberLength {
		return "", ErrInvalidNumber
	}
	return CountryPrefix + digits, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// sender はWhatsApp宛てにOTPを送り、メールアドレスに紐付けて保存させる。
type sender struct {
	backend Backend
}

func (s sender) Send(ctx context.Context, destination, identity string) error {
	return s.backend.SendWhatsAppOTP(ctx, destination, identity)
}

// Service はWhatsApp連携の入口。
type Service struct {
	backend Backend
	logger  *slog.Logger
	opts    []otp.Option
}

// NewService はServiceを生成する。opts は各Linkerのチャレンジに渡される。
func NewService(b Backend, logger *slog.Logger, opts ...otp.Option) *Service {
	return &Service{backend: b, logger: logger, opts: opts}
}

// ConnectedPhones はユーザーに連携済みの番号を返す。
func (s *Service) ConnectedPhones(ctx context.Context, userID string) ([]model.ConnectedPhone, error) {
	phones, err := s.backend.ConnectedWhatsAppPhones(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list connected whatsapp phones: %w", err)
	}
	return phones, nil
}

// NewLinker はユーザー1人分の連携フローを生成する。
func (s *Service) NewLinker(userID, email string) *Linker {
	return &Linker{
		backend: s.backend,
		logger:  s.logger,
		opts:    s.opts,
		userID:  userID,
		email:   email,
	}
}

// Linker は1つの画面における WhatsApp 連携の状態を保持する。
// 状態遷移: Idle → OTPSent → Verified → Connected。
type Linker struct {
	backend Backend
	logger  *slog.Logger
	opts    []otp.Option
	userID  string
	email   string

	mu        sync.Mutex
	state     State
	number    string
	challenge *otp.Challenge
}

// State は現在の状態を返す。
func (l *Linker) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Number は正規化済みの番号を返す。
func (l *Linker) Number() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.number
}

// Cooldown は再送可能になるまでの残り秒数を返す。
func (l *Linker) Cooldown() int {
	l.mu.Lock()
	ch := l.challenge
	l.mu.Unlock()
	if ch == nil {
		return 0
	}
	return ch.Cooldown()
}

// Start は番号を正規化してOTPを送信する。
// 同じ番号での再呼び出しは再送として扱われ、クールダウンに従う。
func (l *Linker) Start(ctx context.Context, rawNumber string) (string, error) {
	number, err := NormalizeNumber(rawNumber)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	if l.challenge == nil || l.number != number || l.state == Connected {
		l.number = number
		l.challenge = otp.NewChallenge(otp.ChannelWhatsApp, number, l.email,
			sender{backend: l.backend}, otp.NewEmailVerifier(l.backend), l.opts...)
		l.state = Idle
	}
	ch := l.challenge
	l.mu.Unlock()

	if err := ch.Send(ctx); err != nil {
		return "", err
	}

	l.mu.Lock()
	l.state = OTPSent
	l.mu.Unlock()
	return number, nil
}

// Resend は同じ番号にOTPを再送する。
func (l *Linker) Resend(ctx context.Context) error {
	l.mu.Lock()
	ch := l.challenge
	l.mu.Unlock()
	if ch == nil {
		return ErrNotStarted
	}
	return ch.Send(ctx)
}

// Verify はコードをメールアドレスで検証し、成功すれば番号を接続する。
// 接続に失敗した場合は Verified のまま残り、Connect で再試行できる。
func (l *Linker) Verify(ctx context.Context, code string) error {
	l.mu.Lock()
	ch := l.challenge
	l.mu.Unlock()
	if ch == nil {
		return ErrNotStarted
	}

	if _, err := ch.Verify(ctx, code); err != nil {
		return err
	}

	l.mu.Lock()
	l.state = Verified
	l.mu.Unlock()

	return l.Connect(ctx)
}

// Connect は検証済みの番号をユーザーに接続する。検証前は ErrNotVerified を返す。
func (l *Linker) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case Connected:
		return nil
	case Verified:
	default:
		return ErrNotVerified
	}

	if err := l.backend.ConnectWhatsApp(ctx, l.userID, l.number); err != nil {
		return fmt.Errorf("connect whatsapp number: %w", err)
	}
	l.state = Connected
	l.logger.Info("whatsapp number connected", slog.String("user_id", l.userID))
	return nil
}

var _ Backend = (*backend.Client)(nil)

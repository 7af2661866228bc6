// Package otp はメール・WhatsApp共通のワンタイムパスコード検証フローを提供する。
package otp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/hitoshi/walletgate/internal/model"
)

// CodeLength はOTPの桁数。
const CodeLength = 6

// DefaultResendCooldown は送信成功後に再送を禁止する期間。
const DefaultResendCooldown = 60 * time.Second

// 送信チャネル
const (
	ChannelEmail    = "email"
	ChannelWhatsApp = "whatsapp"
)

var (
	// ErrIncompleteCode は6桁の数字でないコードが渡されたことを示す。
	ErrIncompleteCode = errors.New("otp: code must be exactly 6 digits")
	// ErrInvalidCode はバックエンドがコードを受理しなかったことを示す。
	ErrInvalidCode = errors.New("otp: code rejected")
	// ErrNotRequested はコード送信前に検証しようとしたことを示す。
	ErrNotRequested = errors.New("otp: no code has been sent")
	// ErrBusy は検証中に別の操作が行われたことを示す。
	ErrBusy = errors.New("otp: verification in progress")
)

// CooldownError は再送クールダウン中であることを示す。
type CooldownError struct {
	Remaining int // 残り秒数
}

// Error はerrorインターフェースを実装する。
func (e *CooldownError) Error() string {
	return fmt.Sprintf("otp: resend available in %ds", e.Remaining)
}

// State はチャレンジの状態。
type State int

const (
	Idle State = iota
	Sent
	Verifying
	Verified
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sent:
		return "sent"
	case Verifying:
		return "verifying"
	case Verified:
		return "verified"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Sender はOTPを宛先に送信する。
// identity は検証時に照合されるメールアドレス。
type Sender interface {
	Send(ctx context.Context, destination, identity string) error
}

// Verifier はOTPを検証し、バックエンドが返したユーザーを返す。
// コードが受理されなかった場合は ErrInvalidCode を返す。
type Verifier interface {
	Verify(ctx context.Context, identity, code string) (*model.User, error)
}

// Recorder はOTPの送信・検証結果を記録する。
type Recorder interface {
	ObserveOTP(channel, action, result string)
}

// Option はChallengeの生成オプション。
type Option func(*Challenge)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(c *Challenge) { c.now = now }
}

// WithCooldown は再送クールダウン期間を変更する。
func WithCooldown(d time.Duration) Option {
	return func(c *Challenge) { c.cooldown = d }
}

// WithRecorder はメトリクスの記録先を設定する。
func WithRecorder(r Recorder) Option {
	return func(c *Challenge) { c.recorder = r }
}

// WithCompletion は検証成功時に呼ばれるコールバックを設定する。
func WithCompletion(fn func(*model.User)) Option {
	return func(c *Challenge) { c.onComplete = fn }
}

// Challenge は1つの宛先に対するOTPの送信と検証の状態を保持する。
//
// 状態遷移: Idle → Sent → Verifying → Verified → Idle。
// 送信失敗は Failed を経て Idle に、検証失敗は Failed を経て Sent に戻る。
type Challenge struct {
	channel     string
	destination string
	identity    string
	sender      Sender
	verifier    Verifier
	cooldown    time.Duration
	now         func() time.Time
	recorder    Recorder
	onComplete  func(*model.User)

	mu      sync.Mutex
	state   State
	resume  State // Failed から再開する状態
	sending bool  // 送信のネットワーク呼び出し中
	sentAt  time.Time
	lastErr error
}

// NewChallenge はChallengeを生成する。
// destination はコードの送信先、identity は検証に使うメールアドレス。
func NewChallenge(channel, destination, identity string, sender Sender, verifier Verifier, opts ...Option) *Challenge {
	c := &Challenge{
		channel:     channel,
		destination: destination,
		identity:    identity,
		sender:      sender,
		verifier:    verifier,
		cooldown:    DefaultResendCooldown,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Destination は送信先を返す。
func (c *Challenge) Destination() string {
	return c.destination
}

// State は現在の状態を返す。
func (c *Challenge) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError は直近の失敗理由を返す。
func (c *Challenge) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Cooldown は再送可能になるまでの残り秒数を返す。0なら再送できる。
func (c *Challenge) Cooldown() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cooldownLocked()
}

func (c *Challenge) cooldownLocked() int {
	if c.sentAt.IsZero() {
		return 0
	}
	remaining := c.cooldown - c.now().Sub(c.sentAt)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Seconds()))
}

// effectiveLocked は Failed を再開先の状態に読み替える。
func (c *Challenge) effectiveLocked() State {
	if c.state == Failed {
		return c.resume
	}
	return c.state
}

// Send はOTPを送信する。初回送信と再送の両方に使う。
// クールダウン中はネットワーク呼び出しを行わず *CooldownError を返す。
// 送信中・検証中の呼び出しは ErrBusy を返す。
func (c *Challenge) Send(ctx context.Context) error {
	c.mu.Lock()
	if c.sending || c.state == Verifying {
		c.mu.Unlock()
		return ErrBusy
	}
	if remaining := c.cooldownLocked(); remaining > 0 {
		c.mu.Unlock()
		return &CooldownError{Remaining: remaining}
	}
	c.sending = true
	c.mu.Unlock()

	err := c.sender.Send(ctx, c.destination, c.identity)

	c.mu.Lock()
	c.sending = false
	if err != nil {
		c.fail(err, Idle)
		c.mu.Unlock()
		c.observe("send", "error")
		return fmt.Errorf("send %s otp: %w", c.channel, err)
	}
	c.state = Sent
	c.sentAt = c.now()
	c.lastErr = nil
	c.mu.Unlock()

	c.observe("send", "ok")
	return nil
}

// Verify はOTPを検証する。
// 6桁の数字でないコードはネットワーク呼び出し前に ErrIncompleteCode で拒否する。
// 成功時は完了コールバックを呼び、Idle に戻す。
func (c *Challenge) Verify(ctx context.Context, code string) (*model.User, error) {
	if !ValidCode(code) {
		return nil, ErrIncompleteCode
	}

	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	switch c.effectiveLocked() {
	case Verifying:
		c.mu.Unlock()
		return nil, ErrBusy
	case Sent:
	default:
		c.mu.Unlock()
		return nil, ErrNotRequested
	}
	c.state = Verifying
	c.mu.Unlock()

	user, err := c.verifier.Verify(ctx, c.identity, code)

	c.mu.Lock()
	if err != nil {
		c.fail(err, Sent)
		c.mu.Unlock()
		if errors.Is(err, ErrInvalidCode) {
			c.observe("verify", "invalid")
			return nil, err
		}
		c.observe("verify", "error")
		return nil, fmt.Errorf("verify %s otp: %w", c.channel, err)
	}
	c.state = Verified
	c.lastErr = nil
	c.mu.Unlock()

	c.observe("verify", "ok")
	if c.onComplete != nil {
		c.onComplete(user)
	}

	c.mu.Lock()
	c.state = Idle
	c.sentAt = time.Time{}
	c.mu.Unlock()
	return user, nil
}

// fail は失敗を記録し、次の操作で resume から再開できるようにする。
func (c *Challenge) fail(err error, resume State) {
	c.state = Failed
	c.resume = resume
	c.lastErr = err
}

func (c *Challenge) observe(action, result string) {
	if c.recorder != nil {
		c.recorder.ObserveOTP(c.channel, action, result)
	}
}

// ValidCode はコードがちょうど6桁のASCII数字であるかを返す。
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// Package flow は画面単位の一時的な状態（サインアップ途中のフォーム、OTPチャレンジ、
// サインインの多重実行ガードなど）をメモリ上に保持する。
// フローはTTLを過ぎると破棄され、正本として扱われることはない。
package flow

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hitoshi/walletgate/internal/account"
	"github.com/hitoshi/walletgate/internal/auth"
	"github.com/hitoshi/walletgate/internal/whatsapp"
)

// DefaultTTL はフローの既定の有効期間。
const DefaultTTL = 15 * time.Minute

// Config はフローストアの設定を保持する。
type Config struct {
	TTL             time.Duration // 最終アクセスからの有効期間
	CleanupInterval time.Duration // 期限切れフローのクリーンアップ間隔
}

// DefaultConfig はデフォルトの設定を返す。
func DefaultConfig() Config {
	return Config{
		TTL:             DefaultTTL,
		CleanupInterval: time.Minute,
	}
}

// Flow は1つの画面フローの状態。
type Flow struct {
	id     string
	signIn *auth.SignInControl
	gmail  *auth.SignInControl

	mu         sync.Mutex
	lastAccess time.Time
	signup     *account.Signup
	reset      *account.Reset
	linker     *whatsapp.Linker
	linkerUser string
}

// ID はフローIDを返す。
func (f *Flow) ID() string { return f.id }

// SignIn はGoogleサインイン用のSignInControlを返す。
func (f *Flow) SignIn() *auth.SignInControl { return f.signIn }

// Gmail はGmail連携用のSignInControlを返す。
func (f *Flow) Gmail() *auth.SignInControl { return f.gmail }

// Signup は進行中のサインアップを返す。なければnil。
func (f *Flow) Signup() *account.Signup {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signup
}

// SetSignup は進行中のサインアップを差し替える。nilで破棄する。
func (f *Flow) SetSignup(s *account.Signup) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signup = s
}

// Reset は進行中のパスワード再設定を返す。なければnil。
func (f *Flow) Reset() *account.Reset {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reset
}

// SetReset は進行中のパスワード再設定を差し替える。nilで破棄する。
func (f *Flow) SetReset(r *account.Reset) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reset = r
}

// Linker はユーザーのWhatsApp連携状態を返す。
// 未作成、または別ユーザーのものが残っている場合は newFn で作り直す。
func (f *Flow) Linker(userID string, newFn func() *whatsapp.Linker) *whatsapp.Linker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.linker == nil || f.linkerUser != userID {
		f.linker = newFn()
		f.linkerUser = userID
	}
	return f.linker
}

// ExistingLinker は作成済みのWhatsApp連携状態を返す。ユーザーが異なる場合はnil。
func (f *Flow) ExistingLinker(userID string) *whatsapp.Linker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.linkerUser != userID {
		return nil
	}
	return f.linker
}

func (f *Flow) touch(now time.Time) {
	f.mu.Lock()
	f.lastAccess = now
	f.mu.Unlock()
}

func (f *Flow) expired(now time.Time, ttl time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return now.Sub(f.lastAccess) > ttl
}

// Store はフローをIDで管理する。
type Store struct {
	config         Config
	signInPlatform auth.Platform
	gmailPlatform  auth.Platform
	logger         *slog.Logger
	now            func() time.Time

	mu    sync.RWMutex
	flows map[string]*Flow

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewStore は新しいStoreを生成する。
// バックグラウンドで期限切れフローのクリーンアップを開始する。
func NewStore(config Config, signInPlatform, gmailPlatform auth.Platform, logger *slog.Logger) *Store {
	s := newStore(config, signInPlatform, gmailPlatform, logger)
	go s.cleanupLoop()
	return s
}

func newStore(config Config, signInPlatform, gmailPlatform auth.Platform, logger *slog.Logger) *Store {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}
	return &Store{
		config:         config,
		signInPlatform: signInPlatform,
		gmailPlatform:  gmailPlatform,
		logger:         logger,
		now:            time.Now,
		flows:          make(map[string]*Flow),
		stopCh:         make(chan struct{}),
	}
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Create は新しいフローを生成して登録する。
func (s *Store) Create() *Flow {
	now := s.now()
	f := &Flow{
		id:         ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		signIn:     auth.NewSignInControl(s.signInPlatform, s.logger),
		gmail:      auth.NewSignInControl(s.gmailPlatform, s.logger),
		lastAccess: now,
	}

	s.mu.Lock()
	s.flows[f.id] = f
	s.mu.Unlock()

	return f
}

// Get はIDに対応する有効なフローを返し、有効期間を延長する。
// 存在しない、または期限切れの場合は false を返す。
func (s *Store) Get(id string) (*Flow, bool) {
	if _, err := ulid.ParseStrict(id); err != nil {
		return nil, false
	}

	s.mu.RLock()
	f, ok := s.flows[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	now := s.now()
	if f.expired(now, s.config.TTL) {
		s.Delete(id)
		return nil, false
	}
	f.touch(now)
	return f, true
}

// GetOrCreate はIDに対応するフローを返す。なければ新しく作る。
// 2つ目の戻り値は新規作成したかどうか。
func (s *Store) GetOrCreate(id string) (*Flow, bool) {
	if f, ok := s.Get(id); ok {
		return f, false
	}
	return s.Create(), true
}

// Delete はフローを破棄する。
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.flows, id)
	s.mu.Unlock()
}

// Len は管理中のフロー数を返す。テストおよびメトリクス用。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.flows)
}

// TTL はフローの有効期間を返す。
func (s *Store) TTL() time.Duration {
	return s.config.TTL
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup は最終アクセスからTTLを超えたフローを削除する。
func (s *Store) cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, f := range s.flows {
		if f.expired(now, s.config.TTL) {
			delete(s.flows, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("expired flows removed", slog.Int("count", removed))
	}
}

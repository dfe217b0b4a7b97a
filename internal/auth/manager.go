// Package auth は X-API-Key による API 認証を提供します。
package auth

import (
	"crypto/subtle"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/reel-forge/internal/config"
)

// HeaderAPIKey は API キーを受け取るヘッダーです。
const HeaderAPIKey = "X-API-Key"

var (
	attemptWindow   = 15 * time.Minute
	lockDuration    = 10 * time.Minute
	maxFailedChecks = 5
)

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// Manager は API キーの検証と失敗回数の管理を行います。
// キーもハッシュも設定されていない場合、認証は無効です。
type Manager struct {
	apiKey     string
	apiKeyHash string
	now        func() time.Time

	lock     sync.Mutex
	attempts map[string]*attemptState
}

// NewManager は設定から認証マネージャーを作成します。
func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		apiKey:     cfg.APIKey,
		apiKeyHash: cfg.APIKeyHash,
		now:        time.Now,
		attempts:   make(map[string]*attemptState),
	}
}

// Enabled は API キー認証が有効かどうかを返します。
func (m *Manager) Enabled() bool {
	return m.apiKey != "" || m.apiKeyHash != ""
}

// Verify は受け取ったキーが設定と一致するかを返します。
// 平文キーは定数時間で比較し、ハッシュは bcrypt で検証します。
func (m *Manager) Verify(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	if m.apiKey != "" && subtle.ConstantTimeCompare([]byte(m.apiKey), []byte(key)) == 1 {
		return true
	}
	if m.apiKeyHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(m.apiKeyHash), []byte(key)) == nil
	}
	return false
}

func (m *Manager) checkLock(ip string) time.Duration {
	m.lock.Lock()
	defer m.lock.Unlock()

	state, ok := m.attempts[ip]
	if !ok {
		return 0
	}
	now := m.now()
	if now.After(state.lockedUntil) {
		return 0
	}
	return state.lockedUntil.Sub(now)
}

func (m *Manager) recordFailure(ip string) int {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := m.now()
	state, ok := m.attempts[ip]
	if !ok || now.Sub(state.firstAttempt) > attemptWindow {
		state = &attemptState{firstAttempt: now}
		m.attempts[ip] = state
	}

	state.count++
	if state.count >= maxFailedChecks {
		state.lockedUntil = now.Add(lockDuration)
		state.count = maxFailedChecks
	}

	remaining := maxFailedChecks - state.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (m *Manager) resetAttempts(ip string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.attempts, ip)
}

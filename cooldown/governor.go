// Package cooldown은 재연결 폭주로부터 원격 게이트웨이를 보호하는
// 시도 횟수 기반 거버너를 구현합니다. 짧은 기간에 너무 많은 시도가
// 쌓이면 하드 쿨다운 창을 열고, 창이 끝날 때까지 모든 시도를 거부합니다.
package cooldown

import (
	"sync"
	"time"
)

// 기본값.
const (
	// DefaultMaxAttempts는 쿨다운이 열리기 전 허용되는 시도 횟수입니다.
	DefaultMaxAttempts = 3
	// DefaultWindow는 쿨다운 지속 시간입니다.
	DefaultWindow = 120 * time.Second
)

// Governor는 연결 하나에 대한 재연결 시도를 계수합니다.
// 컨트롤러 인스턴스가 단독으로 소유하며 연결 간에 공유하지 않습니다.
type Governor struct {
	mu sync.Mutex

	maxAttempts int
	window      time.Duration
	// minInterval은 연속 시도 사이의 최소 간격입니다. 0이면 비활성입니다.
	minInterval time.Duration

	attempts       int
	cooldownEndsAt time.Time // 0값이면 쿨다운 없음
	lastAttemptAt  time.Time
}

// Snapshot은 거버너 상태의 읽기 전용 스냅샷입니다.
// 통합 상태 투영이 인메모리 쿨다운을 반영할 수 있도록 노출됩니다.
type Snapshot struct {
	Attempts       int
	InCooldown     bool
	CooldownEndsAt *time.Time
	LastAttemptAt  time.Time
}

// NewGovernor는 새 거버너를 생성합니다.
// maxAttempts가 0 이하이면 DefaultMaxAttempts를, window가 0 이하이면
// DefaultWindow를 사용합니다.
func NewGovernor(maxAttempts int, window, minInterval time.Duration) *Governor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Governor{
		maxAttempts: maxAttempts,
		window:      window,
		minInterval: minInterval,
	}
}

// RegisterAttempt는 재연결 시도를 등록하고 허용 여부를 반환합니다.
// 시도 횟수가 한도를 초과하면 원자적으로 카운터를 0으로 되돌리고
// now + window까지 쿨다운 창을 엽니다. 초과를 일으킨 호출과 창이
// 끝나기 전의 모든 호출은 거부됩니다. 창이 만료된 뒤의 첫 호출은
// 카운터 1로 다시 허용됩니다.
func (g *Governor) RegisterAttempt(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.cooldownEndsAt.IsZero() {
		if now.Before(g.cooldownEndsAt) {
			return false
		}
		// 창 만료: 카운터를 초기화하고 새 시도를 평가
		g.cooldownEndsAt = time.Time{}
		g.attempts = 0
	}

	// 최소 간격 스로틀 (병렬 시도 방지의 1차 방어선)
	if g.minInterval > 0 && !g.lastAttemptAt.IsZero() && now.Sub(g.lastAttemptAt) < g.minInterval {
		return false
	}

	g.attempts++
	g.lastAttemptAt = now

	if g.attempts > g.maxAttempts {
		g.attempts = 0
		g.cooldownEndsAt = now.Add(g.window)
		return false
	}

	return true
}

// Reset은 시도 카운터와 쿨다운을 초기화합니다.
// 페어링 성공이 확인되었을 때만 호출해야 합니다.
func (g *Governor) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.attempts = 0
	g.cooldownEndsAt = time.Time{}
}

// SnapshotAt은 now 기준의 상태 스냅샷을 반환합니다.
func (g *Governor) SnapshotAt(now time.Time) Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := Snapshot{
		Attempts:      g.attempts,
		LastAttemptAt: g.lastAttemptAt,
	}
	if !g.cooldownEndsAt.IsZero() && now.Before(g.cooldownEndsAt) {
		snap.InCooldown = true
		endsAt := g.cooldownEndsAt
		snap.CooldownEndsAt = &endsAt
	}
	return snap
}

// Remaining은 now 기준으로 쿨다운이 끝날 때까지 남은 시간을 반환합니다.
// 쿨다운 중이 아니면 0을 반환합니다.
func (g *Governor) Remaining(now time.Time) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cooldownEndsAt.IsZero() || !now.Before(g.cooldownEndsAt) {
		return 0
	}
	return g.cooldownEndsAt.Sub(now)
}

package cooldown

import (
	"testing"
	"time"
)

// TestGovernorCeilingScenario는 한도 3 기준의 전체 시나리오를 검증합니다:
// 1~3회 허용, 4회째에 거부와 함께 쿨다운 개방, 창 안의 호출 거부,
// 창 만료 후 첫 호출은 카운터 1로 다시 허용.
func TestGovernorCeilingScenario(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	g := NewGovernor(3, 120*time.Second, 0)

	for i := 0; i < 3; i++ {
		now := base.Add(time.Duration(i) * time.Second)
		if !g.RegisterAttempt(now) {
			t.Fatalf("%d번째 시도가 거부됨, 허용되어야 합니다", i+1)
		}
	}

	// 4번째 시도: 거부 + 쿨다운 창 개방
	fourth := base.Add(3 * time.Second)
	if g.RegisterAttempt(fourth) {
		t.Fatal("4번째 시도는 거부되어야 합니다")
	}
	snap := g.SnapshotAt(fourth)
	if !snap.InCooldown {
		t.Fatal("4번째 시도 후 쿨다운이 열려야 합니다")
	}
	if snap.Attempts != 0 {
		t.Errorf("쿨다운 개방과 동시에 카운터가 0이어야 합니다, got %d", snap.Attempts)
	}
	wantEnd := fourth.Add(120 * time.Second)
	if snap.CooldownEndsAt == nil || !snap.CooldownEndsAt.Equal(wantEnd) {
		t.Errorf("CooldownEndsAt = %v, want %v", snap.CooldownEndsAt, wantEnd)
	}

	// 창 안의 호출은 전부 거부
	if g.RegisterAttempt(fourth.Add(60 * time.Second)) {
		t.Error("쿨다운 창 안의 시도는 거부되어야 합니다")
	}

	// 창 만료 후 첫 호출은 카운터 1로 허용
	after := wantEnd.Add(time.Second)
	if !g.RegisterAttempt(after) {
		t.Fatal("쿨다운 만료 후 첫 시도는 허용되어야 합니다")
	}
	snap = g.SnapshotAt(after)
	if snap.InCooldown {
		t.Error("만료 후에는 쿨다운이 아니어야 합니다")
	}
	if snap.Attempts != 1 {
		t.Errorf("만료 후 첫 시도의 카운터 = %d, want 1", snap.Attempts)
	}
}

// TestGovernorReset은 페어링 성공 시의 초기화를 검증합니다.
func TestGovernorReset(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	g := NewGovernor(3, 120*time.Second, 0)

	for i := 0; i < 4; i++ {
		g.RegisterAttempt(base.Add(time.Duration(i) * time.Second))
	}
	if !g.SnapshotAt(base.Add(5 * time.Second)).InCooldown {
		t.Fatal("전제 실패: 쿨다운이 열려 있어야 합니다")
	}

	g.Reset()

	now := base.Add(6 * time.Second)
	if !g.RegisterAttempt(now) {
		t.Error("Reset 직후의 시도는 허용되어야 합니다")
	}
	if g.SnapshotAt(now).InCooldown {
		t.Error("Reset 후에는 쿨다운이 아니어야 합니다")
	}
}

// TestGovernorMinInterval은 연속 시도 최소 간격 스로틀을 검증합니다.
func TestGovernorMinInterval(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	g := NewGovernor(10, 120*time.Second, 500*time.Millisecond)

	if !g.RegisterAttempt(base) {
		t.Fatal("첫 시도는 허용되어야 합니다")
	}
	if g.RegisterAttempt(base.Add(100 * time.Millisecond)) {
		t.Error("최소 간격 안의 시도는 거부되어야 합니다")
	}
	if !g.RegisterAttempt(base.Add(time.Second)) {
		t.Error("최소 간격이 지난 시도는 허용되어야 합니다")
	}
}

// TestGovernorRemaining은 남은 쿨다운 시간 계산을 검증합니다.
func TestGovernorRemaining(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	g := NewGovernor(1, 120*time.Second, 0)

	if g.Remaining(base) != 0 {
		t.Error("쿨다운 전에는 Remaining이 0이어야 합니다")
	}

	g.RegisterAttempt(base)
	g.RegisterAttempt(base.Add(time.Second)) // 한도 초과, 쿨다운 개방

	got := g.Remaining(base.Add(31 * time.Second))
	want := 90 * time.Second
	if got != want {
		t.Errorf("Remaining = %v, want %v", got, want)
	}

	if g.Remaining(base.Add(5 * time.Minute)) != 0 {
		t.Error("만료 후에는 Remaining이 0이어야 합니다")
	}
}

// TestGovernorDefaults는 0 이하 파라미터에 기본값이 적용되는지 검증합니다.
func TestGovernorDefaults(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	g := NewGovernor(0, 0, 0)

	for i := 0; i < DefaultMaxAttempts; i++ {
		if !g.RegisterAttempt(base.Add(time.Duration(i) * time.Second)) {
			t.Fatalf("%d번째 시도가 거부됨, 기본 한도 안에서는 허용되어야 합니다", i+1)
		}
	}
	over := base.Add(time.Duration(DefaultMaxAttempts) * time.Second)
	if g.RegisterAttempt(over) {
		t.Error("기본 한도를 초과한 시도는 거부되어야 합니다")
	}
	if got := g.Remaining(over); got != DefaultWindow {
		t.Errorf("Remaining = %v, want %v", got, DefaultWindow)
	}
}

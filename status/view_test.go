package status

import (
	"testing"
	"time"
)

// TestBuildView는 레코드 필드와 쿨다운 스냅샷의 합성 규칙을 검증합니다.
func TestBuildView(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-10 * time.Second)
	dark := now.Add(-10 * time.Minute)

	t.Run("connected에 신선한 하트비트면 usable", func(t *testing.T) {
		v := BuildView(Input{
			Orchestrated:  "connected",
			LastHeartbeat: &fresh,
			PhoneNumber:   "821012345678",
		}, CooldownInfo{}, now)

		if v.Status != Connected {
			t.Errorf("Status = %q, want %q", v.Status, Connected)
		}
		if !v.Usable {
			t.Error("Usable = false, want true")
		}
		if v.PhoneNumber != "821012345678" {
			t.Errorf("PhoneNumber = %q, want %q", v.PhoneNumber, "821012345678")
		}
	})

	t.Run("레코드가 connected여도 하트비트가 어두우면 사용 불가", func(t *testing.T) {
		v := BuildView(Input{
			Orchestrated:  "connected",
			LastHeartbeat: &dark,
		}, CooldownInfo{}, now)

		if v.Status != Connected {
			t.Errorf("Status = %q, want %q", v.Status, Connected)
		}
		if v.Usable {
			t.Error("하트비트가 끊긴 연결은 Usable이면 안 됩니다")
		}
		if !v.HeartbeatStale || !v.HeartbeatDead {
			t.Errorf("HeartbeatStale=%v HeartbeatDead=%v, want true/true", v.HeartbeatStale, v.HeartbeatDead)
		}
	})

	t.Run("하트비트 자체가 없으면 stale/dead 모두 참", func(t *testing.T) {
		v := BuildView(Input{Orchestrated: "connected"}, CooldownInfo{}, now)
		if !v.HeartbeatStale || !v.HeartbeatDead || v.Usable {
			t.Errorf("결과 = %+v, 하트비트 없음은 stale+dead+unusable이어야 합니다", v)
		}
	})

	t.Run("쿨다운은 영속 상태보다 우선", func(t *testing.T) {
		endsAt := now.Add(90 * time.Second)
		v := BuildView(Input{
			Orchestrated:  "connected",
			LastHeartbeat: &fresh,
		}, CooldownInfo{InCooldown: true, EndsAt: &endsAt, Attempts: 0}, now)

		if v.Status != Cooldown {
			t.Errorf("Status = %q, want %q", v.Status, Cooldown)
		}
		if v.Usable {
			t.Error("쿨다운 중에는 Usable이면 안 됩니다")
		}
		if !v.InCooldown || v.CooldownEndsAt == nil || !v.CooldownEndsAt.Equal(endsAt) {
			t.Errorf("쿨다운 정보가 투영에 반영되지 않았습니다: %+v", v)
		}
	})

	t.Run("빈 레코드는 idle", func(t *testing.T) {
		v := BuildView(Input{}, CooldownInfo{}, now)
		if v.Status != Idle {
			t.Errorf("Status = %q, want %q", v.Status, Idle)
		}
	})
}

// TestBuildViewWithThresholds는 임계값 재정의가 적용되는지 검증합니다.
func TestBuildViewWithThresholds(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	hb := now.Add(-45 * time.Second)

	v := BuildViewWith(Input{Orchestrated: "connected", LastHeartbeat: &hb},
		CooldownInfo{}, now, 30*time.Second, 60*time.Second)

	if !v.HeartbeatStale {
		t.Error("45초 전 하트비트는 30초 임계값에서 stale이어야 합니다")
	}
	if v.HeartbeatDead {
		t.Error("45초 전 하트비트는 60초 임계값에서 dead가 아니어야 합니다")
	}
	if !v.Usable {
		t.Error("stale이지만 dead가 아니면 Usable이어야 합니다")
	}
}

package status

import "time"

// Input은 통합 상태 계산에 필요한 영속 레코드 필드입니다.
type Input struct {
	// Orchestrated, Effective, Legacy는 중첩된 상태 필드입니다 (우선순위 순).
	Orchestrated string
	Effective    string
	Legacy       string
	// LastHeartbeat는 게이트웨이가 마지막으로 살아있음을 확인한 시각입니다.
	LastHeartbeat *time.Time
	// PhoneNumber는 페어링된 계정 식별자입니다 (페어링 전에는 빈 문자열).
	PhoneNumber string
}

// CooldownInfo는 인메모리 쿨다운 상태의 스냅샷입니다.
type CooldownInfo struct {
	InCooldown bool
	EndsAt     *time.Time
	Attempts   int
}

// UnifiedView는 소비자에게 노출되는 단일 상태 투영입니다.
// 폴링 틱과 푸시 알림마다 재계산되며 절대 영속화되지 않습니다.
type UnifiedView struct {
	Status            Status     `json:"status"`
	Usable            bool       `json:"usable"`
	LastHeartbeat     *time.Time `json:"last_heartbeat,omitempty"`
	HeartbeatStale    bool       `json:"heartbeat_stale"`
	HeartbeatDead     bool       `json:"heartbeat_dead"`
	PhoneNumber       string     `json:"phone_number,omitempty"`
	InCooldown        bool       `json:"in_cooldown"`
	CooldownEndsAt    *time.Time `json:"cooldown_ends_at,omitempty"`
	ReconnectAttempts int        `json:"reconnect_attempts"`
}

// BuildView는 레코드와 쿨다운 스냅샷으로 통합 상태를 계산합니다.
func BuildView(in Input, cd CooldownInfo, now time.Time) UnifiedView {
	return BuildViewWith(in, cd, now, StaleThreshold, DeadThreshold)
}

// BuildViewWith는 하트비트 임계값을 지정하여 통합 상태를 계산합니다.
func BuildViewWith(in Input, cd CooldownInfo, now time.Time, stale, dead time.Duration) UnifiedView {
	s := Resolve(in.Orchestrated, in.Effective, in.Legacy)
	hb := EvalHeartbeatWith(in.LastHeartbeat, now, stale, dead)

	// 쿨다운은 영속 상태보다 우선하여 표시됩니다.
	if cd.InCooldown {
		s = Cooldown
	}

	return UnifiedView{
		Status:            s,
		Usable:            Usable(s, hb),
		LastHeartbeat:     in.LastHeartbeat,
		HeartbeatStale:    hb.Stale,
		HeartbeatDead:     hb.Dead,
		PhoneNumber:       in.PhoneNumber,
		InCooldown:        cd.InCooldown,
		CooldownEndsAt:    cd.EndsAt,
		ReconnectAttempts: cd.Attempts,
	}
}

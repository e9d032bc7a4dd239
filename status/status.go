// Package status는 연결 상태 정합 엔진입니다.
// 영속 레코드의 중첩된 상태 필드와 하트비트 시각, 쿨다운 상태를 입력으로
// 받아 단일 통합 상태를 계산합니다. 모든 함수는 순수 함수이며 I/O가 없습니다.
package status

import (
	"strings"
	"time"
)

// Status는 오케스트레이션된 연결 상태입니다.
// 원격 호출자가 계산하지 않으며, 이 패키지에서만 파생됩니다.
type Status string

const (
	// Idle은 아무 연결 시도도 진행 중이지 않은 상태입니다.
	Idle Status = "idle"
	// Connecting은 연결 시도가 진행 중인 상태입니다.
	Connecting Status = "connecting"
	// QRPending은 QR 코드 스캔을 기다리는 상태입니다.
	QRPending Status = "qr_pending"
	// Stabilizing은 페어링 직후 전송 준비를 확인하는 과도 상태입니다.
	Stabilizing Status = "stabilizing"
	// Connected는 페어링이 완료된 상태입니다.
	Connected Status = "connected"
	// Disconnected는 연결이 끊어진 상태입니다.
	Disconnected Status = "disconnected"
	// Error는 복구 불가능한 실패 상태입니다.
	Error Status = "error"
	// Cooldown은 재연결 폭주 방지 잠금이 걸린 상태입니다.
	Cooldown Status = "cooldown"
)

// Valid는 s가 정식 상태값인지 확인합니다.
func (s Status) Valid() bool {
	switch s {
	case Idle, Connecting, QRPending, Stabilizing, Connected, Disconnected, Error, Cooldown:
		return true
	default:
		return false
	}
}

// Normalize는 레거시·대체 표기를 정식 상태값으로 변환합니다.
// 알 수 없거나 빈 입력은 Idle로 매핑됩니다.
func Normalize(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "idle":
		return Idle
	case "connecting", "loading", "initializing":
		return Connecting
	case "qr_pending", "qrcode", "qr", "waiting", "scan":
		return QRPending
	case "stabilizing":
		return Stabilizing
	case "connected", "ready", "open", "online":
		return Connected
	case "disconnected", "offline", "closed", "close":
		return Disconnected
	case "error", "failed", "failure":
		return Error
	case "cooldown":
		return Cooldown
	default:
		return Idle
	}
}

// Resolve는 중첩된 세 상태 필드를 우선순위 순서로 조회합니다.
// orchestrated > effective > legacy 순이며, 값이 있는 첫 필드가 이깁니다.
func Resolve(orchestrated, effective, legacy string) Status {
	for _, raw := range []string{orchestrated, effective, legacy} {
		if strings.TrimSpace(raw) != "" {
			return Normalize(raw)
		}
	}
	return Idle
}

// 하트비트 임계값.
// Stale은 참고용 UI 힌트이고, Dead는 사용 가능 여부 판정에 직접 쓰입니다.
const (
	// StaleThreshold를 넘으면 하트비트가 오래된 것으로 간주합니다.
	StaleThreshold = 180 * time.Second
	// DeadThreshold를 넘으면 하트비트가 끊긴 것으로 간주합니다.
	DeadThreshold = 300 * time.Second
)

// Heartbeat는 하트비트 신선도 판정 결과입니다.
type Heartbeat struct {
	Stale bool
	Dead  bool
}

// EvalHeartbeat는 마지막 하트비트 시각으로 신선도를 판정합니다.
// 하트비트가 없으면 Stale과 Dead 모두 true입니다.
func EvalHeartbeat(last *time.Time, now time.Time) Heartbeat {
	return EvalHeartbeatWith(last, now, StaleThreshold, DeadThreshold)
}

// EvalHeartbeatWith는 임계값을 지정하여 신선도를 판정합니다.
func EvalHeartbeatWith(last *time.Time, now time.Time, stale, dead time.Duration) Heartbeat {
	if last == nil || last.IsZero() {
		return Heartbeat{Stale: true, Dead: true}
	}
	age := now.Sub(*last)
	return Heartbeat{
		Stale: age > stale,
		Dead:  age > dead,
	}
}

// Usable은 연결을 지금 신뢰해도 되는지 판정합니다.
// 상태가 Connected이면서 하트비트가 끊기지 않았을 때만 true입니다.
// 레코드가 connected라고 말해도 하트비트가 어두워지면 사용 불가입니다.
func Usable(s Status, hb Heartbeat) bool {
	return s == Connected && !hb.Dead
}

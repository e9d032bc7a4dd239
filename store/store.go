// Package store는 영속·알림 포트입니다.
// 연결 레코드를 보관하는 시스템 오브 레코드와, 상태 전이 요청을
// 검증하는 권한(authority)에 대한 인터페이스를 정의합니다.
// 저장 기술 자체는 불투명합니다: 이 패키지는 포인트 읽기, 부분 갱신,
// 행 단위 변경 구독만을 요구합니다.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound는 레코드가 존재하지 않음을 나타냅니다.
	ErrNotFound = errors.New("레코드를 찾을 수 없습니다")
	// ErrTransitionRejected는 전이 권한이 요청을 거부했음을 나타냅니다.
	// 컨트롤러는 이 오류를 기록만 하고 워크플로를 계속합니다 (비치명적).
	ErrTransitionRejected = errors.New("상태 전이가 거부되었습니다")
)

// 레코드 필드 이름. WriteFields의 키로 사용됩니다.
const (
	FieldOrchestratedStatus = "orchestrated_status"
	FieldEffectiveStatus    = "effective_status"
	FieldLegacyStatus       = "status"
	FieldLastHeartbeat      = "last_heartbeat"
	FieldPhoneNumber        = "phone_number"
)

// Record는 영속 연결 레코드입니다.
// 라이프사이클 컨트롤러와 게이트웨이 측 하트비트 기록자가 함께 변경합니다.
type Record struct {
	ID string
	// OrchestratedStatus, EffectiveStatus, LegacyStatus는 중첩된 상태
	// 필드입니다. 첫 번째가 권위이며 나머지는 과도기·레거시 소스입니다.
	OrchestratedStatus string
	EffectiveStatus    string
	LegacyStatus       string
	// LastHeartbeat는 게이트웨이가 마지막으로 살아있음을 확인한 시각입니다.
	// 이 엔진이 아니라 외부 기록자가 씁니다.
	LastHeartbeat *time.Time
	// PhoneNumber는 페어링 후에만 존재하는 계정 식별자입니다.
	PhoneNumber string
	// SessionData는 호출 간 상태를 담는 열린 키/값 백입니다
	// (캐시된 플레이버, 준비 플래그, 타임스탬프). 항상 읽기-병합-쓰기로만
	// 갱신되며, 갱신에 없는 기존 키는 살아남아야 합니다.
	SessionData map[string]any
	UpdatedAt   time.Time
}

// Clone은 레코드의 깊은 복사본을 반환합니다.
// 구독자 콜백에 전달되는 레코드가 원본과 공유되지 않도록 합니다.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	if r.LastHeartbeat != nil {
		hb := *r.LastHeartbeat
		cp.LastHeartbeat = &hb
	}
	if r.SessionData != nil {
		cp.SessionData = make(map[string]any, len(r.SessionData))
		for k, v := range r.SessionData {
			cp.SessionData[k] = v
		}
	}
	return &cp
}

// ChangeFunc는 레코드 변경 알림 콜백입니다.
type ChangeFunc func(rec *Record)

// RecordStore는 연결 레코드 저장소입니다.
type RecordStore interface {
	// Read는 레코드를 조회합니다. 없으면 ErrNotFound를 반환합니다.
	Read(ctx context.Context, id string) (*Record, error)
	// WriteFields는 명시된 필드만 갱신합니다 (비상태 필드 직접 쓰기 경로).
	// 키는 Field* 상수를 사용합니다.
	WriteFields(ctx context.Context, id string, fields map[string]any) error
	// MergeSessionData는 세션 백을 읽기-병합-쓰기로 갱신합니다.
	// 키 단위 last-writer-wins이되, kv에 없는 기존 키는 유지됩니다.
	MergeSessionData(ctx context.Context, id string, kv map[string]any) error
	// Subscribe는 레코드 변경 푸시 알림을 등록하고 해제 함수를 반환합니다.
	Subscribe(ctx context.Context, id string, fn ChangeFunc) (func(), error)
}

// TransitionResult는 전이 요청의 결과입니다.
type TransitionResult struct {
	Success bool
	Error   string
}

// TransitionAuthority는 상태 필드 변경을 검증하는 권한입니다.
// 현재 기록된 상태에 대해 유효하지 않다고 판단한 전이를 거부할 수
// 있으며, 엔진은 거부를 치명적이지 않게 받아들여야 합니다.
type TransitionAuthority interface {
	RequestTransition(ctx context.Context, id, newStatus, source string, payload map[string]any) (TransitionResult, error)
}

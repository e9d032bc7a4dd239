package lifecycle

import "errors"

var (
	// ErrCooldownActive는 거버너가 시도를 거부했음을 나타냅니다.
	// 메시지에 남은 대기 시간이 포함됩니다.
	ErrCooldownActive = errors.New("재연결 쿨다운이 진행 중입니다")
	// ErrHandshakeTimeout은 페어링 대기 한도를 초과했음을 나타냅니다.
	// 타임아웃이어도 영속 상태는 강등하지 않습니다.
	ErrHandshakeTimeout = errors.New("페어링 대기 시간이 초과되었습니다")
	// ErrConnectInFlight는 같은 연결에 대해 연결 시퀀스가 이미 진행
	// 중임을 나타냅니다. 새 요청은 병렬 실행되지 않고 거부됩니다.
	ErrConnectInFlight = errors.New("이미 연결 시도가 진행 중입니다")
	// ErrCancelled는 사용자가 대기를 명시적으로 취소했음을 나타냅니다.
	ErrCancelled = errors.New("연결 시도가 취소되었습니다")
)

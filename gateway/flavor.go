// Package gateway는 중계 릴레이를 통해 원격 메시징 게이트웨이를 호출하는
// 프로브 클라이언트입니다. 게이트웨이는 두 가지 프로토콜 플레이버로
// 존재하며, 엔드포인트 경로와 응답 필드 이름이 서로 다릅니다.
// 클라이언트는 플레이버를 감지해 세션 백에 캐시하고, 서로 다른 응답
// 형태를 하나의 정규화된 결과로 변환합니다.
package gateway

// Flavor는 원격 게이트웨이의 프로토콜 형태 변형입니다.
type Flavor string

const (
	// FlavorModern은 신형 게이트웨이입니다. 연결에 실패해 플레이버를
	// 판별할 수 없으면 이쪽으로 가정합니다 (더 풍부한 프로토콜로 fail open).
	FlavorModern Flavor = "modern"
	// FlavorLegacy는 구형 게이트웨이입니다.
	FlavorLegacy Flavor = "legacy"
)

// SessionKeyFlavor는 세션 백에 캐시되는 플레이버 키입니다.
const SessionKeyFlavor = "backend_flavor"

// Valid는 f가 알려진 플레이버인지 확인합니다.
func (f Flavor) Valid() bool {
	return f == FlavorModern || f == FlavorLegacy
}

// Other는 반대쪽 플레이버를 반환합니다.
func (f Flavor) Other() Flavor {
	if f == FlavorModern {
		return FlavorLegacy
	}
	return FlavorModern
}

// statusPath는 연결 상태 조회 경로입니다.
func (f Flavor) statusPath(connectionID string) string {
	if f == FlavorLegacy {
		return "/api/" + connectionID + "/status-session"
	}
	return "/instance/connectionState/" + connectionID
}

// connectPath는 연결(세션 시작) 요청 경로입니다.
func (f Flavor) connectPath(connectionID string) string {
	if f == FlavorLegacy {
		return "/api/" + connectionID + "/start-session"
	}
	return "/instance/connect/" + connectionID
}

// qrPath는 QR 페이로드 조회 경로입니다.
func (f Flavor) qrPath(connectionID string) string {
	if f == FlavorLegacy {
		return "/api/" + connectionID + "/qrcode-session"
	}
	return "/instance/qrcode/" + connectionID
}

// disconnectPath는 연결 종료 경로입니다.
func (f Flavor) disconnectPath(connectionID string) string {
	if f == FlavorLegacy {
		return "/api/" + connectionID + "/close-session"
	}
	return "/instance/logout/" + connectionID
}

// sendPath는 메시지 전송 경로입니다.
func (f Flavor) sendPath(connectionID string) string {
	if f == FlavorLegacy {
		return "/api/" + connectionID + "/send-message"
	}
	return "/message/sendText/" + connectionID
}

// createPath는 논리 연결 생성 경로입니다 (신형 전용).
func (f Flavor) createPath() string {
	return "/instance/create"
}

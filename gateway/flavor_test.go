package gateway

import "testing"

// TestFlavorValid는 플레이버 유효성 검사를 검증합니다.
func TestFlavorValid(t *testing.T) {
	if !FlavorModern.Valid() || !FlavorLegacy.Valid() {
		t.Error("정식 플레이버는 유효해야 합니다")
	}
	if Flavor("").Valid() || Flavor("뭔가").Valid() {
		t.Error("알 수 없는 플레이버는 유효하지 않아야 합니다")
	}
}

// TestFlavorOther는 반대 플레이버 조회를 검증합니다.
func TestFlavorOther(t *testing.T) {
	if FlavorModern.Other() != FlavorLegacy {
		t.Errorf("modern.Other() = %q, want %q", FlavorModern.Other(), FlavorLegacy)
	}
	if FlavorLegacy.Other() != FlavorModern {
		t.Errorf("legacy.Other() = %q, want %q", FlavorLegacy.Other(), FlavorModern)
	}
}

// TestFlavorPaths는 플레이버별 경로 구성을 검증합니다.
func TestFlavorPaths(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"신형 상태", FlavorModern.statusPath("c1"), "/instance/connectionState/c1"},
		{"신형 연결", FlavorModern.connectPath("c1"), "/instance/connect/c1"},
		{"신형 QR", FlavorModern.qrPath("c1"), "/instance/qrcode/c1"},
		{"신형 종료", FlavorModern.disconnectPath("c1"), "/instance/logout/c1"},
		{"신형 전송", FlavorModern.sendPath("c1"), "/message/sendText/c1"},
		{"신형 생성", FlavorModern.createPath(), "/instance/create"},
		{"구형 상태", FlavorLegacy.statusPath("c1"), "/api/c1/status-session"},
		{"구형 연결", FlavorLegacy.connectPath("c1"), "/api/c1/start-session"},
		{"구형 QR", FlavorLegacy.qrPath("c1"), "/api/c1/qrcode-session"},
		{"구형 종료", FlavorLegacy.disconnectPath("c1"), "/api/c1/close-session"},
		{"구형 전송", FlavorLegacy.sendPath("c1"), "/api/c1/send-message"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s 경로 = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

// TestRouteNotFound는 경로 없음 시그니처 판별을 검증합니다.
func TestRouteNotFound(t *testing.T) {
	tests := []struct {
		name string
		res  Result
		want bool
	}{
		{"404 상태 코드", Result{StatusCode: 404}, true},
		{"구형 오류 메시지", Result{StatusCode: 400, Err: "Method not supported"}, true},
		{"Cannot GET 메시지", Result{StatusCode: 500, Err: "Cannot GET /instance/x"}, true},
		{"본문 안의 메시지", Result{StatusCode: 400, Data: map[string]any{"message": "route not found"}}, true},
		{"정상 응답", Result{StatusCode: 200, OK: true}, false},
		{"일반 오류", Result{StatusCode: 500, Err: "내부 오류"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := routeNotFound(tt.res); got != tt.want {
				t.Errorf("routeNotFound(%+v) = %v, want %v", tt.res, got, tt.want)
			}
		})
	}
}

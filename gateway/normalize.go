package gateway

import "strings"

// 두 플레이버는 "페어링됨"과 "전송 준비됨"을 서로 다른 필드로 표현합니다.
// 알려진 모든 필드 이름을 하나의 불리언 쌍으로 매핑합니다.

// normalizePaired는 상태 응답에서 페어링·준비 여부를 추출합니다.
func normalizePaired(data map[string]any) (paired, ready bool) {
	if data == nil {
		return false, false
	}

	// 구형: {"connected": true, "status": "inChat"}
	if b, ok := boolField(data, "connected"); ok && b {
		paired = true
	}

	// 신형: {"state": "open"} 또는 {"instance": {"state": "open"}}
	state := strField(data, "state")
	if state == "" {
		if inst, ok := data["instance"].(map[string]any); ok {
			state = strField(inst, "state")
		}
	}
	switch strings.ToLower(state) {
	case "open", "connected":
		paired = true
	}

	// 과도기: {"connectionStatus": "connected"}
	if strings.EqualFold(strField(data, "connectionStatus"), "connected") {
		paired = true
	}

	// 상태 문자열 별칭
	switch strings.ToLower(strField(data, "status")) {
	case "connected", "inchat", "ischat", "open":
		paired = true
	}

	// 준비 여부: 명시 필드가 있으면 따르고, 없으면 페어링 여부를 따름
	if b, ok := boolField(data, "ready"); ok {
		ready = b
	} else if b, ok := boolField(data, "isReady"); ok {
		ready = b
	} else {
		ready = paired
	}

	return paired, ready
}

// normalizePhone은 페어링된 계정 식별자를 가능한 모든 필드에서 추출합니다.
func normalizePhone(data map[string]any) string {
	if data == nil {
		return ""
	}

	candidates := []string{"phoneNumber", "phone_number", "phone", "number", "wid", "owner"}
	for _, key := range candidates {
		if v := strField(data, key); v != "" {
			return cleanPhone(v)
		}
	}

	// 신형: {"instance": {"owner": "821012345678@s.whatsapp.net"}}
	if inst, ok := data["instance"].(map[string]any); ok {
		for _, key := range candidates {
			if v := strField(inst, key); v != "" {
				return cleanPhone(v)
			}
		}
	}

	return ""
}

// cleanPhone은 게이트웨이 내부 주소 접미사를 제거합니다.
func cleanPhone(v string) string {
	if i := strings.IndexByte(v, '@'); i >= 0 {
		v = v[:i]
	}
	if i := strings.IndexByte(v, ':'); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

// extractQRPayload는 QR 응답에서 원시 페이로드를 추출합니다.
// 플레이버와 버전에 따라 키 이름이 다릅니다.
func extractQRPayload(data map[string]any) string {
	if data == nil {
		return ""
	}
	for _, key := range []string{"base64", "qrcode", "qr", "code", "urlCode"} {
		switch v := data[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			// 중첩 형태: {"qrcode": {"base64": "..."}}
			if inner := extractQRPayload(v); inner != "" {
				return inner
			}
		}
	}
	return ""
}

// errorMessage는 오류 응답 본문에서 사람이 읽을 메시지를 추출합니다.
func errorMessage(data map[string]any) string {
	if data == nil {
		return ""
	}
	for _, key := range []string{"error", "message", "msg"} {
		if v := strField(data, key); v != "" {
			return v
		}
	}
	return ""
}

// boolField는 불리언 필드를 읽습니다. 문자열 "true"/"false"도 허용합니다.
func boolField(data map[string]any, key string) (bool, bool) {
	switch v := data[key].(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(v) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

// strField는 문자열 필드를 읽습니다.
func strField(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// authorityHTTPTimeout은 전이 요청의 HTTP 타임아웃입니다.
const authorityHTTPTimeout = 10 * time.Second

// HTTPAuthority는 외부 전이 검증 권한을 호출하는 클라이언트입니다.
type HTTPAuthority struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPAuthority는 endpoint로 전이 요청을 보내는 권한 클라이언트를 생성합니다.
func NewHTTPAuthority(endpoint, apiKey string) *HTTPAuthority {
	return &HTTPAuthority{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: authorityHTTPTimeout},
	}
}

// transitionRequest는 전이 요청 본문입니다.
type transitionRequest struct {
	ConnectionID string         `json:"connection_id"`
	NewStatus    string         `json:"new_status"`
	Source       string         `json:"source"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// transitionResponse는 전이 응답 본문입니다.
type transitionResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// RequestTransition은 전이 요청을 권한에 전달합니다.
// 권한의 거부는 오류가 아니라 Success=false 결과로 반환됩니다.
func (a *HTTPAuthority) RequestTransition(ctx context.Context, id, newStatus, source string, payload map[string]any) (TransitionResult, error) {
	body, err := json.Marshal(transitionRequest{
		ConnectionID: id,
		NewStatus:    newStatus,
		Source:       source,
		Payload:      payload,
	})
	if err != nil {
		return TransitionResult{}, fmt.Errorf("전이 요청 생성 실패: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return TransitionResult{}, fmt.Errorf("전이 요청 생성 실패: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("apikey", a.apiKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return TransitionResult{}, fmt.Errorf("전이 요청 전송 실패: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var result transitionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return TransitionResult{}, fmt.Errorf("전이 응답 파싱 실패: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if result.Error == "" {
			result.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return TransitionResult{Error: result.Error}, nil
	}

	return TransitionResult{Success: result.Success, Error: result.Error}, nil
}

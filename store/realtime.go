package store

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// 재연결 타이밍.
const (
	realtimeDialTimeout  = 30 * time.Second
	realtimeInitialDelay = 1 * time.Second
	realtimeMaxDelay     = 60 * time.Second
	// realtimeFastRetries는 지수 백오프 적용 전 빠른 재시도 횟수입니다.
	realtimeFastRetries = 3
)

// ChangeEvent는 레코드 변경 푸시 이벤트입니다.
type ChangeEvent struct {
	Type         string      `json:"type"`
	ConnectionID string      `json:"connection_id"`
	Record       *wireRecord `json:"record,omitempty"`
}

// wireRecord는 푸시 피드의 레코드 표현입니다.
type wireRecord struct {
	ID                 string         `json:"id"`
	OrchestratedStatus string         `json:"orchestrated_status"`
	EffectiveStatus    string         `json:"effective_status"`
	LegacyStatus       string         `json:"status"`
	LastHeartbeat      *time.Time     `json:"last_heartbeat,omitempty"`
	PhoneNumber        string         `json:"phone_number,omitempty"`
	SessionData        map[string]any `json:"session_data,omitempty"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// toRecord는 와이어 표현을 Record로 변환합니다.
func (w *wireRecord) toRecord() *Record {
	if w == nil {
		return nil
	}
	return &Record{
		ID:                 w.ID,
		OrchestratedStatus: w.OrchestratedStatus,
		EffectiveStatus:    w.EffectiveStatus,
		LegacyStatus:       w.LegacyStatus,
		LastHeartbeat:      w.LastHeartbeat,
		PhoneNumber:        w.PhoneNumber,
		SessionData:        w.SessionData,
		UpdatedAt:          w.UpdatedAt,
	}
}

// RealtimeSubscriber는 WebSocket 푸시 피드에서 레코드 변경 알림을 받습니다.
// 폴링과 중복되지만 같은 정합 진입점으로 합류하므로 안전합니다.
type RealtimeSubscriber struct {
	url    string
	apiKey string
	dialer *websocket.Dialer
	log    zerolog.Logger
}

// RealtimeOption은 RealtimeSubscriber 설정 옵션입니다.
type RealtimeOption func(*RealtimeSubscriber)

// WithRealtimeLogger는 로거를 설정합니다.
func WithRealtimeLogger(l zerolog.Logger) RealtimeOption {
	return func(s *RealtimeSubscriber) {
		s.log = l
	}
}

// NewRealtimeSubscriber는 새 구독자를 생성합니다.
func NewRealtimeSubscriber(url, apiKey string, opts ...RealtimeOption) *RealtimeSubscriber {
	s := &RealtimeSubscriber{
		url:    url,
		apiKey: apiKey,
		dialer: &websocket.Dialer{HandshakeTimeout: realtimeDialTimeout},
		log:    log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run은 connectionID의 변경 이벤트를 수신하여 fn으로 전달합니다.
// 연결이 끊어지면 횟수 기반 백오프로 재접속하며, ctx가 취소될 때까지
// 블로킹합니다. 수신된 레코드는 fn(rec)로 전달됩니다.
func (s *RealtimeSubscriber) Run(ctx context.Context, connectionID string, fn ChangeFunc) error {
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.runOnce(ctx, connectionID, fn, &attempt)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.log.Debug().Err(err).Str("connection_id", connectionID).
				Int("attempt", attempt).Msg("실시간 피드 끊김, 재접속 대기")
		}

		delay := s.nextDelay(attempt)
		attempt++

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runOnce는 한 번의 연결 수명을 처리합니다.
// 구독이 성사되어 첫 이벤트를 받으면 attempt 카운터를 초기화합니다.
func (s *RealtimeSubscriber) runOnce(ctx context.Context, connectionID string, fn ChangeFunc, attempt *int) error {
	header := http.Header{}
	if s.apiKey != "" {
		header.Set("apikey", s.apiKey)
	}

	conn, _, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		return fmt.Errorf("실시간 피드 연결 실패: %w", err)
	}
	defer func() { _ = conn.Close() }()

	// ctx 취소 시 읽기를 깨우기 위해 연결을 닫습니다.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	// 행 단위 구독 요청
	sub := map[string]string{
		"type":          "subscribe",
		"connection_id": connectionID,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("구독 요청 전송 실패: %w", err)
	}

	for {
		var ev ChangeEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return fmt.Errorf("이벤트 수신 실패: %w", err)
		}

		if ev.ConnectionID != "" && ev.ConnectionID != connectionID {
			continue
		}
		rec := ev.Record.toRecord()
		if rec == nil {
			continue
		}

		*attempt = 0
		fn(rec)
	}
}

// nextDelay는 attempt번째 재접속까지의 대기 시간을 계산합니다.
// 처음 몇 회는 초기 지연을 쓰고, 이후 지수적으로 늘어나되 상한을 지킵니다.
// 재접속은 무한히 반복될 수 있으므로 지수를 먼저 잘라 int64 오버플로로
// 지연이 음수가 되는 일을 막습니다.
func (s *RealtimeSubscriber) nextDelay(attempt int) time.Duration {
	if attempt < realtimeFastRetries {
		return realtimeInitialDelay
	}
	exp := attempt - realtimeFastRetries
	if exp > 30 {
		return realtimeMaxDelay
	}
	delay := time.Duration(float64(realtimeInitialDelay) * math.Pow(2, float64(exp)))
	if delay > realtimeMaxDelay {
		return realtimeMaxDelay
	}
	return delay
}

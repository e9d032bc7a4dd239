package store

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// TestRealtimeSubscriberRun은 구독 요청 전송, 이벤트 수신,
// 다른 연결 이벤트 필터링을 검증합니다.
func TestRealtimeSubscriberRun(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "key" {
			t.Errorf("apikey 헤더 = %q, want %q", r.Header.Get("apikey"), "key")
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("업그레이드 실패: %v", err)
			return
		}
		defer func() { _ = conn.Close() }()

		// 구독 요청 확인
		var sub map[string]string
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("구독 요청 수신 실패: %v", err)
			return
		}
		if sub["type"] != "subscribe" || sub["connection_id"] != "conn-1" {
			t.Errorf("구독 요청 = %v", sub)
		}

		hb := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

		// 다른 연결의 이벤트는 무시되어야 함
		_ = conn.WriteJSON(ChangeEvent{
			Type:         "record_changed",
			ConnectionID: "다른-연결",
			Record:       &wireRecord{ID: "다른-연결", OrchestratedStatus: "error"},
		})

		// 레코드 없는 이벤트도 무시되어야 함
		_ = conn.WriteJSON(ChangeEvent{Type: "ping"})

		// 실제 전달 대상
		_ = conn.WriteJSON(ChangeEvent{
			Type:         "record_changed",
			ConnectionID: "conn-1",
			Record: &wireRecord{
				ID:                 "conn-1",
				OrchestratedStatus: "connected",
				PhoneNumber:        "821012345678",
				LastHeartbeat:      &hb,
			},
		})

		// 클라이언트가 ctx 취소로 연결을 닫을 때까지 대기
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	s := NewRealtimeSubscriber(wsURL, "key")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *Record, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, "conn-1", func(rec *Record) {
			received <- rec
		})
	}()

	select {
	case rec := <-received:
		if rec.ID != "conn-1" {
			t.Errorf("레코드 ID = %q, want %q", rec.ID, "conn-1")
		}
		if rec.OrchestratedStatus != "connected" {
			t.Errorf("OrchestratedStatus = %q, want %q", rec.OrchestratedStatus, "connected")
		}
		if rec.PhoneNumber != "821012345678" {
			t.Errorf("PhoneNumber = %q, want %q", rec.PhoneNumber, "821012345678")
		}
		if rec.LastHeartbeat == nil {
			t.Error("LastHeartbeat가 전달되어야 합니다")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("이벤트가 전달되지 않았습니다")
	}

	// 필터링된 이벤트가 추가로 전달되지 않았는지 확인
	select {
	case rec := <-received:
		t.Errorf("필터링되어야 할 이벤트가 전달됨: %+v", rec)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("취소 후에도 Run이 반환되지 않았습니다")
	}
}

// TestRealtimeNextDelay는 재접속 백오프 스케줄을 검증합니다.
func TestRealtimeNextDelay(t *testing.T) {
	s := NewRealtimeSubscriber("ws://localhost", "")

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, time.Second},
		{3, time.Second},
		{4, 2 * time.Second},
		{5, 4 * time.Second},
		{9, 60 * time.Second},
		{30, 60 * time.Second},
	}

	for _, tt := range tests {
		if got := s.nextDelay(tt.attempt); got != tt.want {
			t.Errorf("nextDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

// TestRealtimeNextDelayLongOutage는 재접속이 오래 반복되어도 지연이
// 오버플로로 음수가 되지 않고 상한에 고정되는지 검증합니다.
func TestRealtimeNextDelayLongOutage(t *testing.T) {
	s := NewRealtimeSubscriber("ws://localhost", "")

	// 2^(attempt-3) × 1s는 attempt 37 근처에서 int64를 넘습니다.
	// 장기 장애 시나리오 전반에서 지연은 항상 양수 + 상한이어야 합니다.
	for _, attempt := range []int{34, 37, 40, 100, 1 << 20} {
		got := s.nextDelay(attempt)
		if got <= 0 {
			t.Fatalf("nextDelay(%d) = %v, 음수·0 지연은 핫 루프를 만듭니다", attempt, got)
		}
		if got != realtimeMaxDelay {
			t.Errorf("nextDelay(%d) = %v, want %v", attempt, got, realtimeMaxDelay)
		}
	}
}

// TestWireRecordToRecord는 와이어 표현 변환을 검증합니다.
func TestWireRecordToRecord(t *testing.T) {
	var nilWire *wireRecord
	if nilWire.toRecord() != nil {
		t.Error("nil 와이어 레코드는 nil로 변환되어야 합니다")
	}

	w := &wireRecord{
		ID:              "conn-1",
		EffectiveStatus: "qr_pending",
		SessionData:     map[string]any{"backend_flavor": "modern"},
	}
	rec := w.toRecord()
	if rec.ID != "conn-1" || rec.EffectiveStatus != "qr_pending" {
		t.Errorf("변환 결과 = %+v", rec)
	}
	if rec.SessionData["backend_flavor"] != "modern" {
		t.Errorf("SessionData가 전달되어야 합니다: %+v", rec.SessionData)
	}
}

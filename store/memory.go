package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nalda/channel-bridge/status"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MemoryStore는 인메모리 RecordStore 구현입니다.
// 테스트와 단일 프로세스 임베딩에 사용합니다.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	subs    map[string]map[int]ChangeFunc
	nextSub int
	now     func() time.Time
}

// NewMemoryStore는 빈 인메모리 저장소를 생성합니다.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		subs:    make(map[string]map[int]ChangeFunc),
		now:     time.Now,
	}
}

// Put은 레코드를 통째로 저장합니다 (시드·테스트용).
func (s *MemoryStore) Put(rec *Record) {
	s.mu.Lock()
	s.records[rec.ID] = rec.Clone()
	s.mu.Unlock()
	s.notify(rec.ID)
}

// Read는 레코드를 조회합니다.
func (s *MemoryStore) Read(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec.Clone(), nil
}

// WriteFields는 명시된 필드만 갱신합니다.
// 키 검증을 먼저 끝내므로 거부된 호출은 레코드를 일부만 바꾸지 않습니다.
func (s *MemoryStore) WriteFields(_ context.Context, id string, fields map[string]any) error {
	for key := range fields {
		switch key {
		case FieldOrchestratedStatus, FieldEffectiveStatus, FieldLegacyStatus,
			FieldPhoneNumber, FieldLastHeartbeat:
		default:
			return fmt.Errorf("알 수 없는 필드: %s", key)
		}
	}

	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		rec = &Record{ID: id}
		s.records[id] = rec
	}

	for key, value := range fields {
		switch key {
		case FieldOrchestratedStatus:
			rec.OrchestratedStatus, _ = value.(string)
		case FieldEffectiveStatus:
			rec.EffectiveStatus, _ = value.(string)
		case FieldLegacyStatus:
			rec.LegacyStatus, _ = value.(string)
		case FieldPhoneNumber:
			rec.PhoneNumber, _ = value.(string)
		case FieldLastHeartbeat:
			switch v := value.(type) {
			case *time.Time:
				rec.LastHeartbeat = v
			case time.Time:
				hb := v
				rec.LastHeartbeat = &hb
			case nil:
				rec.LastHeartbeat = nil
			}
		}
	}
	rec.UpdatedAt = s.now()
	s.mu.Unlock()

	s.notify(id)
	return nil
}

// MergeSessionData는 세션 백을 읽기-병합-쓰기로 갱신합니다.
// 병합은 레코드 단위로 직렬화되어 kv에 없는 기존 키가 유실되지 않습니다.
func (s *MemoryStore) MergeSessionData(_ context.Context, id string, kv map[string]any) error {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		rec = &Record{ID: id}
		s.records[id] = rec
	}
	if rec.SessionData == nil {
		rec.SessionData = make(map[string]any, len(kv))
	}
	for k, v := range kv {
		rec.SessionData[k] = v
	}
	rec.UpdatedAt = s.now()
	s.mu.Unlock()

	s.notify(id)
	return nil
}

// Subscribe는 변경 알림을 등록합니다.
func (s *MemoryStore) Subscribe(_ context.Context, id string, fn ChangeFunc) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subs[id] == nil {
		s.subs[id] = make(map[int]ChangeFunc)
	}
	key := s.nextSub
	s.nextSub++
	s.subs[id][key] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[id], key)
	}, nil
}

// notify는 구독자에게 변경된 레코드 사본을 전달합니다.
// 락을 쥐지 않은 상태에서 콜백을 호출합니다.
func (s *MemoryStore) notify(id string) {
	s.mu.Lock()
	rec := s.records[id].Clone()
	fns := make([]ChangeFunc, 0, len(s.subs[id]))
	for _, fn := range s.subs[id] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(rec.Clone())
	}
}

// MemoryAuthority는 전이 테이블로 요청을 검증하는 로컬 권한 구현입니다.
// 외부 권한 없이 임베딩하거나 테스트할 때 사용합니다.
type MemoryAuthority struct {
	store *MemoryStore
	log   zerolog.Logger
}

// NewMemoryAuthority는 인메모리 저장소 위의 전이 권한을 생성합니다.
func NewMemoryAuthority(s *MemoryStore) *MemoryAuthority {
	return &MemoryAuthority{store: s, log: log.Logger}
}

// RequestTransition은 현재 기록된 상태에 대해 newStatus가 유효한지
// 검증하고, 수락 시 세 상태 필드를 모두 갱신합니다.
func (a *MemoryAuthority) RequestTransition(ctx context.Context, id, newStatus, source string, payload map[string]any) (TransitionResult, error) {
	to := status.Normalize(newStatus)
	if !to.Valid() {
		return TransitionResult{Error: fmt.Sprintf("알 수 없는 상태: %s", newStatus)}, nil
	}

	rec, err := a.store.Read(ctx, id)
	if err != nil {
		rec = &Record{ID: id}
	}
	from := status.Resolve(rec.OrchestratedStatus, rec.EffectiveStatus, rec.LegacyStatus)

	if !status.CanTransition(from, to) {
		a.log.Debug().Str("connection_id", id).
			Str("from", string(from)).Str("to", string(to)).Str("source", source).
			Msg("전이 거부")
		return TransitionResult{Error: fmt.Sprintf("%s에서 %s로의 전이는 허용되지 않습니다", from, to)}, nil
	}

	err = a.store.WriteFields(ctx, id, map[string]any{
		FieldOrchestratedStatus: string(to),
		FieldEffectiveStatus:    string(to),
		FieldLegacyStatus:       string(to),
	})
	if err != nil {
		return TransitionResult{}, err
	}

	return TransitionResult{Success: true}, nil
}

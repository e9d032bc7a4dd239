package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore는 SQLite 기반 RecordStore 구현입니다.
// 단일 프로세스 임베딩을 위한 내구성 있는 저장소이며, 변경 알림은
// 프로세스 내 팬아웃으로 전달됩니다.
type SQLiteStore struct {
	conn *sql.DB

	mu      sync.Mutex
	subs    map[string]map[int]ChangeFunc
	nextSub int
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS connections (
	id                  TEXT PRIMARY KEY,
	orchestrated_status TEXT NOT NULL DEFAULT '',
	effective_status    TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT '',
	last_heartbeat      TEXT,
	phone_number        TEXT NOT NULL DEFAULT '',
	session_data        TEXT NOT NULL DEFAULT '{}',
	updated_at          TEXT NOT NULL
);
`

// OpenSQLite는 path의 SQLite 저장소를 열고 스키마를 준비합니다.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("저장소 디렉토리 생성 실패: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("저장소 열기 실패: %w", err)
	}

	// PRAGMA는 커넥션 단위이므로 단일 커넥션을 유지합니다.
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("WAL 설정 실패: %w", err)
	}
	if _, err := conn.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("busy_timeout 설정 실패: %w", err)
	}
	if _, err := conn.Exec(sqliteSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("스키마 생성 실패: %w", err)
	}

	return &SQLiteStore{
		conn: conn,
		subs: make(map[string]map[int]ChangeFunc),
	}, nil
}

// Close는 저장소를 닫습니다.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

// Ensure는 레코드가 없으면 빈 레코드를 생성합니다.
func (s *SQLiteStore) Ensure(ctx context.Context, id string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO connections (id, updated_at) VALUES (?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("레코드 생성 실패: %w", err)
	}
	return nil
}

// Read는 레코드를 조회합니다.
func (s *SQLiteStore) Read(ctx context.Context, id string) (*Record, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, orchestrated_status, effective_status, status,
		        last_heartbeat, phone_number, session_data, updated_at
		 FROM connections WHERE id = ?`, id)
	return scanRecord(row)
}

func scanRecord(row *sql.Row) (*Record, error) {
	var rec Record
	var heartbeat sql.NullString
	var sessionJSON, updatedAt string

	err := row.Scan(&rec.ID, &rec.OrchestratedStatus, &rec.EffectiveStatus,
		&rec.LegacyStatus, &heartbeat, &rec.PhoneNumber, &sessionJSON, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("레코드 조회 실패: %w", err)
	}

	if heartbeat.Valid && heartbeat.String != "" {
		if t, err := time.Parse(time.RFC3339Nano, heartbeat.String); err == nil {
			rec.LastHeartbeat = &t
		}
	}
	if sessionJSON != "" {
		_ = json.Unmarshal([]byte(sessionJSON), &rec.SessionData)
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		rec.UpdatedAt = t
	}
	return &rec, nil
}

// WriteFields는 명시된 필드만 갱신합니다.
func (s *SQLiteStore) WriteFields(ctx context.Context, id string, fields map[string]any) error {
	if err := s.Ensure(ctx, id); err != nil {
		return err
	}

	set := "updated_at = ?"
	args := []any{time.Now().UTC().Format(time.RFC3339Nano)}

	for key, value := range fields {
		switch key {
		case FieldOrchestratedStatus, FieldEffectiveStatus, FieldLegacyStatus, FieldPhoneNumber:
			str, _ := value.(string)
			set += ", " + key + " = ?"
			args = append(args, str)
		case FieldLastHeartbeat:
			var hb any
			switch v := value.(type) {
			case *time.Time:
				if v != nil {
					hb = v.UTC().Format(time.RFC3339Nano)
				}
			case time.Time:
				hb = v.UTC().Format(time.RFC3339Nano)
			}
			set += ", last_heartbeat = ?"
			args = append(args, hb)
		default:
			return fmt.Errorf("알 수 없는 필드: %s", key)
		}
	}

	args = append(args, id)
	if _, err := s.conn.ExecContext(ctx,
		"UPDATE connections SET "+set+" WHERE id = ?", args...); err != nil {
		return fmt.Errorf("레코드 갱신 실패: %w", err)
	}

	s.notify(ctx, id)
	return nil
}

// MergeSessionData는 세션 백을 트랜잭션 안에서 읽기-병합-쓰기로 갱신합니다.
func (s *SQLiteStore) MergeSessionData(ctx context.Context, id string, kv map[string]any) error {
	if err := s.Ensure(ctx, id); err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("트랜잭션 시작 실패: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var sessionJSON string
	if err := tx.QueryRowContext(ctx,
		`SELECT session_data FROM connections WHERE id = ?`, id).Scan(&sessionJSON); err != nil {
		return fmt.Errorf("세션 백 조회 실패: %w", err)
	}

	merged := make(map[string]any)
	if sessionJSON != "" {
		_ = json.Unmarshal([]byte(sessionJSON), &merged)
	}
	for k, v := range kv {
		merged[k] = v
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("세션 백 직렬화 실패: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE connections SET session_data = ?, updated_at = ? WHERE id = ?`,
		string(data), time.Now().UTC().Format(time.RFC3339Nano), id); err != nil {
		return fmt.Errorf("세션 백 갱신 실패: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("트랜잭션 커밋 실패: %w", err)
	}

	s.notify(ctx, id)
	return nil
}

// Subscribe는 변경 알림을 등록합니다.
func (s *SQLiteStore) Subscribe(_ context.Context, id string, fn ChangeFunc) (func(), error) {
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

// notify는 현재 레코드를 읽어 구독자에게 전달합니다.
func (s *SQLiteStore) notify(ctx context.Context, id string) {
	rec, err := s.Read(ctx, id)
	if err != nil {
		return
	}

	s.mu.Lock()
	fns := make([]ChangeFunc, 0, len(s.subs[id]))
	for _, fn := range s.subs[id] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(rec.Clone())
	}
}

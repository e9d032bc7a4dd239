package lifecycle

import (
	"context"
	"testing"

	"github.com/nalda/channel-bridge/gateway"
	"github.com/nalda/channel-bridge/store"
)

// TestRecordFlavorCache는 세션 백 기반 플레이버 캐시의 저장·조회를 검증합니다.
func TestRecordFlavorCache(t *testing.T) {
	ctx := context.Background()
	records := store.NewMemoryStore()
	cache := NewFlavorCache(records)

	if _, ok := cache.CachedFlavor(ctx, "conn-1"); ok {
		t.Error("레코드가 없으면 캐시 미스여야 합니다")
	}

	if err := cache.StoreFlavor(ctx, "conn-1", gateway.FlavorLegacy); err != nil {
		t.Fatalf("StoreFlavor() 예상치 못한 에러: %v", err)
	}

	flavor, ok := cache.CachedFlavor(ctx, "conn-1")
	if !ok || flavor != gateway.FlavorLegacy {
		t.Errorf("CachedFlavor() = %q, %v, want %q, true", flavor, ok, gateway.FlavorLegacy)
	}

	// 저장은 읽기-병합-쓰기이므로 기존 세션 키가 유지되어야 함
	if err := records.MergeSessionData(ctx, "conn-1", map[string]any{"ready": true}); err != nil {
		t.Fatalf("MergeSessionData() 예상치 못한 에러: %v", err)
	}
	if err := cache.StoreFlavor(ctx, "conn-1", gateway.FlavorModern); err != nil {
		t.Fatalf("StoreFlavor() 예상치 못한 에러: %v", err)
	}

	rec, err := records.Read(ctx, "conn-1")
	if err != nil {
		t.Fatalf("Read() 예상치 못한 에러: %v", err)
	}
	if rec.SessionData["ready"] != true {
		t.Error("플레이버 갱신이 다른 세션 키를 지우면 안 됩니다")
	}
	if rec.SessionData[gateway.SessionKeyFlavor] != "modern" {
		t.Errorf("backend_flavor = %v, want %q", rec.SessionData[gateway.SessionKeyFlavor], "modern")
	}

	// 세션 백의 잘못된 값은 캐시 미스로 처리
	_ = records.MergeSessionData(ctx, "conn-2", map[string]any{gateway.SessionKeyFlavor: "깨진값"})
	if _, ok := cache.CachedFlavor(ctx, "conn-2"); ok {
		t.Error("유효하지 않은 플레이버 값은 캐시 미스여야 합니다")
	}
}

package lifecycle

import (
	"context"
	"time"

	"github.com/nalda/channel-bridge/gateway"
	"github.com/nalda/channel-bridge/store"
)

// recordFlavorCache는 레코드의 세션 백을 게이트웨이 플레이버 캐시로
// 사용합니다. 쓰기는 읽기-병합-쓰기이므로 다른 세션 키를 건드리지 않습니다.
type recordFlavorCache struct {
	records store.RecordStore
}

// NewFlavorCache는 레코드 저장소 위의 플레이버 캐시를 생성합니다.
func NewFlavorCache(records store.RecordStore) gateway.FlavorCache {
	return &recordFlavorCache{records: records}
}

func (c *recordFlavorCache) CachedFlavor(ctx context.Context, connectionID string) (gateway.Flavor, bool) {
	rec, err := c.records.Read(ctx, connectionID)
	if err != nil || rec.SessionData == nil {
		return "", false
	}
	raw, _ := rec.SessionData[gateway.SessionKeyFlavor].(string)
	flavor := gateway.Flavor(raw)
	return flavor, flavor.Valid()
}

func (c *recordFlavorCache) StoreFlavor(ctx context.Context, connectionID string, flavor gateway.Flavor) error {
	return c.records.MergeSessionData(ctx, connectionID, map[string]any{
		gateway.SessionKeyFlavor: string(flavor),
		"flavor_detected_at":     time.Now().UTC().Format(time.RFC3339),
	})
}

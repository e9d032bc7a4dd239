package status

import (
	"sync"
	"time"
)

// DefaultDebounceWindow는 상태 변경 디바운스 창 기본값입니다.
const DefaultDebounceWindow = 1500 * time.Millisecond

// Debouncer는 짧은 창 안에서 진동하는 상태 변경을 억제합니다.
// 이전에 수락된 변경 이후 창이 지나기 전의 변경은 적용하지 않고
// 기존 값을 유지합니다. 억제된 값은 버려지는 것이 아니라 다음
// 조건을 만족하는 갱신에서 다시 적용됩니다. 상태는 매 틱마다
// 레코드로부터 재계산되므로 별도의 보류 큐는 필요하지 않습니다.
type Debouncer struct {
	mu         sync.Mutex
	window     time.Duration
	current    Status
	hasCurrent bool
	lastChange time.Time
}

// NewDebouncer는 주어진 창 크기의 디바운서를 생성합니다.
// window가 0 이하이면 디바운스 없이 모든 변경을 통과시킵니다.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{window: window}
}

// Apply는 새 상태를 제출하고 관찰 가능한 상태를 반환합니다.
// 첫 제출은 무조건 수락됩니다.
func (d *Debouncer) Apply(s Status, now time.Time) Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.hasCurrent {
		d.current = s
		d.hasCurrent = true
		d.lastChange = now
		return d.current
	}

	if s == d.current {
		return d.current
	}

	// 창 안의 변경은 억제 (기존 값 유지)
	if d.window > 0 && now.Sub(d.lastChange) < d.window {
		return d.current
	}

	d.current = s
	d.lastChange = now
	return d.current
}

// Current는 마지막으로 수락된 상태를 반환합니다.
func (d *Debouncer) Current() (Status, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current, d.hasCurrent
}

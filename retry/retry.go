// Package retry는 횟수 제한 재시도 헬퍼를 제공합니다.
// QR 조회, 세션 재개 폴링, 환영 메시지 전송이 같은 헬퍼를 공유합니다.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// stopError는 재시도를 즉시 중단해야 함을 표시하는 래퍼입니다.
type stopError struct {
	cause error
}

func (e *stopError) Error() string {
	return e.cause.Error()
}

func (e *stopError) Unwrap() error {
	return e.cause
}

// Stop은 err를 감싸 재시도 루프를 즉시 중단시킵니다.
// Do는 남은 시도를 포기하고 감싸진 원인을 그대로 반환합니다.
func Stop(err error) error {
	return &stopError{cause: err}
}

// DelayFunc는 attempt번째 실패 이후 대기할 시간을 반환합니다.
// attempt는 0부터 시작합니다.
type DelayFunc func(attempt int) time.Duration

// Fixed는 고정 지연을 반환하는 DelayFunc입니다.
func Fixed(d time.Duration) DelayFunc {
	return func(int) time.Duration {
		return d
	}
}

// CappedLinear는 base + attempt*step을 반환하되 max를 넘지 않는 DelayFunc입니다.
func CappedLinear(base, step, max time.Duration) DelayFunc {
	return func(attempt int) time.Duration {
		d := base + time.Duration(attempt)*step
		if d > max {
			return max
		}
		return d
	}
}

// Do는 fn을 최대 attempts회 실행합니다.
// fn이 nil을 반환하면 즉시 성공을 반환하고, 실패하면 delay가 계산한
// 시간만큼 대기한 뒤 다음 시도를 실행합니다. ctx가 취소되면 대기를
// 중단하고 ctx.Err()를 반환합니다.
func Do(ctx context.Context, attempts int, delay DelayFunc, fn func(ctx context.Context, attempt int) error) error {
	if attempts <= 0 {
		return fmt.Errorf("attempts는 0보다 커야 합니다: %d", attempts)
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		var stop *stopError
		if errors.As(err, &stop) {
			return stop.cause
		}
		lastErr = err

		// 마지막 시도 후에는 대기하지 않음
		if attempt == attempts-1 {
			break
		}

		var d time.Duration
		if delay != nil {
			d = delay(attempt)
		}
		if d > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
			}
		}
	}

	return fmt.Errorf("%d회 시도 후 실패: %w", attempts, lastErr)
}

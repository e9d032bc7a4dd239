// Package qr은 QR 페어링 핸드셰이크 드라이버입니다.
// 게이트웨이가 주는 세 가지 형태의 QR 페이로드(표시 가능한 데이터 URL,
// 원시 base64 이미지, 렌더링이 필요한 불투명 텍스트)를 하나의 표시
// 가능한 데이터 URL로 정규화하고, 표시 중인 코드를 주기적으로 갱신합니다.
package qr

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/nalda/channel-bridge/gateway"
	"github.com/nalda/channel-bridge/retry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrAlreadyConnected는 게이트웨이가 이미 페어링되어 있어 QR이
	// 필요 없음을 알리는 제어 흐름 센티널입니다.
	ErrAlreadyConnected = errors.New("이미 연결되어 있습니다")
	// ErrUnavailable은 재시도 한도 내에 QR을 얻지 못했음을 나타냅니다.
	ErrUnavailable = errors.New("QR 코드를 가져올 수 없습니다")
)

// 기본값.
const (
	// DefaultRefreshInterval은 표시 중인 QR 자동 갱신 간격입니다.
	// 스캔되지 않은 코드는 만료되므로 주기적으로 재생성합니다.
	DefaultRefreshInterval = 45 * time.Second
	// DefaultFetchRetries는 페이로드 조회 재시도 횟수입니다.
	DefaultFetchRetries = 3
	// DefaultFetchRetryDelay는 조회 재시도 사이의 고정 지연입니다.
	DefaultFetchRetryDelay = 1 * time.Second
	// renderSize는 텍스트 페이로드 렌더링 시 PNG 한 변의 픽셀 수입니다.
	renderSize = 256
)

// Gateway는 드라이버가 사용하는 게이트웨이 호출 집합입니다.
type Gateway interface {
	CheckStatus(ctx context.Context, connectionID string) (gateway.StatusResult, error)
	Connect(ctx context.Context, connectionID string) (gateway.Result, error)
	FetchQR(ctx context.Context, connectionID string) (string, error)
}

// Driver는 QR 핸드셰이크 드라이버입니다.
type Driver struct {
	gw              Gateway
	fetchRetries    int
	fetchRetryDelay time.Duration
	refreshInterval time.Duration
	log             zerolog.Logger
}

// Option은 Driver 설정 옵션입니다.
type Option func(*Driver)

// WithFetchRetries는 조회 재시도 횟수와 지연을 설정합니다.
func WithFetchRetries(retries int, delay time.Duration) Option {
	return func(d *Driver) {
		if retries > 0 {
			d.fetchRetries = retries
		}
		if delay > 0 {
			d.fetchRetryDelay = delay
		}
	}
}

// WithRefreshInterval은 자동 갱신 간격을 설정합니다.
func WithRefreshInterval(interval time.Duration) Option {
	return func(d *Driver) {
		if interval > 0 {
			d.refreshInterval = interval
		}
	}
}

// WithLogger는 로거를 설정합니다.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Driver) {
		d.log = l
	}
}

// NewDriver는 새 드라이버를 생성합니다.
func NewDriver(gw Gateway, opts ...Option) *Driver {
	d := &Driver{
		gw:              gw,
		fetchRetries:    DefaultFetchRetries,
		fetchRetryDelay: DefaultFetchRetryDelay,
		refreshInterval: DefaultRefreshInterval,
		log:             log.Logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fetch는 표시 가능한 QR 데이터 URL을 반환합니다.
// 게이트웨이가 이미 페어링되어 있으면 ErrAlreadyConnected를 반환합니다.
// skipConnect가 false이면 조회 전에 연결 요청을 먼저 보냅니다.
func (d *Driver) Fetch(ctx context.Context, connectionID string, skipConnect bool) (string, error) {
	st, err := d.gw.CheckStatus(ctx, connectionID)
	if err == nil && st.Paired {
		return "", ErrAlreadyConnected
	}

	if !skipConnect {
		if _, err := d.gw.Connect(ctx, connectionID); err != nil {
			return "", fmt.Errorf("연결 요청 실패: %w", err)
		}
	}

	var dataURL string
	err = retry.Do(ctx, d.fetchRetries, retry.Fixed(d.fetchRetryDelay), func(ctx context.Context, attempt int) error {
		payload, err := d.gw.FetchQR(ctx, connectionID)
		if err != nil {
			d.log.Debug().Err(err).Str("connection_id", connectionID).
				Int("attempt", attempt+1).Msg("QR 조회 실패")
			return err
		}
		normalized, err := NormalizeToDataURL(payload)
		if err != nil {
			return err
		}
		dataURL = normalized
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return dataURL, nil
}

// StartAutoRefresh는 표시 중인 QR을 주기적으로 재생성하는 고루틴을 시작합니다.
// 갱신 성공 시 onRefresh가 호출됩니다. 갱신 실패는 삼켜지고 마지막으로
// 유효했던 코드가 계속 표시됩니다. 게이트웨이가 페어링을 보고하거나
// ctx가 취소되면 중단됩니다.
func (d *Driver) StartAutoRefresh(ctx context.Context, connectionID string, onRefresh func(dataURL string)) {
	go func() {
		ticker := time.NewTicker(d.refreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				dataURL, err := d.Fetch(ctx, connectionID, true)
				if errors.Is(err, ErrAlreadyConnected) {
					return
				}
				if err != nil {
					// 실패는 삼키고 마지막 유효 코드 유지
					d.log.Debug().Err(err).Str("connection_id", connectionID).
						Msg("QR 자동 갱신 실패, 기존 코드 유지")
					continue
				}
				onRefresh(dataURL)
			}
		}
	}()
}

// NormalizeToDataURL은 세 가지 페이로드 인코딩을 하나의 데이터 URL로 변환합니다.
//   - 이미 데이터 URL이면 그대로 반환
//   - PNG를 담은 원시 base64이면 데이터 URL 접두사만 추가
//   - 그 외 불투명 텍스트는 클라이언트 측에서 QR 이미지로 렌더링
func NormalizeToDataURL(payload string) (string, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return "", fmt.Errorf("빈 QR 페이로드")
	}

	if strings.HasPrefix(payload, "data:") {
		return payload, nil
	}

	if decoded, err := base64.StdEncoding.DecodeString(payload); err == nil && isPNG(decoded) {
		return "data:image/png;base64," + payload, nil
	}

	png, err := qrcode.Encode(payload, qrcode.Medium, renderSize)
	if err != nil {
		return "", fmt.Errorf("QR 렌더링 실패: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// isPNG는 PNG 매직 바이트를 확인합니다.
func isPNG(data []byte) bool {
	return len(data) > 8 &&
		data[0] == 0x89 && data[1] == 'P' && data[2] == 'N' && data[3] == 'G'
}

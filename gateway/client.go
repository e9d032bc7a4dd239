package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// defaultHTTPTimeout은 개별 HTTP 요청의 타임아웃입니다.
const defaultHTTPTimeout = 10 * time.Second

var (
	// ErrUnreachable은 릴레이 또는 게이트웨이에 연결할 수 없음을 나타냅니다.
	ErrUnreachable = errors.New("게이트웨이에 연결할 수 없습니다")
	// ErrNeedsConfig는 게이트웨이 자격 증명이 누락되었음을 나타냅니다.
	// 재시도가 아니라 설정을 요구해야 하는 상황으로, ErrUnreachable과 구분됩니다.
	ErrNeedsConfig = errors.New("게이트웨이 자격 증명이 설정되지 않았습니다")
	// ErrSendFailed는 메시지 전송 실패를 나타냅니다 (페어링 결과에는 비치명적).
	ErrSendFailed = errors.New("메시지 전송 실패")
)

// Result는 프로브 호출의 정규화된 결과입니다.
type Result struct {
	OK         bool
	StatusCode int
	Data       map[string]any
	Err        string
	// NeedsConfig는 자격 증명 누락 신호입니다. 컨트롤러는 이 플래그를
	// 보면 재시도 대신 설정 안내로 단락해야 합니다.
	NeedsConfig bool
}

// StatusResult는 플레이버별 상태 응답을 정규화한 결과입니다.
type StatusResult struct {
	// Paired는 계정 페어링 완료 여부입니다.
	Paired bool
	// Ready는 전송 준비 완료 여부입니다.
	Ready bool
	// PhoneNumber는 페어링된 계정 식별자입니다 (미페어링 시 빈 문자열).
	PhoneNumber string
	// Flavor는 이 결과를 만든 게이트웨이 플레이버입니다.
	Flavor Flavor
}

// FlavorCache는 감지된 플레이버를 세션 백에 보관합니다.
// 구현은 영속 레코드의 session_data에 읽기-병합-쓰기로 저장해야 합니다.
type FlavorCache interface {
	CachedFlavor(ctx context.Context, connectionID string) (Flavor, bool)
	StoreFlavor(ctx context.Context, connectionID string, flavor Flavor) error
}

// noopCache는 캐시가 주입되지 않았을 때 사용되는 기본 구현입니다.
type noopCache struct{}

func (noopCache) CachedFlavor(context.Context, string) (Flavor, bool) { return "", false }
func (noopCache) StoreFlavor(context.Context, string, Flavor) error  { return nil }

// Client는 게이트웨이 프로브 클라이언트입니다.
// 네트워크 호출 외의 부작용은 없으며, 영속 상태는 플레이버 캐시를 통해서만 만집니다.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cache      FlavorCache
	log        zerolog.Logger
}

// ClientOption은 Client 설정 옵션입니다.
type ClientOption func(*Client)

// WithHTTPClient는 사용할 HTTP 클라이언트를 설정합니다.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithFlavorCache는 플레이버 캐시를 설정합니다.
func WithFlavorCache(cache FlavorCache) ClientOption {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithLogger는 로거를 설정합니다.
func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.log = l
	}
}

// NewClient는 새 프로브 클라이언트를 생성합니다.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		cache:      noopCache{},
		log:        log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health는 릴레이 도달 가능성을 확인합니다.
func (c *Client) Health(ctx context.Context) error {
	if c.apiKey == "" {
		return ErrNeedsConfig
	}
	if c.baseURL == "" {
		return fmt.Errorf("%w: relay.base_url이 비어 있습니다", ErrNeedsConfig)
	}

	res := c.do(ctx, http.MethodGet, "/health", nil)
	if res.NeedsConfig {
		return ErrNeedsConfig
	}
	if !res.OK {
		return fmt.Errorf("%w: %s", ErrUnreachable, res.Err)
	}
	return nil
}

// Probe는 릴레이를 통해 게이트웨이에 원시 요청을 보냅니다.
// 영속 상태를 변경하지 않습니다.
func (c *Client) Probe(ctx context.Context, connectionID, path, method string, body any) Result {
	res := c.do(ctx, method, path, body)
	c.log.Debug().
		Str("connection_id", connectionID).
		Str("path", path).
		Str("method", method).
		Int("status_code", res.StatusCode).
		Bool("ok", res.OK).
		Msg("게이트웨이 프로브")
	return res
}

// do는 실제 HTTP 호출을 수행하고 결과를 정규화합니다.
func (c *Client) do(ctx context.Context, method, path string, body any) Result {
	if c.apiKey == "" {
		return Result{Err: "API 키가 설정되지 않았습니다", NeedsConfig: true}
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return Result{Err: fmt.Sprintf("요청 직렬화 실패: %v", err)}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return Result{Err: fmt.Sprintf("요청 생성 실패: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{Err: fmt.Sprintf("네트워크 오류: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{StatusCode: resp.StatusCode, Err: fmt.Sprintf("응답 읽기 실패: %v", err)}
	}

	res := Result{
		StatusCode: resp.StatusCode,
		OK:         resp.StatusCode >= 200 && resp.StatusCode < 300,
	}

	if len(raw) > 0 {
		var data map[string]any
		if err := json.Unmarshal(raw, &data); err == nil {
			res.Data = data
		} else if !res.OK {
			res.Err = strings.TrimSpace(string(raw))
		}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		res.NeedsConfig = true
	}
	if !res.OK && res.Err == "" {
		if msg := errorMessage(res.Data); msg != "" {
			res.Err = msg
		} else {
			res.Err = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
	}

	return res
}

// DetectFlavor는 게이트웨이 플레이버를 감지합니다.
// force가 아니면 캐시를 먼저 읽습니다. 릴레이에 도달할 수 없으면
// 신형으로 가정하며 (fail open), 이 가정은 캐시하지 않습니다.
func (c *Client) DetectFlavor(ctx context.Context, connectionID string, force bool) (Flavor, error) {
	if !force {
		if cached, ok := c.cache.CachedFlavor(ctx, connectionID); ok && cached.Valid() {
			return cached, nil
		}
	}

	if err := c.Health(ctx); err != nil {
		if errors.Is(err, ErrNeedsConfig) {
			return "", err
		}
		// 도달 불가: 확인 없이 신형으로 가정
		c.log.Debug().Str("connection_id", connectionID).
			Msg("게이트웨이 도달 불가, 신형 플레이버로 가정")
		return FlavorModern, nil
	}

	flavor := FlavorModern
	res := c.do(ctx, http.MethodGet, FlavorModern.statusPath(connectionID), nil)
	if res.NeedsConfig {
		return "", ErrNeedsConfig
	}
	if routeNotFound(res) {
		flavor = FlavorLegacy
	}

	if err := c.cache.StoreFlavor(ctx, connectionID, flavor); err != nil {
		c.log.Warn().Err(err).Str("connection_id", connectionID).
			Msg("플레이버 캐시 저장 실패")
	}

	c.log.Debug().Str("connection_id", connectionID).Str("flavor", string(flavor)).
		Msg("게이트웨이 플레이버 감지")
	return flavor, nil
}

// flavored는 캐시된 플레이버로 호출하되, 경로 없음 시그니처가 돌아오면
// 반대 플레이버로 한 번 재시도하고 성공 시 캐시를 갱신합니다.
// 세션 사이에 게이트웨이 프로토콜 버전이 바뀐 경우를 스스로 복구합니다.
func (c *Client) flavored(ctx context.Context, connectionID, method string, pathFor func(Flavor) string, body any) (Result, Flavor, error) {
	flavor, err := c.DetectFlavor(ctx, connectionID, false)
	if err != nil {
		return Result{}, "", err
	}

	res := c.do(ctx, method, pathFor(flavor), body)
	if res.NeedsConfig {
		return res, flavor, ErrNeedsConfig
	}
	if !routeNotFound(res) {
		return res, flavor, nil
	}

	other := flavor.Other()
	retried := c.do(ctx, method, pathFor(other), body)
	if retried.NeedsConfig {
		return retried, other, ErrNeedsConfig
	}
	if routeNotFound(retried) {
		// 양쪽 다 경로 없음: 원래 결과를 그대로 반환
		return res, flavor, nil
	}

	c.log.Info().Str("connection_id", connectionID).
		Str("from", string(flavor)).Str("to", string(other)).
		Msg("플레이버 불일치 감지, 캐시 갱신")
	if err := c.cache.StoreFlavor(ctx, connectionID, other); err != nil {
		c.log.Warn().Err(err).Str("connection_id", connectionID).
			Msg("플레이버 캐시 갱신 실패")
	}
	return retried, other, nil
}

// CheckStatus는 라이브 연결 상태를 조회해 하나의 결과로 정규화합니다.
func (c *Client) CheckStatus(ctx context.Context, connectionID string) (StatusResult, error) {
	res, flavor, err := c.flavored(ctx, connectionID, http.MethodGet, func(f Flavor) string {
		return f.statusPath(connectionID)
	}, nil)
	if err != nil {
		return StatusResult{}, err
	}
	if !res.OK && res.Data == nil {
		return StatusResult{}, fmt.Errorf("%w: %s", ErrUnreachable, res.Err)
	}

	paired, ready := normalizePaired(res.Data)
	return StatusResult{
		Paired:      paired,
		Ready:       ready,
		PhoneNumber: normalizePhone(res.Data),
		Flavor:      flavor,
	}, nil
}

// Connect는 게이트웨이에 연결(세션 시작)을 요청합니다.
// 응답에 QR 페이로드가 포함될 수 있습니다.
func (c *Client) Connect(ctx context.Context, connectionID string) (Result, error) {
	res, _, err := c.flavored(ctx, connectionID, http.MethodPost, func(f Flavor) string {
		return f.connectPath(connectionID)
	}, map[string]any{})
	return res, err
}

// EnsureExists는 논리 연결이 게이트웨이에 존재하는지 확인하고,
// 신형 플레이버에서 없으면 생성합니다. 구형은 세션이 암묵적으로
// 생성되므로 할 일이 없습니다.
func (c *Client) EnsureExists(ctx context.Context, connectionID string) error {
	flavor, err := c.DetectFlavor(ctx, connectionID, false)
	if err != nil {
		return err
	}
	if flavor != FlavorModern {
		return nil
	}

	res := c.do(ctx, http.MethodGet, flavor.statusPath(connectionID), nil)
	if res.NeedsConfig {
		return ErrNeedsConfig
	}
	if res.OK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrUnreachable, res.Err)
	}

	created := c.do(ctx, http.MethodPost, flavor.createPath(), map[string]any{
		"instanceName": connectionID,
	})
	if created.NeedsConfig {
		return ErrNeedsConfig
	}
	if !created.OK {
		return fmt.Errorf("연결 생성 실패: %s", created.Err)
	}

	c.log.Info().Str("connection_id", connectionID).Msg("게이트웨이에 논리 연결 생성")
	return nil
}

// FetchQR은 QR 페이로드를 조회합니다.
// 반환값은 표시 가능한 형태로 정규화되기 전의 원시 페이로드입니다.
func (c *Client) FetchQR(ctx context.Context, connectionID string) (string, error) {
	res, _, err := c.flavored(ctx, connectionID, http.MethodGet, func(f Flavor) string {
		return f.qrPath(connectionID)
	}, nil)
	if err != nil {
		return "", err
	}
	if !res.OK {
		return "", fmt.Errorf("QR 조회 실패: %s", res.Err)
	}

	payload := extractQRPayload(res.Data)
	if payload == "" {
		return "", fmt.Errorf("응답에 QR 페이로드가 없습니다")
	}
	return payload, nil
}

// Disconnect는 게이트웨이 연결을 종료합니다.
func (c *Client) Disconnect(ctx context.Context, connectionID string) (Result, error) {
	res, _, err := c.flavored(ctx, connectionID, http.MethodPost, func(f Flavor) string {
		return f.disconnectPath(connectionID)
	}, map[string]any{})
	return res, err
}

// SendMessage는 메시지를 전송합니다.
// 플레이버별 필드 별칭(phone, number, text)을 함께 실어 보냅니다.
func (c *Client) SendMessage(ctx context.Context, connectionID, to, message string) error {
	body := map[string]any{
		"to":      to,
		"message": message,
		"phone":   to,
		"number":  to,
		"text":    message,
	}
	res, _, err := c.flavored(ctx, connectionID, http.MethodPost, func(f Flavor) string {
		return f.sendPath(connectionID)
	}, body)
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("%w: %s", ErrSendFailed, res.Err)
	}
	return nil
}

// routeNotFound는 "경로 없음" 시그니처를 판별합니다.
// 404 외에도 구형 게이트웨이가 내는 "method not supported" 류의
// 메시지를 함께 인식합니다.
func routeNotFound(res Result) bool {
	if res.StatusCode == http.StatusNotFound {
		return true
	}
	msg := strings.ToLower(res.Err)
	if msg == "" {
		msg = strings.ToLower(errorMessage(res.Data))
	}
	for _, sig := range []string{"method not supported", "route not found", "cannot get", "cannot post", "not allowed"} {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

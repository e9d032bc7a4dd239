// Package lifecycle은 연결 수명주기 컨트롤러입니다.
// 사용자 연결 요청을 거버너 게이트 → 도달성 검증 → 존재 확인 →
// 세션 재개 → QR 폴백 → 안정화 → 환영 메시지 순서로 진행하고,
// 통합 상태 투영을 폴링 틱과 푸시 알림 양쪽에서 재계산합니다.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nalda/channel-bridge/config"
	"github.com/nalda/channel-bridge/cooldown"
	"github.com/nalda/channel-bridge/gateway"
	"github.com/nalda/channel-bridge/qr"
	"github.com/nalda/channel-bridge/retry"
	"github.com/nalda/channel-bridge/status"
	"github.com/nalda/channel-bridge/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// transitionSource는 전이 요청의 출처 식별자입니다.
const transitionSource = "lifecycle_controller"

// Phase는 한 번의 연결 시도 안에서의 컨트롤러 국면입니다.
// 영속 상태와 달리 순수하게 인메모리입니다.
type Phase int32

const (
	// PhaseIdle은 시도가 진행 중이지 않은 국면입니다.
	PhaseIdle Phase = iota
	// PhaseValidating은 게이트웨이 도달성을 확인하는 국면입니다.
	PhaseValidating
	// PhaseGenerating은 QR 페이로드를 생성하는 국면입니다.
	PhaseGenerating
	// PhaseWaiting은 QR 스캔을 기다리는 국면입니다.
	PhaseWaiting
	// PhaseStabilizing은 페어링 직후 전송 준비를 확인하는 국면입니다.
	PhaseStabilizing
	// PhaseConnected는 시도가 성공으로 끝난 국면입니다.
	PhaseConnected
	// PhaseError는 시도가 실패로 끝난 국면입니다.
	PhaseError
)

// String은 Phase의 문자열 표현을 반환합니다.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseValidating:
		return "validating"
	case PhaseGenerating:
		return "generating"
	case PhaseWaiting:
		return "waiting"
	case PhaseStabilizing:
		return "stabilizing"
	case PhaseConnected:
		return "connected"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// Gateway는 컨트롤러가 사용하는 게이트웨이 호출 집합입니다.
type Gateway interface {
	Health(ctx context.Context) error
	EnsureExists(ctx context.Context, connectionID string) error
	CheckStatus(ctx context.Context, connectionID string) (gateway.StatusResult, error)
	Connect(ctx context.Context, connectionID string) (gateway.Result, error)
	SendMessage(ctx context.Context, connectionID, to, message string) error
}

// QRDriver는 컨트롤러가 사용하는 QR 드라이버 호출 집합입니다.
type QRDriver interface {
	Fetch(ctx context.Context, connectionID string, skipConnect bool) (string, error)
	StartAutoRefresh(ctx context.Context, connectionID string, onRefresh func(dataURL string))
}

// Controller는 연결 하나의 수명주기를 소유합니다.
// 쿨다운 상태와 폴링 타이머는 이 인스턴스가 단독으로 소유하며
// 연결 간에 공유되지 않습니다.
type Controller struct {
	connectionID string
	cfg          *config.Config

	records   store.RecordStore
	authority store.TransitionAuthority
	gw        Gateway
	qrDriver  QRDriver

	governor  *cooldown.Governor
	debouncer *status.Debouncer
	log       zerolog.Logger
	now       func() time.Time

	phase atomic.Int32

	// flightMu는 단일 연결 시퀀스만 비행 중이도록 보장합니다.
	flightMu sync.Mutex
	inFlight bool

	// cancelMu는 대기 중 취소 함수 접근을 보호합니다.
	cancelMu   sync.Mutex
	cancelWait context.CancelFunc

	viewMu  sync.RWMutex
	view    status.UnifiedView
	hasView bool

	onView func(view status.UnifiedView)
	onQR   func(dataURL string)

	// wg는 환영 메시지 전송 고루틴을 추적합니다.
	wg sync.WaitGroup
}

// Option은 Controller 설정 옵션입니다.
type Option func(*Controller)

// WithOnView는 통합 상태가 재계산될 때마다 호출될 콜백을 설정합니다.
func WithOnView(fn func(view status.UnifiedView)) Option {
	return func(c *Controller) {
		c.onView = fn
	}
}

// WithOnQR은 표시할 QR 데이터 URL이 준비될 때마다 호출될 콜백을 설정합니다.
func WithOnQR(fn func(dataURL string)) Option {
	return func(c *Controller) {
		c.onQR = fn
	}
}

// WithLogger는 로거를 설정합니다.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) {
		c.log = l
	}
}

// WithClock은 시각 함수를 교체합니다 (테스트용).
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// New는 연결 하나에 대한 컨트롤러를 생성합니다.
func New(connectionID string, cfg *config.Config, records store.RecordStore, authority store.TransitionAuthority, gw Gateway, qrDriver QRDriver, opts ...Option) *Controller {
	c := &Controller{
		connectionID: connectionID,
		cfg:          cfg,
		records:      records,
		authority:    authority,
		gw:           gw,
		qrDriver:     qrDriver,
		governor: cooldown.NewGovernor(
			cfg.Cooldown.MaxAttempts,
			time.Duration(cfg.Cooldown.WindowSeconds)*time.Second,
			time.Duration(cfg.Cooldown.MinIntervalMs)*time.Millisecond,
		),
		debouncer: status.NewDebouncer(time.Duration(cfg.Status.DebounceMs) * time.Millisecond),
		log:       log.With().Str("connection_id", connectionID).Logger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Phase는 현재 국면을 반환합니다.
func (c *Controller) Phase() Phase {
	return Phase(c.phase.Load())
}

func (c *Controller) setPhase(p Phase) {
	old := Phase(c.phase.Swap(int32(p)))
	if old != p {
		c.log.Debug().Str("from", old.String()).Str("to", p.String()).Msg("국면 전환")
	}
}

// Governor는 이 연결의 쿨다운 거버너를 반환합니다.
func (c *Controller) Governor() *cooldown.Governor {
	return c.governor
}

// Connect는 사용자 연결 요청 시퀀스를 실행합니다.
// QR 대기까지 포함해 블로킹하므로 호출자는 보통 고루틴에서 실행합니다.
// 같은 연결에 이미 시퀀스가 비행 중이면 ErrConnectInFlight를 반환합니다.
func (c *Controller) Connect(ctx context.Context) error {
	c.flightMu.Lock()
	if c.inFlight {
		c.flightMu.Unlock()
		return ErrConnectInFlight
	}
	c.inFlight = true
	c.flightMu.Unlock()

	defer func() {
		c.flightMu.Lock()
		c.inFlight = false
		c.flightMu.Unlock()
	}()

	return c.connect(ctx)
}

func (c *Controller) connect(ctx context.Context) error {
	now := c.now()

	// 1단계: 거버너 게이트. 거부되면 네트워크 호출 없이 종료합니다.
	if !c.governor.RegisterAttempt(now) {
		remaining := int(c.governor.Remaining(c.now()).Seconds())
		c.setPhase(PhaseError)
		c.log.Warn().Int("remaining_seconds", remaining).Msg("재연결 시도 거부")
		return fmt.Errorf("%w: %d초 후 다시 시도하세요", ErrCooldownActive, remaining)
	}

	// 2단계: 게이트웨이 도달성 검증. 실패 시 영속 상태는 건드리지 않습니다.
	c.setPhase(PhaseValidating)
	if err := c.gw.Health(ctx); err != nil {
		c.setPhase(PhaseError)
		return err
	}

	// 3단계: 논리 연결 존재 확인 (신형 플레이버에서 없으면 생성).
	if err := c.gw.EnsureExists(ctx, c.connectionID); err != nil {
		c.setPhase(PhaseError)
		return err
	}

	// 4단계: 라이브 상태 확인. 이미 페어링되어 있으면 바로 마무리합니다.
	st, err := c.gw.CheckStatus(ctx, c.connectionID)
	if err != nil {
		c.setPhase(PhaseError)
		return err
	}
	if st.Paired {
		c.log.Info().Msg("게이트웨이가 이미 페어링됨")
		return c.finishPairing(ctx, st.PhoneNumber)
	}

	// 5단계: 세션 재개 시도. QR 없이 기존 세션이 살아나기를 기다립니다.
	if phone, ok := c.tryResume(ctx); ok {
		return c.finishPairing(ctx, phone)
	}

	// 6단계: QR 폴백.
	return c.qrHandshake(ctx)
}

// tryResume은 연결 호출 후 재개 창 동안 페어링을 폴링합니다.
func (c *Controller) tryResume(ctx context.Context) (phone string, ok bool) {
	c.requestTransition(ctx, status.Connecting)

	if _, err := c.gw.Connect(ctx, c.connectionID); err != nil {
		c.log.Debug().Err(err).Msg("연결 호출 실패, QR 폴백으로 진행")
		return "", false
	}

	interval := time.Duration(c.cfg.Resume.PollIntervalMs) * time.Millisecond
	window := time.Duration(c.cfg.Resume.WindowSeconds) * time.Second
	attempts := int(window / interval)
	if attempts < 1 {
		attempts = 1
	}

	errPending := errors.New("세션 재개 대기 중")
	err := retry.Do(ctx, attempts, retry.Fixed(interval), func(ctx context.Context, attempt int) error {
		st, err := c.gw.CheckStatus(ctx, c.connectionID)
		if err != nil {
			return err
		}
		if !st.Paired {
			return errPending
		}
		phone = st.PhoneNumber
		return nil
	})
	if err != nil {
		c.log.Debug().Msg("세션 재개 실패, QR 폴백으로 진행")
		return "", false
	}

	c.log.Info().Msg("기존 세션 재개 성공")
	return phone, true
}

// qrHandshake는 QR을 발급하고 스캔을 기다립니다.
// 대기 한도를 초과하면 오류를 반환하되 disconnected 상태를 쓰지 않습니다.
// 상태 강등은 이 엔진의 소관이 아니라 게이트웨이 측 하트비트 기록자의 몫입니다.
func (c *Controller) qrHandshake(ctx context.Context) error {
	c.setPhase(PhaseGenerating)

	dataURL, err := c.qrDriver.Fetch(ctx, c.connectionID, true)
	if errors.Is(err, qr.ErrAlreadyConnected) {
		st, stErr := c.gw.CheckStatus(ctx, c.connectionID)
		if stErr != nil {
			c.setPhase(PhaseError)
			return stErr
		}
		return c.finishPairing(ctx, st.PhoneNumber)
	}
	if err != nil {
		c.setPhase(PhaseError)
		return err
	}

	c.requestTransition(ctx, status.QRPending)
	c.setPhase(PhaseWaiting)
	if c.onQR != nil {
		c.onQR(dataURL)
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.setCancelWait(cancel)
	defer c.setCancelWait(nil)

	// 표시 중인 QR은 만료 전에 주기적으로 재생성됩니다.
	c.qrDriver.StartAutoRefresh(waitCtx, c.connectionID, func(dataURL string) {
		if c.onQR != nil {
			c.onQR(dataURL)
		}
	})

	interval := time.Duration(c.cfg.QR.WaitPollIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for tick := 0; tick < c.cfg.QR.WaitPollMaxTicks; tick++ {
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				c.setPhase(PhaseError)
				return ctx.Err()
			}
			// 명시적 취소: 대기를 접고 idle로 복귀
			c.setPhase(PhaseIdle)
			c.log.Info().Msg("페어링 대기 취소")
			return ErrCancelled
		case <-ticker.C:
			st, err := c.gw.CheckStatus(waitCtx, c.connectionID)
			if err != nil {
				c.log.Debug().Err(err).Int("tick", tick).Msg("페어링 확인 실패, 계속 대기")
				continue
			}
			if st.Paired {
				cancel()
				return c.finishPairing(ctx, st.PhoneNumber)
			}
		}
	}

	// 대기 한도 초과. 영속 상태는 그대로 둡니다.
	c.setPhase(PhaseError)
	return ErrHandshakeTimeout
}

// finishPairing은 페어링 확정 후의 공통 꼬리입니다:
// connected 기록 → 안정화 대기 → 환영 메시지 전송(베스트 에포트).
// 환영 메시지 실패는 페어링 결과에 영향을 주지 않습니다.
func (c *Controller) finishPairing(ctx context.Context, phone string) error {
	c.requestTransition(ctx, status.Connected)

	if phone != "" {
		err := c.records.WriteFields(ctx, c.connectionID, map[string]any{
			store.FieldPhoneNumber: phone,
		})
		if err != nil {
			c.log.Warn().Err(err).Msg("전화번호 기록 실패")
		}
	}

	// 페어링 성공이 확인된 경우에만 거버너를 초기화합니다.
	c.governor.Reset()

	c.setPhase(PhaseStabilizing)
	if wait := time.Duration(c.cfg.Welcome.StabilizeSeconds) * time.Second; wait > 0 {
		select {
		case <-ctx.Done():
			c.setPhase(PhaseError)
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	if c.cfg.Welcome.Enabled && phone != "" {
		c.sendWelcomeAsync(phone)
	}

	c.setPhase(PhaseConnected)
	c.log.Info().Str("phase", PhaseConnected.String()).Msg("페어링 완료")
	return nil
}

// sendWelcomeAsync는 환영/테스트 메시지를 별도 고루틴에서 전송합니다.
// 지연은 시도마다 늘어나되 상한을 지키며, 실패는 기록만 하고 무시합니다.
func (c *Controller) sendWelcomeAsync(phone string) {
	cfg := c.cfg.Welcome
	delay := retry.CappedLinear(
		time.Duration(cfg.BaseDelayMs)*time.Millisecond,
		time.Duration(cfg.StepMs)*time.Millisecond,
		time.Duration(cfg.MaxDelayMs)*time.Millisecond,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		sendCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		err := retry.Do(sendCtx, cfg.MaxAttempts, delay, func(ctx context.Context, attempt int) error {
			return c.gw.SendMessage(ctx, c.connectionID, phone, cfg.Message)
		})
		if err != nil {
			c.log.Warn().Err(err).Msg("환영 메시지 전송 실패 (페어링 결과에는 영향 없음)")
			return
		}
		c.log.Info().Msg("환영 메시지 전송 완료")
	}()
}

// Cancel은 진행 중인 QR 대기를 취소합니다.
func (c *Controller) Cancel() {
	c.cancelMu.Lock()
	cancel := c.cancelWait
	c.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Controller) setCancelWait(cancel context.CancelFunc) {
	c.cancelMu.Lock()
	c.cancelWait = cancel
	c.cancelMu.Unlock()
}

// requestTransition은 상태 필드 변경을 전이 권한에 요청합니다.
// 거부는 치명적이지 않습니다: 기록하고 비상태 쓰기만으로 계속합니다.
func (c *Controller) requestTransition(ctx context.Context, to status.Status) {
	res, err := c.authority.RequestTransition(ctx, c.connectionID, string(to), transitionSource, nil)
	if err != nil {
		c.log.Warn().Err(err).Str("to", string(to)).Msg("전이 요청 실패")
		return
	}
	if !res.Success {
		c.log.Info().Str("to", string(to)).Str("reason", res.Error).
			Msg("전이 거부됨, 비상태 쓰기만 계속")
	}
}

// ApplyRecord는 통합 상태 재계산의 단일 진입점입니다.
// 폴링 틱과 푸시 알림 모두 이 함수로 합류하며, 순수 계산이므로
// 동시 호출이 섞여도 안전합니다. 디바운스 규칙이 적용됩니다.
func (c *Controller) ApplyRecord(rec *store.Record) {
	now := c.now()

	var in status.Input
	if rec != nil {
		in = status.Input{
			Orchestrated:  rec.OrchestratedStatus,
			Effective:     rec.EffectiveStatus,
			Legacy:        rec.LegacyStatus,
			LastHeartbeat: rec.LastHeartbeat,
			PhoneNumber:   rec.PhoneNumber,
		}
	}

	snap := c.governor.SnapshotAt(now)
	cd := status.CooldownInfo{
		InCooldown: snap.InCooldown,
		EndsAt:     snap.CooldownEndsAt,
		Attempts:   snap.Attempts,
	}

	view := status.BuildViewWith(in, cd, now,
		time.Duration(c.cfg.Status.StaleSeconds)*time.Second,
		time.Duration(c.cfg.Status.DeadSeconds)*time.Second,
	)

	// 짧은 창 안에서 진동하는 상태는 억제하고 기존 값을 유지합니다.
	observed := c.debouncer.Apply(view.Status, now)
	if observed != view.Status {
		view.Status = observed
		view.Usable = status.Usable(observed, status.Heartbeat{
			Stale: view.HeartbeatStale,
			Dead:  view.HeartbeatDead,
		})
	}

	c.viewMu.Lock()
	c.view = view
	c.hasView = true
	c.viewMu.Unlock()

	if c.onView != nil {
		c.onView(view)
	}
}

// View는 마지막으로 계산된 통합 상태를 반환합니다.
func (c *Controller) View() status.UnifiedView {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return c.view
}

// Run은 통합 상태 재계산 루프를 실행합니다.
// 레코드 변경 구독과 고정 간격 폴링을 함께 돌리고, ctx가 취소되면
// 모든 타이머와 고루틴을 정리한 뒤 반환합니다.
func (c *Controller) Run(ctx context.Context) error {
	unsubscribe, err := c.records.Subscribe(ctx, c.connectionID, c.ApplyRecord)
	if err != nil {
		return fmt.Errorf("레코드 구독 실패: %w", err)
	}
	defer unsubscribe()

	// 시작 즉시 한 번 재계산
	c.pollOnce(ctx)

	interval := time.Duration(c.cfg.Status.PollIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// 환영 메시지 전송 고루틴이 끝나기를 기다립니다.
			c.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			c.pollOnce(ctx)
		}
	}
}

// pollOnce는 레코드를 읽어 통합 상태를 재계산합니다.
// 레코드가 아직 없으면 빈 입력으로 계산합니다 (idle).
func (c *Controller) pollOnce(ctx context.Context) {
	rec, err := c.records.Read(ctx, c.connectionID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.log.Debug().Err(err).Msg("레코드 조회 실패")
		}
		c.ApplyRecord(nil)
		return
	}
	c.ApplyRecord(rec)
}

// Package config는 Channel Bridge 엔진의 설정 관리를 담당합니다.
// 설정 우선순위: 환경변수 > 설정파일 > 기본값
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config는 엔진 전체 설정을 나타냅니다.
type Config struct {
	Relay    RelayConfig    `yaml:"relay" mapstructure:"relay"`
	Status   StatusConfig   `yaml:"status" mapstructure:"status"`
	Cooldown CooldownConfig `yaml:"cooldown" mapstructure:"cooldown"`
	QR       QRConfig       `yaml:"qr" mapstructure:"qr"`
	Resume   ResumeConfig   `yaml:"resume" mapstructure:"resume"`
	Welcome  WelcomeConfig  `yaml:"welcome" mapstructure:"welcome"`
	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
}

// RelayConfig는 게이트웨이 릴레이 연결 설정입니다.
type RelayConfig struct {
	// BaseURL은 릴레이 서버 주소입니다 (예: "https://relay.example.com").
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	// APIKeyEnv는 릴레이 API 키를 가져올 환경변수 이름입니다.
	// API 키를 평문으로 설정 파일에 저장하지 않습니다.
	APIKeyEnv string `yaml:"api_key_env" mapstructure:"api_key_env"`
	// TimeoutSeconds는 개별 HTTP 요청 타임아웃(초)입니다.
	TimeoutSeconds int `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
	// RealtimeURL은 레코드 변경 푸시 알림 WebSocket 주소입니다.
	// 비어있으면 폴링만 사용합니다.
	RealtimeURL string `yaml:"realtime_url" mapstructure:"realtime_url"`
}

// StatusConfig는 상태 정합(reconciliation) 설정입니다.
type StatusConfig struct {
	// StaleSeconds는 하트비트가 오래된 것으로 간주되는 임계값(초)입니다.
	StaleSeconds int `yaml:"stale_seconds" mapstructure:"stale_seconds"`
	// DeadSeconds는 하트비트가 끊긴 것으로 간주되는 임계값(초)입니다.
	DeadSeconds int `yaml:"dead_seconds" mapstructure:"dead_seconds"`
	// DebounceMs는 상태 변경 디바운스 창(밀리초)입니다.
	DebounceMs int `yaml:"debounce_ms" mapstructure:"debounce_ms"`
	// PollIntervalMs는 통합 상태 재계산 폴링 간격(밀리초)입니다.
	PollIntervalMs int `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
}

// CooldownConfig는 재연결 쿨다운 설정입니다.
type CooldownConfig struct {
	// MaxAttempts는 쿨다운이 열리기 전 허용되는 최대 시도 횟수입니다.
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
	// WindowSeconds는 쿨다운 지속 시간(초)입니다.
	WindowSeconds int `yaml:"window_seconds" mapstructure:"window_seconds"`
	// MinIntervalMs는 연속 시도 사이의 최소 간격(밀리초)입니다. 0이면 비활성화합니다.
	MinIntervalMs int `yaml:"min_interval_ms" mapstructure:"min_interval_ms"`
}

// QRConfig는 QR 핸드셰이크 설정입니다.
type QRConfig struct {
	// RefreshSeconds는 표시 중인 QR 코드 자동 갱신 간격(초)입니다.
	RefreshSeconds int `yaml:"refresh_seconds" mapstructure:"refresh_seconds"`
	// FetchRetries는 QR 페이로드 조회 재시도 횟수입니다.
	FetchRetries int `yaml:"fetch_retries" mapstructure:"fetch_retries"`
	// FetchRetryDelayMs는 조회 재시도 사이의 고정 지연(밀리초)입니다.
	FetchRetryDelayMs int `yaml:"fetch_retry_delay_ms" mapstructure:"fetch_retry_delay_ms"`
	// WaitPollIntervalMs는 페어링 대기 폴링 간격(밀리초)입니다.
	WaitPollIntervalMs int `yaml:"wait_poll_interval_ms" mapstructure:"wait_poll_interval_ms"`
	// WaitPollMaxTicks는 페어링 대기 폴링 최대 반복 횟수입니다.
	WaitPollMaxTicks int `yaml:"wait_poll_max_ticks" mapstructure:"wait_poll_max_ticks"`
}

// ResumeConfig는 기존 세션 재개 시도 설정입니다.
type ResumeConfig struct {
	// WindowSeconds는 QR 없이 세션 재개를 기다리는 최대 시간(초)입니다.
	WindowSeconds int `yaml:"window_seconds" mapstructure:"window_seconds"`
	// PollIntervalMs는 재개 확인 폴링 간격(밀리초)입니다.
	PollIntervalMs int `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
}

// WelcomeConfig는 페어링 직후 테스트 메시지 전송 설정입니다.
type WelcomeConfig struct {
	// Enabled는 환영 메시지 전송 여부입니다.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Message는 전송할 메시지 본문입니다.
	Message string `yaml:"message" mapstructure:"message"`
	// MaxAttempts는 전송 최대 시도 횟수입니다.
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
	// BaseDelayMs는 재시도 기본 지연(밀리초)입니다.
	BaseDelayMs int `yaml:"base_delay_ms" mapstructure:"base_delay_ms"`
	// StepMs는 시도마다 증가하는 지연(밀리초)입니다.
	StepMs int `yaml:"step_ms" mapstructure:"step_ms"`
	// MaxDelayMs는 재시도 지연 상한(밀리초)입니다.
	MaxDelayMs int `yaml:"max_delay_ms" mapstructure:"max_delay_ms"`
	// StabilizeSeconds는 페어링 확인 후 전송 전 안정화 대기 시간(초)입니다.
	StabilizeSeconds int `yaml:"stabilize_seconds" mapstructure:"stabilize_seconds"`
}

// LoggingConfig는 로깅 설정입니다.
type LoggingConfig struct {
	// Level은 로그 레벨입니다 (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`
	// Format은 로그 포맷입니다 (json, text).
	Format string `yaml:"format" mapstructure:"format"`
	// File은 로그 파일 경로입니다. 비어있으면 stdout으로 출력합니다.
	File string `yaml:"file" mapstructure:"file"`
}

// EnvPrefix는 환경변수 접두사입니다 (예: CHB_RELAY_BASE_URL).
const EnvPrefix = "CHB"

// Default는 기본값으로 채워진 설정을 반환합니다.
func Default() *Config {
	var cfg Config
	v := newViper()
	// 기본값만 존재하므로 Unmarshal은 실패하지 않습니다.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load는 설정 파일과 환경변수에서 설정을 로드합니다.
// path가 비어있으면 파일 없이 기본값과 환경변수만 사용합니다.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(expandPath(path))
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("설정 파일 읽기 실패: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("설정 파싱 실패: %w", err)
	}

	cfg.Logging.File = expandPath(cfg.Logging.File)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// newViper는 기본값과 환경변수 바인딩이 적용된 viper 인스턴스를 생성합니다.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("relay.base_url", "")
	v.SetDefault("relay.api_key_env", "CHB_RELAY_API_KEY")
	v.SetDefault("relay.timeout_seconds", 10)
	v.SetDefault("relay.realtime_url", "")

	v.SetDefault("status.stale_seconds", 180)
	v.SetDefault("status.dead_seconds", 300)
	v.SetDefault("status.debounce_ms", 1500)
	v.SetDefault("status.poll_interval_ms", 5000)

	v.SetDefault("cooldown.max_attempts", 3)
	v.SetDefault("cooldown.window_seconds", 120)
	v.SetDefault("cooldown.min_interval_ms", 0)

	v.SetDefault("qr.refresh_seconds", 45)
	v.SetDefault("qr.fetch_retries", 3)
	v.SetDefault("qr.fetch_retry_delay_ms", 1000)
	v.SetDefault("qr.wait_poll_interval_ms", 1200)
	v.SetDefault("qr.wait_poll_max_ticks", 100)

	v.SetDefault("resume.window_seconds", 8)
	v.SetDefault("resume.poll_interval_ms", 1000)

	v.SetDefault("welcome.enabled", true)
	v.SetDefault("welcome.message", "채널이 연결되었습니다. 이 메시지는 전송 테스트입니다.")
	v.SetDefault("welcome.max_attempts", 10)
	v.SetDefault("welcome.base_delay_ms", 1500)
	v.SetDefault("welcome.step_ms", 800)
	v.SetDefault("welcome.max_delay_ms", 8000)
	v.SetDefault("welcome.stabilize_seconds", 2)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")

	return v
}

// GetAPIKey는 환경변수에서 릴레이 API 키를 가져옵니다.
func (r *RelayConfig) GetAPIKey() string {
	if r.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(r.APIKeyEnv)
}

// HasAPIKey는 릴레이 API 키가 설정되어 있는지 확인합니다.
func (r *RelayConfig) HasAPIKey() bool {
	return r.GetAPIKey() != ""
}

// Timeout은 HTTP 요청 타임아웃을 반환합니다.
func (r *RelayConfig) Timeout() time.Duration {
	if r.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// Validate는 설정의 유효성을 검사합니다.
func (c *Config) Validate() error {
	if c.Status.StaleSeconds <= 0 || c.Status.DeadSeconds <= 0 {
		return fmt.Errorf("하트비트 임계값은 0보다 커야 합니다")
	}
	if c.Status.DeadSeconds < c.Status.StaleSeconds {
		return fmt.Errorf("dead_seconds(%d)는 stale_seconds(%d) 이상이어야 합니다",
			c.Status.DeadSeconds, c.Status.StaleSeconds)
	}
	if c.Status.DebounceMs < 0 {
		return fmt.Errorf("debounce_ms는 0 이상이어야 합니다")
	}
	if c.Status.PollIntervalMs <= 0 {
		return fmt.Errorf("poll_interval_ms는 0보다 커야 합니다")
	}

	if c.Cooldown.MaxAttempts <= 0 {
		return fmt.Errorf("cooldown.max_attempts는 0보다 커야 합니다")
	}
	if c.Cooldown.WindowSeconds <= 0 {
		return fmt.Errorf("cooldown.window_seconds는 0보다 커야 합니다")
	}

	if c.QR.FetchRetries <= 0 {
		return fmt.Errorf("qr.fetch_retries는 0보다 커야 합니다")
	}
	if c.QR.WaitPollIntervalMs <= 0 || c.QR.WaitPollMaxTicks <= 0 {
		return fmt.Errorf("qr 대기 폴링 설정은 0보다 커야 합니다")
	}

	if c.Welcome.MaxAttempts <= 0 {
		return fmt.Errorf("welcome.max_attempts는 0보다 커야 합니다")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("유효하지 않은 로그 레벨: %s (debug, info, warn, error 중 하나)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("유효하지 않은 로그 포맷: %s (json, text 중 하나)", c.Logging.Format)
	}

	return nil
}

// expandPath는 ~를 홈 디렉토리로 확장합니다.
func expandPath(path string) string {
	if path == "" {
		return ""
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

// DefaultConfigPath는 기본 설정 파일 경로를 반환합니다.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "channel-bridge", "config.yaml")
}

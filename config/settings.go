// Package config 管理客户端运行时配置。
//
// Settings 是一次请求所需的全部进程级配置；Config[Settings] 是它唯一的持有者，
// 负责发布更新。执行器在每次请求开始时取一次快照，请求中途的修改只影响下一次请求。
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	// DefaultAPIBase 是默认的 API 地址
	DefaultAPIBase = "https://api.stripe.com"

	// DefaultMaxNetworkRetries 默认重试次数（不含首次请求）
	DefaultMaxNetworkRetries = 2

	// EnvPrefix 环境变量前缀，例如 STRIPE_API_KEY
	EnvPrefix = "STRIPE"
)

// Settings 客户端配置
type Settings struct {
	APIBase           string `mapstructure:"api_base" yaml:"api_base" json:"api_base"`
	APIKey            string `mapstructure:"api_key" yaml:"api_key" json:"api_key"`
	Proxy             string `mapstructure:"proxy" yaml:"proxy,omitempty" json:"proxy,omitempty"`
	EnableTelemetry   bool   `mapstructure:"enable_telemetry" yaml:"enable_telemetry" json:"enable_telemetry"`
	MaxNetworkRetries int    `mapstructure:"max_network_retries" yaml:"max_network_retries" json:"max_network_retries"`
}

// Store 是 Settings 的配置管理器
type Store = Config[Settings]

// DefaultSettings 返回默认配置
func DefaultSettings() Settings {
	return Settings{
		APIBase:           DefaultAPIBase,
		EnableTelemetry:   true,
		MaxNetworkRetries: DefaultMaxNetworkRetries,
	}
}

// Defaults 返回 viper 使用的默认值
func Defaults() map[string]any {
	d := DefaultSettings()
	return map[string]any{
		"api_base":            d.APIBase,
		"api_key":             d.APIKey,
		"proxy":               d.Proxy,
		"enable_telemetry":    d.EnableTelemetry,
		"max_network_retries": d.MaxNetworkRetries,
	}
}

// NewStore 创建内存配置
func NewStore(s Settings) *Store {
	return New(s)
}

// LoadSettings 从文件加载配置，叠加默认值与 STRIPE_* 环境变量，并监控文件变更。
// 文件变更后不合法的配置会被忽略，继续使用旧值。
// path 为空时只使用默认值和环境变量。
func LoadSettings(path string) (*Store, error) {
	opts := []Option[Settings]{
		WithDefaults[Settings](Defaults()),
		WithEnv[Settings](EnvPrefix),
		WithValidate(Settings.Validate),
	}
	var (
		s   *Store
		err error
	)
	if path == "" {
		s, err = LoadOnce(path, opts...)
	} else {
		s, err = Load(path, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return s, nil
}

// Validate 校验配置
func (s Settings) Validate() error {
	var errs []error
	if strings.TrimSpace(s.APIBase) == "" {
		errs = append(errs, errors.New("api_base is required"))
	} else if err := validateAbsURL(s.APIBase); err != nil {
		errs = append(errs, fmt.Errorf("api_base: %w", err))
	}
	if strings.TrimSpace(s.Proxy) != "" {
		if err := validateAbsURL(s.Proxy); err != nil {
			errs = append(errs, fmt.Errorf("proxy: %w", err))
		}
	}
	if s.MaxNetworkRetries < 0 {
		errs = append(errs, fmt.Errorf("max_network_retries must be >= 0, got %d", s.MaxNetworkRetries))
	}
	return errors.Join(errs...)
}

// Redacted 返回隐藏了密钥的副本，用于日志和展示
func (s Settings) Redacted() Settings {
	out := s
	if k := out.APIKey; k != "" {
		if len(k) > 8 {
			out.APIKey = k[:8] + strings.Repeat("*", 4)
		} else {
			out.APIKey = "****"
		}
	}
	return out
}

func validateAbsURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return errors.New("must be an absolute url")
	}
	return nil
}

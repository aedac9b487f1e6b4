// Package config 负责加载机器人配置。
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"

	"smart-trade-bot-go/internal/models"
)

// EnvPrefix 是环境变量覆盖项的前缀，例如 BOT_DB_PATH
const EnvPrefix = "BOT"

// LoadConfig 从 JSON 文件加载配置, 再用 BOT_ 前缀的环境变量覆盖, 最后填充默认值并校验。
// path 为空时只使用环境变量。
func LoadConfig(path string) (*models.Config, error) {
	cfg := &models.Config{}

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()

		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}

	ApplyDefaults(cfg)
	if err := ResolveSecrets(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults 为未设置的配置项填充默认值
func ApplyDefaults(cfg *models.Config) {
	if cfg.DBPath == "" {
		cfg.DBPath = "data/badger"
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.LogConfig.Output == "" {
		cfg.LogConfig.Output = "console"
	}
	if cfg.Scheduler.ProcessIntervalSec == 0 {
		cfg.Scheduler.ProcessIntervalSec = 60
	}
	if cfg.Scheduler.SweepIntervalSec == 0 {
		cfg.Scheduler.SweepIntervalSec = 15
	}
	if cfg.Scheduler.RestartDelaySec == 0 {
		cfg.Scheduler.RestartDelaySec = 5
	}
	if cfg.Lock.Backend == "" {
		cfg.Lock.Backend = "memory"
	}
	if cfg.Lock.TTLSec == 0 {
		cfg.Lock.TTLSec = 300
	}
	if cfg.Stream.WSBaseURL == "" {
		cfg.Stream.WSBaseURL = "wss://stream.binance.com:9443"
	}
	if cfg.Stream.WebSocketPongTimeoutSec == 0 {
		cfg.Stream.WebSocketPongTimeoutSec = 60
	}
	if cfg.Stream.WebSocketPingIntervalSec == 0 {
		cfg.Stream.WebSocketPingIntervalSec = 54
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "smart-trade-bot"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
}

// ResolveSecrets 将以环境变量名给出的账户密钥替换为实际值
func ResolveSecrets(cfg *models.Config) error {
	for i := range cfg.Accounts {
		a := &cfg.Accounts[i]
		if a.APIKeyEnv != "" {
			v, ok := os.LookupEnv(a.APIKeyEnv)
			if !ok {
				return fmt.Errorf("account %s: environment variable %s is not set", a.Label, a.APIKeyEnv)
			}
			a.APIKey = v
		}
		if a.SecretKeyEnv != "" {
			v, ok := os.LookupEnv(a.SecretKeyEnv)
			if !ok {
				return fmt.Errorf("account %s: environment variable %s is not set", a.Label, a.SecretKeyEnv)
			}
			a.SecretKey = v
		}
	}
	return nil
}

// Validate 一次性返回所有无效的配置项
func Validate(cfg *models.Config) error {
	var errs []error

	switch cfg.Lock.Backend {
	case "memory":
	case "redis":
		if cfg.Redis.Addr == "" {
			errs = append(errs, errors.New("lock backend redis needs redis.addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown lock backend %q", cfg.Lock.Backend))
	}
	if cfg.Kafka.Enabled && (len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "") {
		errs = append(errs, errors.New("kafka needs brokers and topic when enabled"))
	}
	if cfg.Scheduler.ProcessIntervalSec < 0 || cfg.Scheduler.SweepIntervalSec < 0 || cfg.Scheduler.RestartDelaySec < 0 {
		errs = append(errs, errors.New("scheduler intervals must not be negative"))
	}

	labels := map[string]bool{}
	for _, a := range cfg.Accounts {
		if a.Label == "" {
			errs = append(errs, errors.New("account without label"))
			continue
		}
		if labels[a.Label] {
			errs = append(errs, fmt.Errorf("duplicate account label %q", a.Label))
		}
		labels[a.Label] = true
		switch models.ExchangeCode(strings.ToUpper(a.ExchangeCode)) {
		case models.ExchangePaper:
		case models.ExchangeBinance:
			if a.APIKey == "" || a.SecretKey == "" {
				errs = append(errs, fmt.Errorf("account %q needs api and secret keys", a.Label))
			}
		default:
			errs = append(errs, fmt.Errorf("account %q: unknown exchange %q", a.Label, a.ExchangeCode))
		}
	}

	names := map[string]bool{}
	for _, b := range cfg.Bots {
		switch {
		case b.Name == "":
			errs = append(errs, errors.New("bot without name"))
			continue
		case names[b.Name]:
			errs = append(errs, fmt.Errorf("duplicate bot name %q", b.Name))
		case b.Template == "":
			errs = append(errs, fmt.Errorf("bot %q has no template", b.Name))
		case b.BaseCurrency == "" || b.QuoteCurrency == "":
			errs = append(errs, fmt.Errorf("bot %q needs base and quote currency", b.Name))
		case !labels[b.AccountLabel]:
			errs = append(errs, fmt.Errorf("bot %q refers to unknown account %q", b.Name, b.AccountLabel))
		}
		names[b.Name] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

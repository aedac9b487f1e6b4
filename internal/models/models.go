package models

import (
	"encoding/json"
	"time"
)

// Config 定义了引擎的全部配置参数。
// JSON 文件提供默认值，BOT_ 前缀的环境变量可以覆盖其中的标量字段。
type Config struct {
	DBPath    string          `json:"db_path" envconfig:"DB_PATH"` // Badger 数据目录
	LogConfig LogConfig       `json:"log" envconfig:"LOG"`         // 日志配置
	Scheduler SchedulerConfig `json:"scheduler" envconfig:"SCHEDULER"`
	Lock      LockConfig      `json:"lock" envconfig:"LOCK"`
	Redis     RedisConfig     `json:"redis" envconfig:"REDIS"`
	Stream    StreamConfig    `json:"stream" envconfig:"STREAM"`
	Kafka     KafkaConfig     `json:"kafka" envconfig:"KAFKA"`
	Metrics   MetricsConfig   `json:"metrics" envconfig:"METRICS"`
	Workers   int             `json:"workers" envconfig:"WORKERS"` // 触发事件队列的并发 worker 数量

	Accounts []AccountSeed `json:"accounts" ignored:"true"` // 启动时写入数据库的交易所账户
	Bots     []BotSeed     `json:"bots" ignored:"true"`     // 启动时写入数据库的机器人
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level" envconfig:"LEVEL"`             // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output" envconfig:"OUTPUT"`           // 输出模式: "console", "file", "both"
	File       string `json:"file" envconfig:"FILE"`               // 日志文件路径
	MaxSize    int    `json:"max_size" envconfig:"MAX_SIZE"`       // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups" envconfig:"MAX_BACKUPS"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age" envconfig:"MAX_AGE"`         // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress" envconfig:"COMPRESS"`       // 是否压缩旧日志文件
}

// SchedulerConfig 控制周期性任务
type SchedulerConfig struct {
	ProcessIntervalSec int `json:"process_interval_sec" envconfig:"PROCESS_INTERVAL_SEC"` // 对所有启用的机器人发送 process 命令的间隔
	SweepIntervalSec   int `json:"sweep_interval_sec" envconfig:"SWEEP_INTERVAL_SEC"`     // 补挂待处理订单的间隔
	RestartDelaySec    int `json:"restart_delay_sec" envconfig:"RESTART_DELAY_SEC"`       // 任务失败后重新调度前的等待时间
}

// LockConfig 选择每个机器人的互斥锁实现
type LockConfig struct {
	Backend string `json:"backend" envconfig:"BACKEND"` // "memory" 或 "redis"
	TTLSec  int    `json:"ttl_sec" envconfig:"TTL_SEC"` // redis 锁的过期时间
}

// RedisConfig 定义了 redis 连接参数
type RedisConfig struct {
	Addr     string `json:"addr" envconfig:"ADDR"`
	Password string `json:"password" envconfig:"PASSWORD"`
	DB       int    `json:"db" envconfig:"DB"`
}

// StreamConfig 定义了 K 线 WebSocket 触发源
type StreamConfig struct {
	Enabled                  bool   `json:"enabled" envconfig:"ENABLED"`
	WSBaseURL                string `json:"ws_base_url" envconfig:"WS_BASE_URL"`
	WebSocketPingIntervalSec int    `json:"websocket_ping_interval_sec,omitempty" envconfig:"PING_INTERVAL_SEC"` // WebSocket Ping消息发送间隔(秒)
	WebSocketPongTimeoutSec  int    `json:"websocket_pong_timeout_sec,omitempty" envconfig:"PONG_TIMEOUT_SEC"`   // WebSocket Pong消息超时时间(秒)
}

// KafkaConfig 定义了事件总线消费者
type KafkaConfig struct {
	Enabled bool     `json:"enabled" envconfig:"ENABLED"`
	Brokers []string `json:"brokers" envconfig:"BROKERS"`
	Topic   string   `json:"topic" envconfig:"TOPIC"`
	GroupID string   `json:"group_id" envconfig:"GROUP_ID"`
}

// MetricsConfig 定义了 prometheus 指标端点
type MetricsConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	Addr    string `json:"addr" envconfig:"ADDR"`
}

// AccountSeed 描述配置文件中声明的交易所账户。
// 密钥可以直接填写，也可以填写环境变量名。
type AccountSeed struct {
	Label        string `json:"label"`
	ExchangeCode string `json:"exchange_code"`
	APIKey       string `json:"api_key"`
	APIKeyEnv    string `json:"api_key_env"`
	SecretKey    string `json:"secret_key"`
	SecretKeyEnv string `json:"secret_key_env"`
	IsTestnet    bool   `json:"is_testnet"`
}

// BotSeed 描述配置文件中声明的机器人
type BotSeed struct {
	Name          string          `json:"name"`
	Template      string          `json:"template"`
	Timeframe     string          `json:"timeframe"`
	BaseCurrency  string          `json:"base_currency"`
	QuoteCurrency string          `json:"quote_currency"`
	AccountLabel  string          `json:"account_label"`
	Settings      json.RawMessage `json:"settings"`
	Enabled       bool            `json:"enabled"`
}

// ExchangeCode 标识交易所的实现
type ExchangeCode string

const (
	ExchangePaper   ExchangeCode = "PAPER"
	ExchangeBinance ExchangeCode = "BINANCE"
)

// ExchangeAccount 是机器人下单所使用的交易所账户
type ExchangeAccount struct {
	ID           int64        `json:"id"`
	Label        string       `json:"label"`
	ExchangeCode ExchangeCode `json:"exchange_code"`
	APIKey       string       `json:"api_key"`
	SecretKey    string       `json:"secret_key"`
	IsTestnet    bool         `json:"is_testnet"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Bot 是一个独立配置的交易机器人
type Bot struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	Enabled           bool            `json:"enabled"`    // 是否处于运行状态
	Processing        bool            `json:"processing"` // 是否有命令正在执行
	Template          string          `json:"template"`   // 策略模板名称
	Timeframe         string          `json:"timeframe"`  // K线周期, e.g., "1m", "1h"
	Settings          json.RawMessage `json:"settings"`   // 模板专属设置，由策略自行解析
	BaseCurrency      string          `json:"base_currency"`
	QuoteCurrency     string          `json:"quote_currency"`
	ExchangeAccountID int64           `json:"exchange_account_id"`
	State             BotState        `json:"state"` // 策略私有状态，引擎只负责存取
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Symbol 返回机器人交易的 BASE/QUOTE 交易对
func (b *Bot) Symbol() string {
	return ComposeSymbol(b.BaseCurrency, b.QuoteCurrency)
}

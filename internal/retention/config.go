// Package retention 在后台按保留策略清理过期的会话快照与审计记录。
package retention

import "time"

type ErrorHandler func(err error)

type Config struct {
	// Enabled 控制 chat 运行期间是否启动后台清理。
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Interval 为两次清理之间的间隔；启动时立即执行一次。
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	// Workers 为并发执行清理任务的 worker 数量。
	Workers int `mapstructure:"workers" yaml:"workers"`
	// BatchRows 为单条 DELETE 语句最多删除的行数，避免长时间锁库。
	BatchRows int `mapstructure:"batch_rows" yaml:"batch_rows"`
	// IdleSleep 为两批删除之间的停顿。
	IdleSleep time.Duration `mapstructure:"idle_sleep" yaml:"idle_sleep"`

	// SessionTTL 会话快照在最后一次更新后保留的时长；<=0 表示不清理。
	SessionTTL time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
	// AuditTTL 审计记录保留时长；<=0 表示不清理。
	AuditTTL time.Duration `mapstructure:"audit_ttl" yaml:"audit_ttl"`

	// OnError 为异步错误回调；默认丢弃。
	OnError ErrorHandler `mapstructure:"-" yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:    false,
		Interval:   time.Hour,
		Workers:    2,
		BatchRows:  500,
		IdleSleep:  50 * time.Millisecond,
		SessionTTL: 30 * 24 * time.Hour,
		AuditTTL:   90 * 24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.BatchRows <= 0 {
		c.BatchRows = 500
	}
	if c.OnError == nil {
		c.OnError = func(error) {}
	}
	return c
}

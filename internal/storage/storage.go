package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

type Config struct {
	// Driver 为空时使用 sqlite；postgres/mysql 需要 DSN
	Driver          string           `mapstructure:"driver" yaml:"driver"`
	DSN             string           `mapstructure:"dsn" yaml:"dsn"`
	Path            string           `mapstructure:"path" yaml:"path"`
	InMemory        bool             `mapstructure:"in_memory" yaml:"in_memory"`
	EnableWAL       bool             `mapstructure:"enable_wal" yaml:"enable_wal"`
	BusyTimeout     time.Duration    `mapstructure:"busy_timeout" yaml:"busy_timeout"`
	MaxOpenConns    int              `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int              `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration    `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	Logger          logger.Interface `mapstructure:"-" yaml:"-"`
}

type Storage struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	driver string
}

func Open(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dialector, err := dialectorFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialector.Name(), err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	tunePool(sqlDB, cfg)

	s := &Storage{db: db, sqlDB: sqlDB, driver: dialector.Name()}

	// 按顺序初始化，任一步失败都关闭连接
	var steps []func(context.Context) error
	if s.driver == DriverSQLite {
		steps = append(steps, func(ctx context.Context) error { return s.sqlitePragmas(ctx, cfg.EnableWAL) })
	}
	steps = append(steps, s.Migrate, s.Ping)
	for _, step := range steps {
		if err := step(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

func tunePool(db *sql.DB, cfg Config) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

func (s *Storage) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	if s == nil || s.sqlDB == nil {
		return errNotInitialized
	}
	return s.sqlDB.PingContext(ctx)
}

func (s *Storage) Migrate(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).AutoMigrate(
		&SessionCheckpoint{},
		&AuditRecord{},
		&RefundRecord{},
		&KnowledgeChunk{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func (s *Storage) DB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// Driver 返回实际使用的方言名
func (s *Storage) Driver() string {
	if s == nil {
		return ""
	}
	return s.driver
}

func (s *Storage) sqlitePragmas(ctx context.Context, wal bool) error {
	if wal {
		if err := s.db.WithContext(ctx).Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
			return fmt.Errorf("enable wal: %w", err)
		}
	}
	if err := s.db.WithContext(ctx).Exec("PRAGMA foreign_keys=ON;").Error; err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	return nil
}

func dialectorFromConfig(cfg Config) (gorm.Dialector, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		dsn, err := dsnFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		return sqlite.Open(dsn), nil
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, errors.New("postgres dsn is required")
		}
		return postgres.Open(cfg.DSN), nil
	case DriverMySQL:
		if cfg.DSN == "" {
			return nil, errors.New("mysql dsn is required")
		}
		return mysql.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q (supported: sqlite, postgres, mysql)", cfg.Driver)
	}
}

func dsnFromConfig(cfg Config) (string, error) {
	timeoutMS := int(cfg.BusyTimeout / time.Millisecond)
	if timeoutMS <= 0 {
		timeoutMS = 5000
	}

	if cfg.InMemory {
		return fmt.Sprintf("file:supportdesk?mode=memory&cache=shared&_busy_timeout=%d", timeoutMS), nil
	}

	if cfg.Path == "" {
		return "", errors.New("sqlite path is required when InMemory=false")
	}

	return fmt.Sprintf("file:%s?_busy_timeout=%d", cfg.Path, timeoutMS), nil
}

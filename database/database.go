// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package database

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/blinklabs-io/palmyra/database/models"
	"github.com/glebarez/sqlite"
	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

const (
	PluginSqlite   = "sqlite"
	PluginPostgres = "postgres"
	PluginMysql    = "mysql"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrCheckTerminal = errors.New("check already settled")
	ErrUnknownPlugin = errors.New("unknown database plugin")
)

// Config holds the options for opening the relational store
type Config struct {
	Logger  *slog.Logger
	Plugin  string
	DataDir string
	// Server connection settings, ignored by sqlite
	Dsn      string
	Host     string
	Port     uint
	User     string
	Password string
	Database string
	SslMode  string
}

type Database struct {
	db      *gorm.DB
	logger  *slog.Logger
	dialect string
}

// New opens the configured store and applies model migrations
func New(cfg Config) (*Database, error) {
	if cfg.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	var gdb *gorm.DB
	var err error
	switch cfg.Plugin {
	case PluginSqlite, "":
		cfg.Plugin = PluginSqlite
		gdb, err = openSqlite(cfg.DataDir)
	case PluginPostgres:
		gdb, err = openPostgres(cfg)
	case PluginMysql:
		gdb, err = openMysql(cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, cfg.Plugin)
	}
	if err != nil {
		return nil, err
	}
	d := &Database{
		db:      gdb,
		logger:  cfg.Logger.With("component", "database"),
		dialect: cfg.Plugin,
	}
	// Configure tracing for GORM
	if err := d.db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}
	for _, model := range models.MigrateModels {
		d.logger.Debug(fmt.Sprintf("creating table: %#v", model))
		if err := d.db.AutoMigrate(model); err != nil {
			return nil, fmt.Errorf("migrate %T: %w", model, err)
		}
	}
	return d, nil
}

func openSqlite(dataDir string) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	}
	if dataDir == "" {
		// cache=shared allows multiple connections to share the same in-memory database
		return gorm.Open(
			sqlite.Open("file::memory:?cache=shared"),
			gormCfg,
		)
	}
	// Make sure that we can read data dir, and create if it doesn't exist
	if _, err := os.Stat(dataDir); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read data dir: %w", err)
		}
		if err := os.MkdirAll(dataDir, fs.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}
	dbPath := filepath.Join(dataDir, "palmyra.sqlite")
	// WAL journal mode and a busy timeout so the API and worker can share the file
	connOpts := "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	return gorm.Open(
		sqlite.Open(fmt.Sprintf("file:%s?%s", dbPath, connOpts)),
		gormCfg,
	)
}

func openPostgres(cfg Config) (*gorm.DB, error) {
	dsn := strings.TrimSpace(cfg.Dsn)
	if dsn == "" {
		if cfg.Host == "" {
			cfg.Host = "localhost"
		}
		if cfg.Port == 0 {
			cfg.Port = 5432
		}
		if cfg.User == "" {
			cfg.User = "postgres"
		}
		if cfg.Database == "" {
			cfg.Database = "palmyra"
		}
		if cfg.SslMode == "" {
			cfg.SslMode = "disable"
		}
		parts := []string{
			"host=" + cfg.Host,
			"user=" + cfg.User,
			"password=" + cfg.Password,
			"dbname=" + cfg.Database,
			"port=" + strconv.FormatUint(uint64(cfg.Port), 10),
			"sslmode=" + cfg.SslMode,
			"TimeZone=UTC",
		}
		dsn = strings.Join(parts, " ")
	}
	gdb, err := gorm.Open(
		postgres.Open(dsn),
		&gorm.Config{
			Logger:                 gormlogger.Discard,
			SkipDefaultTransaction: true,
			PrepareStmt:            true,
		},
	)
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return gdb, nil
}

func openMysql(cfg Config) (*gorm.DB, error) {
	dsn := strings.TrimSpace(cfg.Dsn)
	if dsn == "" {
		if cfg.Host == "" {
			cfg.Host = "localhost"
		}
		if cfg.Port == 0 {
			cfg.Port = 3306
		}
		if cfg.User == "" {
			cfg.User = "root"
		}
		if cfg.Database == "" {
			cfg.Database = "palmyra"
		}
		myCfg := mysql.Config{
			User:   cfg.User,
			Passwd: cfg.Password,
			Net:    "tcp",
			Addr: fmt.Sprintf(
				"%s:%s",
				cfg.Host,
				strconv.FormatUint(uint64(cfg.Port), 10),
			),
			DBName:               cfg.Database,
			ParseTime:            true,
			AllowNativePasswords: true,
			Loc:                  time.UTC,
		}
		if cfg.SslMode != "" && cfg.SslMode != "disable" {
			myCfg.Params = map[string]string{"tls": cfg.SslMode}
		}
		dsn = myCfg.FormatDSN()
	}
	gdb, err := gorm.Open(
		gormmysql.Open(dsn),
		&gorm.Config{
			Logger:                 gormlogger.Discard,
			SkipDefaultTransaction: true,
			PrepareStmt:            true,
		},
	)
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return gdb, nil
}

// DB returns the underlying gorm handle
func (d *Database) DB() *gorm.DB {
	return d.db
}

// Dialect returns the name of the plugin in use
func (d *Database) Dialect() string {
	return d.dialect
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// notFound converts gorm's not found error into ErrNotFound
func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// Pagination limits list queries
type Pagination struct {
	Count int
	Page  int
	// Desc orders newest first
	Desc bool
}

func (p Pagination) apply(q *gorm.DB, orderColumn string) *gorm.DB {
	order := orderColumn + " ASC"
	if p.Desc {
		order = orderColumn + " DESC"
	}
	q = q.Order(order)
	if p.Count > 0 {
		q = q.Limit(p.Count)
		if p.Page > 1 {
			q = q.Offset((p.Page - 1) * p.Count)
		}
	}
	return q
}

package andre

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"

	notifyChannelRuntimeConfig = "andre_reload_runtime_config"
	notifyChannelClearCache    = "andre_clear_cache"
	notifyChannelProperties    = "andre_reload_properties"
	notifyChannelStop          = "andre_stop"
	recordSeparator            = string(rune(30))
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
		"pragma mmap_size = 8000000000;",
	}
	dbOperationTimeout    = 30 * time.Second
	dbNotifierSendTimeout = 15 * time.Second
)

// ModelUnixTime is an embeddable model with millisecond Unix timestamps
// for creation and update, and soft deletion.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// ModelTimestamps is ModelUnixTime without soft deletion, for rows
// that are removed for good.
type ModelTimestamps struct {
	CreatedAt int64 `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64 `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// database wraps a gorm connection for write operations. When concurrent
// writes are disabled (sqlite), every write holds a mutex. Operations
// without a context deadline get dbOperationTimeout.
type database struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	logger                 *slog.Logger
	enableConcurrentWrites bool
}

func NewDatabase(
	db *gorm.DB,
	log *slog.Logger,
	enableConcurrentWrites bool,
) DBI {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:                     db,
		logger:                 log.With(loggerNameKey, "writedb"),
		enableConcurrentWrites: enableConcurrentWrites,
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

func (d *database) Lock() {
	if d.enableConcurrentWrites {
		return
	}
	d.mu.Lock()
}

func (d *database) Unlock() {
	if d.enableConcurrentWrites {
		return
	}
	d.mu.Unlock()
}

// begin locks (for sqlite) and returns a context with the default
// operation timeout, if the given context has no deadline.
// The returned func must be called when the operation is done.
func (d *database) begin(ctx context.Context) (context.Context, func()) {
	d.Lock()
	if _, ok := ctx.Deadline(); ok {
		return ctx, d.Unlock
	}
	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	return ctx, func() {
		cancel()
		d.Unlock()
	}
}

func (d *database) Create(ctx context.Context, value any, omit ...string) (
	rowsAffected int64,
	err error,
) {
	ctx, done := d.begin(ctx)
	defer done()

	db := d.db.WithContext(ctx)
	if len(omit) > 0 {
		db = db.Omit(omit...)
	}
	rv := db.Create(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Updates(ctx context.Context, model, values any) (
	rowsAffected int64,
	err error,
) {
	ctx, done := d.begin(ctx)
	defer done()

	rv := d.db.WithContext(ctx).Model(model).Updates(values)
	return rv.RowsAffected, rv.Error
}

func (d *database) Transaction(
	ctx context.Context,
	fc func(tx *gorm.DB) error,
	opts ...*sql.TxOptions,
) error {
	ctx, done := d.begin(ctx)
	defer done()

	return d.db.WithContext(ctx).Transaction(fc, opts...)
}

func (d *database) Save(ctx context.Context, value any, omit ...string) (
	rowsAffected int64,
	err error,
) {
	ctx, done := d.begin(ctx)
	defer done()

	db := d.db.WithContext(ctx)
	if len(omit) > 0 {
		db = db.Omit(omit...)
	}
	rv := db.Save(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Update(
	ctx context.Context,
	model any,
	column string,
	value any,
) (rowsAffected int64, err error) {
	ctx, done := d.begin(ctx)
	defer done()

	rv := d.db.WithContext(ctx).Model(model).Update(column, value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Delete(
	ctx context.Context,
	value any,
	conds ...any,
) (rowsAffected int64, err error) {
	ctx, done := d.begin(ctx)
	defer done()

	rv := d.db.WithContext(ctx).Delete(value, conds...)
	return rv.RowsAffected, rv.Error
}

// Duration is a wrapper for time.Duration that implements
// SQL Scanner and Valuer interfaces for GORM.
type Duration struct {
	time.Duration
}

// Scan implements the sql.Scanner interface.
func (d *Duration) Scan(value any) error {
	switch v := value.(type) {
	case []byte:
		return d.parse(string(v))
	case string:
		return d.parse(v)
	default:
		return fmt.Errorf("unexpected type for Duration: %T", value)
	}
}

// Value implements the driver.Valuer interface.
func (d Duration) Value() (driver.Value, error) {
	return d.String(), nil
}

func (d *Duration) parse(value string) error {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	d.Duration = duration
	return nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		return nil
	}
	return d.parse(strings.Trim(s, `"`))
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`%q`, d.String())), nil
}

func (Duration) GormDataType() string {
	return "string"
}

// DBI defines the interface for write operations. [database] implements it.
type DBI interface {
	Lock()
	Unlock()

	DB() *gorm.DB
	Create(ctx context.Context, value any, omit ...string) (rowsAffected int64, err error)
	Updates(ctx context.Context, model any, values any) (rowsAffected int64, err error)
	Delete(ctx context.Context, value any, conds ...any) (rowsAffected int64, err error)
	Transaction(
		ctx context.Context,
		fc func(tx *gorm.DB) error,
		opts ...*sql.TxOptions,
	) error
	Save(ctx context.Context, value any, omit ...string) (rowsAffected int64, err error)
	Update(ctx context.Context, model any, column string, value any) (
		rowsAffected int64,
		err error,
	)
}

// dbModels lists every model migrated by CreateDB and Andre.Run
func dbModels() []any {
	return []any{
		&Country{},
		&User{},
		&Project{},
		&Language{},
		&ProgrammingLanguage{},
		&Extras{},
		&UserExtras{},
		&Badge{},
		&UserBadge{},
		&RuntimeConfig{},
		&CommandLog{},
	}
}

// CreateDB opens the database and runs migrations.
//
// databaseType must be 'sqlite' or 'postgres'. database is the
// connection string, or the sqlite file path.
func CreateDB(ctx context.Context, databaseType string, database string) (*gorm.DB, error) {
	return createDB(ctx, os.Stdout, databaseType, database)
}

func createDB(
	ctx context.Context,
	w io.Writer,
	databaseType string,
	database string,
) (*gorm.DB, error) {
	handler := newLogHandler(w, slog.LevelWarn)
	gormLogger := newGORMLogger(handler, 500*time.Millisecond)
	dbLogger := slog.New(handler)

	dbLogger.InfoContext(
		ctx,
		"Initializing database",
		"database_type", databaseType,
		"database", database,
	)
	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return db, err
	}

	if err = migrate(ctx, db); err != nil {
		return db, err
	}
	return db, nil
}

func migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			return tx.Migrator().AutoMigrate(dbModels()...)
		},
	)
}

// getDB opens a gorm connection for the given database type, creating the
// parent directory of a sqlite file if needed.
func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0o755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		return gorm.Open(sqlite.Open(database), gormConfig)
	case dbTypePostgres:
		return gorm.Open(postgres.Open(database), gormConfig)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}

// DBNotifier notifies bot instances sharing a database of changes made
// by another instance (admin API updates, !clearcache, properties
// updates, stop requests).
type DBNotifier interface {
	RuntimeConfigChannelName() string

	// ReloadRuntimeConfig tells bot instances to reload their
	// runtime configuration from the DB
	ReloadRuntimeConfig(context.Context) bool

	CacheChannelName() string

	// ClearCache tells bot instances to drop their cached lists
	ClearCache(context.Context) bool

	PropertiesChannelName() string

	// ReloadProperties tells bot instances the properties file changed
	// for the given key
	ReloadProperties(ctx context.Context, key string) bool

	StopChannelName() string

	// Stop sends a shutdown signal to all bots
	Stop(context.Context) bool

	// ID returns the identifier for this notifier, used to filter
	// out its own notifications.
	ID() string

	// Channels returns the channels Listen should be called for
	Channels() []string
	Listen(ctx context.Context, channel string) error
}

func newDBNotifier(a *Andre) (DBNotifier, error) {
	notifyID, err := generateRandomHexString(16)
	if err != nil {
		return nil, err
	}
	log := a.logger.With(loggerNameKey, "db_notifier")
	switch a.config.DatabaseType {
	case dbTypeSQLite:
		return &sqliteNotifier{logger: log, a: a, notifyID: notifyID}, nil
	case dbTypePostgres:
		return &postgresNotifier{logger: log, a: a, notifyID: notifyID}, nil
	default:
		return nil, errors.New("invalid database type")
	}
}

// sqliteNotifier forwards notifications to the local instance only
type sqliteNotifier struct {
	logger   *slog.Logger
	a        *Andre
	notifyID string
}

func (s *sqliteNotifier) Listen(_ context.Context, channel string) error {
	s.logger.Debug("listener called", "channel", channel)
	return nil
}

func (*sqliteNotifier) Channels() []string {
	return nil
}

func (*sqliteNotifier) StopChannelName() string {
	return ""
}

func (*sqliteNotifier) RuntimeConfigChannelName() string {
	return ""
}

func (*sqliteNotifier) CacheChannelName() string {
	return ""
}

func (*sqliteNotifier) PropertiesChannelName() string {
	return ""
}

func (s *sqliteNotifier) ID() string {
	return s.notifyID
}

func (s *sqliteNotifier) Stop(ctx context.Context) bool {
	s.logger.Info("notifying stop signal")
	return sendSignal(ctx, s.logger, s.a.signalStop, struct{}{})
}

func (s *sqliteNotifier) ReloadRuntimeConfig(ctx context.Context) bool {
	s.logger.Info("notifying runtime config reload")
	return sendSignal(ctx, s.logger, s.a.triggerRuntimeConfigRefreshCh, true)
}

func (s *sqliteNotifier) ClearCache(ctx context.Context) bool {
	s.logger.Info("notifying cache clear")
	return sendSignal(ctx, s.logger, s.a.triggerCacheClearCh, true)
}

func (s *sqliteNotifier) ReloadProperties(ctx context.Context, key string) bool {
	s.logger.Info("notifying properties reload", "key", key)
	return sendSignal(ctx, s.logger, s.a.triggerPropertiesReloadCh, key)
}

func sendSignal[T any](ctx context.Context, logger *slog.Logger, ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		logger.Warn("timeout sending signal", tint.Err(ctx.Err()))
		return false
	}
}

// postgresNotifier uses LISTEN/NOTIFY, with the notifier ID as the
// payload so an instance can ignore its own notifications
type postgresNotifier struct {
	a        *Andre
	logger   *slog.Logger
	notifyID string
}

func (*postgresNotifier) RuntimeConfigChannelName() string {
	return notifyChannelRuntimeConfig
}

func (*postgresNotifier) CacheChannelName() string {
	return notifyChannelClearCache
}

func (*postgresNotifier) PropertiesChannelName() string {
	return notifyChannelProperties
}

func (*postgresNotifier) StopChannelName() string {
	return notifyChannelStop
}

func (p *postgresNotifier) Channels() []string {
	return []string{
		p.RuntimeConfigChannelName(),
		p.CacheChannelName(),
		p.PropertiesChannelName(),
		p.StopChannelName(),
	}
}

func (p *postgresNotifier) ID() string {
	return p.notifyID
}

func (p *postgresNotifier) notify(ctx context.Context, channel string, payload string) bool {
	notifyErr := p.a.writeDB.DB().WithContext(ctx).Exec(
		"SELECT pg_notify(?, ?)",
		channel,
		payload,
	).Error
	if notifyErr != nil {
		p.logger.ErrorContext(
			ctx,
			"error sending NOTIFY",
			"channel", channel,
			tint.Err(notifyErr),
		)
		return false
	}
	p.logger.InfoContext(
		ctx,
		"sent notification",
		"channel", channel,
		"pg_notify_id", p.ID(),
	)
	return true
}

func (p *postgresNotifier) Stop(ctx context.Context) bool {
	return p.notify(ctx, p.StopChannelName(), p.ID())
}

func (p *postgresNotifier) ReloadRuntimeConfig(ctx context.Context) bool {
	return p.notify(ctx, p.RuntimeConfigChannelName(), p.ID())
}

func (p *postgresNotifier) ClearCache(ctx context.Context) bool {
	return p.notify(ctx, p.CacheChannelName(), p.ID())
}

func (p *postgresNotifier) ReloadProperties(ctx context.Context, key string) bool {
	return p.notify(
		ctx,
		p.PropertiesChannelName(),
		newPropertiesNotificationMessage(p.ID(), key),
	)
}

func parsePropertiesNotification(s string) (notifierID, key string) {
	before, after, _ := strings.Cut(s, recordSeparator)
	return before, after
}

func newPropertiesNotificationMessage(notifierID string, key string) string {
	return strings.Join([]string{notifierID, key}, recordSeparator)
}

func (p *postgresNotifier) Listen(ctx context.Context, channel string) error {
	p.logger.Info("starting db listener", "channel", channel)

	config, err := pgxpool.ParseConfig(p.a.config.Database)
	if err != nil {
		p.logger.ErrorContext(ctx, "error parsing database config", tint.Err(err))
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		p.logger.ErrorContext(ctx, "error creating connection pool", tint.Err(err))
		return err
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "error acquiring connection", tint.Err(err))
		return err
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, fmt.Sprintf("LISTEN %s", channel))
	if err != nil {
		p.logger.ErrorContext(ctx, "error setting up listener", tint.Err(err))
		return err
	}
	logger := p.logger.With("channel", channel)
	logger.InfoContext(ctx, "started listening on channel")

	for ctx.Err() == nil {
		notification, e := conn.Conn().WaitForNotification(ctx)
		if e != nil {
			if ctx.Err() != nil {
				break
			}
			logger.ErrorContext(ctx, "error waiting for notification", tint.Err(e))
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
			continue
		}

		switch channel {
		case p.PropertiesChannelName():
			notifierID, key := parsePropertiesNotification(notification.Payload)
			if notifierID == p.ID() {
				logger.Debug("received notification from self, ignoring")
				continue
			}
			p.forward(ctx, logger, func() bool {
				return sendWithTimeout(p.a.triggerPropertiesReloadCh, key)
			})
		default:
			if notification.Payload == p.ID() {
				logger.Debug("received notification from self, ignoring")
				continue
			}
			switch channel {
			case p.RuntimeConfigChannelName():
				p.forward(ctx, logger, func() bool {
					return sendWithTimeout(p.a.triggerRuntimeConfigRefreshCh, true)
				})
			case p.CacheChannelName():
				p.forward(ctx, logger, func() bool {
					return sendWithTimeout(p.a.triggerCacheClearCh, true)
				})
			case p.StopChannelName():
				p.forward(ctx, logger, func() bool {
					return sendWithTimeout(p.a.signalStop, struct{}{})
				})
			default:
				logger.Warn("received unknown notification", "channel", notification.Channel)
			}
		}
	}

	return nil
}

func (p *postgresNotifier) forward(ctx context.Context, logger *slog.Logger, send func() bool) {
	if send() {
		logger.InfoContext(ctx, "forwarded notification")
		return
	}
	logger.WarnContext(ctx, "timed out forwarding notification")
}

func sendWithTimeout[T any](ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-time.After(dbNotifierSendTimeout):
		return false
	}
}

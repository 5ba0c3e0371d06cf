// Package warehouse reads tables and views of an analytical database as
// tabs. Every query is metered, so tab listings and tab data are served
// through a stale-while-revalidate cache.
package warehouse

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	// database/sql drivers
	_ "github.com/lib/pq"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/agentstation/fieldsync/pkg/connectors"
	"github.com/agentstation/fieldsync/pkg/constants"
	"github.com/agentstation/fieldsync/pkg/errors"
	"github.com/agentstation/fieldsync/pkg/logging"
)

// Kind is the connector kind.
const Kind connectors.Kind = "warehouse"

// Config is the connection configuration. A non-empty credential replaces
// DSN, so secrets need not live in the stored configuration.
type Config struct {
	Driver string `json:"driver" validate:"required,oneof=postgres sqlite"`
	DSN    string `json:"dsn"`
	Schema string `json:"schema"`
}

func (c Config) schema() string {
	if c.Schema == "" {
		return "public"
	}
	return c.Schema
}

// Connector implements connectors.Connector over SQL databases.
type Connector struct {
	logger  *zerolog.Logger
	timeout time.Duration
	tabs    *connectors.Cache[[]connectors.Tab]
	data    *connectors.Cache[*connectors.Data]

	mu  sync.Mutex
	dbs map[string]*sqlx.DB
}

var _ connectors.Connector = (*Connector)(nil)

type options struct {
	fresh, stale time.Duration
	now          func() time.Time
	logger       *zerolog.Logger
	timeout      time.Duration
}

// Option configures a Connector.
type Option func(*options)

// WithCacheWindows sets the fresh and stale windows of the result cache.
func WithCacheWindows(fresh, stale time.Duration) Option {
	return func(o *options) { o.fresh, o.stale = fresh, stale }
}

// WithClock sets the clock used to age cache entries.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithQueryTimeout bounds each query.
func WithQueryTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// New creates a warehouse connector.
func New(opts ...Option) *Connector {
	o := options{
		fresh:   constants.CacheFreshWindow,
		stale:   constants.CacheStaleWindow,
		now:     time.Now,
		logger:  logging.Default(),
		timeout: constants.DefaultQueryTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	onError := func(key string, err error) {
		o.logger.Warn().Err(err).Str("connector", string(Kind)).Msg("background cache refresh failed")
	}
	cacheOpts := []connectors.CacheOption{
		connectors.WithCacheClock(o.now),
		connectors.WithRefreshErrorHandler(onError),
		connectors.WithRefreshTimeout(o.timeout),
	}
	return &Connector{
		logger:  o.logger,
		timeout: o.timeout,
		tabs:    connectors.NewCache[[]connectors.Tab](o.fresh, o.stale, cacheOpts...),
		data:    connectors.NewCache[*connectors.Data](o.fresh, o.stale, cacheOpts...),
		dbs:     make(map[string]*sqlx.DB),
	}
}

// Kind implements connectors.Connector.
func (c *Connector) Kind() connectors.Kind { return Kind }

// Capabilities implements connectors.Connector.
func (c *Connector) Capabilities() connectors.Capabilities {
	return connectors.Capabilities{HasTabs: true}
}

// ValidateConfig implements connectors.Connector.
func (c *Connector) ValidateConfig(raw json.RawMessage) error {
	_, err := connectors.ParseConfig[Config](Kind, raw)
	return err
}

// source is a resolved connection: config plus the effective DSN.
type source struct {
	cfg    Config
	dsn    string
	flavor sqlbuilder.Flavor
}

// key identifies the source in caches and the pool without exposing the DSN.
func (s source) key(parts ...string) string {
	h := sha256.Sum256([]byte(s.cfg.Driver + "\x00" + s.dsn + "\x00" + s.cfg.Schema))
	return strings.Join(append([]string{hex.EncodeToString(h[:8])}, parts...), "/")
}

func resolve(cred connectors.Credential, raw json.RawMessage) (source, error) {
	cfg, err := connectors.ParseConfig[Config](Kind, raw)
	if err != nil {
		return source{}, err
	}
	dsn := cfg.DSN
	if cred != "" {
		dsn = string(cred)
	}
	if dsn == "" {
		return source{}, fmt.Errorf("%s: %w", Kind, errors.ErrCredentialRequired)
	}
	flavor := sqlbuilder.PostgreSQL
	if cfg.Driver == "sqlite" {
		flavor = sqlbuilder.SQLite
	}
	return source{cfg: cfg, dsn: dsn, flavor: flavor}, nil
}

func (c *Connector) db(src source) (*sqlx.DB, error) {
	key := src.key()
	c.mu.Lock()
	defer c.mu.Unlock()
	if db, ok := c.dbs[key]; ok {
		return db, nil
	}
	driver := "postgres"
	if src.cfg.Driver == "sqlite" {
		driver = "sqlite3"
	}
	db, err := sqlx.Open(driver, src.dsn)
	if err != nil {
		return nil, errors.WrapResource("open", "warehouse", src.cfg.Driver, err)
	}
	c.dbs[key] = db
	return db, nil
}

// Close closes every pooled connection.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for key, db := range c.dbs {
		errs = append(errs, db.Close())
		delete(c.dbs, key)
	}
	return errors.Join(errs...)
}

// Tabs implements connectors.Connector.
func (c *Connector) Tabs(ctx context.Context, cred connectors.Credential, raw json.RawMessage) ([]connectors.Tab, error) {
	src, err := resolve(cred, raw)
	if err != nil {
		return nil, err
	}
	return c.tabs.Get(ctx, src.key("tabs"), func(ctx context.Context) ([]connectors.Tab, error) {
		return c.listTabs(ctx, src)
	})
}

// RawRows implements connectors.Connector. Tables always have a header, so
// the column names come back as the first row.
func (c *Connector) RawRows(ctx context.Context, cred connectors.Credential, raw json.RawMessage, tab string, maxRows int) (*connectors.RawRows, error) {
	data, err := c.Data(ctx, cred, raw, tab, 0)
	if err != nil {
		return nil, err
	}
	rows := make([][]string, 0, len(data.Rows)+1)
	rows = append(rows, data.Headers)
	rows = append(rows, data.Rows...)
	out := &connectors.RawRows{Rows: rows, TotalRows: len(rows)}
	if maxRows > 0 && len(rows) > maxRows {
		out.Rows = rows[:maxRows]
	}
	return out, nil
}

// Data implements connectors.Connector. Column names are the header, so
// headerRow must be 0.
func (c *Connector) Data(ctx context.Context, cred connectors.Credential, raw json.RawMessage, tab string, headerRow int) (*connectors.Data, error) {
	if headerRow != 0 {
		return nil, errors.NewValidationError("header_row", headerRow, "warehouse tables have their header in row 0")
	}
	src, err := resolve(cred, raw)
	if err != nil {
		return nil, err
	}
	tabs, err := c.Tabs(ctx, cred, raw)
	if err != nil {
		return nil, err
	}
	name, ok := match(tabs, tab)
	if !ok {
		return nil, errors.NewNotFoundError("tab", tab)
	}
	return c.data.Get(ctx, src.key("data", name), func(ctx context.Context) (*connectors.Data, error) {
		return c.selectAll(ctx, src, name)
	})
}

// TestConnection implements connectors.Connector.
func (c *Connector) TestConnection(ctx context.Context, cred connectors.Credential, raw json.RawMessage) connectors.TestResult {
	src, err := resolve(cred, raw)
	if err != nil {
		return connectors.TestResult{Error: err.Error()}
	}
	db, err := c.db(src)
	if err != nil {
		return connectors.TestResult{Error: err.Error()}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return connectors.TestResult{Error: err.Error()}
	}
	tabs, err := c.listTabs(ctx, src)
	if err != nil {
		return connectors.TestResult{Error: err.Error()}
	}
	return connectors.TestResult{Success: true, Details: map[string]any{"driver": src.cfg.Driver, "tabs": len(tabs)}}
}

func (c *Connector) listTabs(ctx context.Context, src source) ([]connectors.Tab, error) {
	db, err := c.db(src)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	sb := src.flavor.NewSelectBuilder()
	if src.cfg.Driver == "sqlite" {
		sb.Select("name").From("sqlite_master").Where(
			sb.In("type", "table", "view"),
			sb.NotLike("name", "sqlite_%"),
		).OrderBy("name")
	} else {
		sb.Select("table_name").From("information_schema.tables").Where(
			sb.Equal("table_schema", src.cfg.schema()),
		).OrderBy("table_name")
	}
	query, args := sb.Build()
	var names []string
	if err := db.SelectContext(ctx, &names, query, args...); err != nil {
		return nil, errors.WrapResource("list", "tables", src.cfg.Driver, err)
	}

	tabs := make([]connectors.Tab, 0, len(names))
	for _, name := range names {
		tab := connectors.Tab{ID: name, Title: name}
		table := qualified(src, name)
		if err := db.GetContext(ctx, &tab.RowCount, "SELECT COUNT(*) FROM "+table); err != nil {
			return nil, errors.WrapResource("count", "table", name, err)
		}
		rows, err := db.QueryxContext(ctx, "SELECT * FROM "+table+" LIMIT 0")
		if err != nil {
			return nil, errors.WrapResource("describe", "table", name, err)
		}
		cols, err := rows.Columns()
		_ = rows.Close()
		if err != nil {
			return nil, errors.WrapResource("describe", "table", name, err)
		}
		tab.ColumnCount = len(cols)
		tabs = append(tabs, tab)
	}
	c.logger.Debug().Str("connector", string(Kind)).Int("tabs", len(tabs)).Msg("listed warehouse tables")
	return tabs, nil
}

func (c *Connector) selectAll(ctx context.Context, src source, name string) (*connectors.Data, error) {
	db, err := c.db(src)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	sb := src.flavor.NewSelectBuilder()
	sb.Select("*").From(qualified(src, name))
	query, args := sb.Build()
	rows, err := db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapResource("select", "table", name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.WrapResource("select", "table", name, err)
	}
	data := &connectors.Data{Headers: cols, Rows: [][]string{}}
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, errors.WrapResource("scan", "table", name, err)
		}
		row := make([]string, len(values))
		for i, v := range values {
			row[i] = stringify(v)
		}
		data.Rows = append(data.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapResource("select", "table", name, err)
	}
	return data, nil
}

// match resolves a requested tab against the listed ones, exactly and then
// case-insensitively. Only listed names are ever interpolated into SQL.
func match(tabs []connectors.Tab, tab string) (string, bool) {
	for _, t := range tabs {
		if t.ID == tab {
			return t.ID, true
		}
	}
	for _, t := range tabs {
		if strings.EqualFold(t.ID, strings.TrimSpace(tab)) {
			return t.ID, true
		}
	}
	return "", false
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func qualified(src source, name string) string {
	if src.cfg.Driver == "sqlite" {
		return quote(name)
	}
	return quote(src.cfg.schema()) + "." + quote(name)
}

// stringify renders a scanned value the way a spreadsheet cell would show it.
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(time.DateOnly)
		}
		return x.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

package session

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/xerrors"

	apperrors "github.com/go-i2p/dbcp/lib/errors"
)

// Supported driver names, as registered with database/sql.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

// DefaultPingTimeout bounds the fallback liveness ping for drivers that do
// not report validity locally.
const DefaultPingTimeout = time.Second

// DialerConfig describes the single backend endpoint.
type DialerConfig struct {
	Driver   string
	Host     string
	Port     int
	Database string
	Username string
	Password string
	// ConnectTimeout bounds the TCP connect and handshake.
	ConnectTimeout time.Duration
	// PingTimeout bounds the fallback liveness ping.
	PingTimeout time.Duration
	// Params are appended to the DSN verbatim.
	Params map[string]string
}

// Addr returns host:port.
func (c DialerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DSN renders the driver-specific data source name.
func (c DialerConfig) DSN() (string, error) {
	switch c.Driver {
	case DriverMySQL, "":
		mc := mysql.NewConfig()
		mc.User = c.Username
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = c.Addr()
		mc.DBName = c.Database
		mc.Timeout = c.ConnectTimeout
		mc.ParseTime = true
		if len(c.Params) > 0 {
			mc.Params = make(map[string]string, len(c.Params))
			for k, v := range c.Params {
				mc.Params[k] = v
			}
		}
		return mc.FormatDSN(), nil
	case DriverPostgres:
		q := url.Values{}
		if c.ConnectTimeout > 0 {
			secs := int(c.ConnectTimeout.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			q.Set("connect_timeout", strconv.Itoa(secs))
		}
		for k, v := range c.Params {
			q.Set(k, v)
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.Username, c.Password),
			Host:     c.Addr(),
			Path:     "/" + c.Database,
			RawQuery: q.Encode(),
		}
		return u.String(), nil
	case DriverSQLite:
		if c.Database == "" {
			return "", fmt.Errorf("session: sqlite3 needs a database path: %w", apperrors.ErrConfiguration)
		}
		if len(c.Params) == 0 {
			return c.Database, nil
		}
		q := url.Values{}
		for k, v := range c.Params {
			q.Set(k, v)
		}
		return "file:" + c.Database + "?" + q.Encode(), nil
	default:
		return "", fmt.Errorf("session: unsupported driver %q: %w", c.Driver, apperrors.ErrConfiguration)
	}
}

// OpError describes a failed backend operation. It matches both its
// sentinel Kind and the underlying driver error under errors.Is.
type OpError struct {
	Op   string
	Addr string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *OpError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// SQLDialer opens sessions through database/sql. The underlying *sql.DB is
// used only as a connection factory: it keeps no idle connections, so every
// Dial is a fresh physical session and every Close really disconnects.
type SQLDialer struct {
	cfg  DialerConfig
	addr string
	db   *sql.DB
}

// NewSQLDialer validates cfg and prepares the driver. It performs no I/O.
func NewSQLDialer(cfg DialerConfig) (*SQLDialer, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverMySQL
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = DefaultPingTimeout
	}
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, xerrors.Errorf("session: open driver %s: %w", cfg.Driver, err)
	}
	db.SetMaxIdleConns(0)

	addr := cfg.Addr()
	if cfg.Driver == DriverSQLite {
		addr = cfg.Database
	}
	log.WithField("driver", cfg.Driver).WithField("addr", addr).Debug("sql dialer ready")
	return &SQLDialer{cfg: cfg, addr: addr, db: db}, nil
}

// Dial opens one physical session.
func (d *SQLDialer) Dial(ctx context.Context) (Session, error) {
	if d.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.ConnectTimeout)
		defer cancel()
	}
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, xerrors.Errorf("session: %w", &OpError{Op: "dial", Addr: d.addr, Kind: apperrors.ErrConnection, Err: err})
	}
	return &sqlSession{conn: conn, pingTimeout: d.cfg.PingTimeout}, nil
}

// Close releases the driver. Sessions already dialed must be closed first.
func (d *SQLDialer) Close() error {
	return d.db.Close()
}

type sqlSession struct {
	conn        *sql.Conn
	pingTimeout time.Duration
}

var errNoValidator = errors.New("driver does not implement driver.Validator")

func (s *sqlSession) IsAlive(ctx context.Context) bool {
	err := s.conn.Raw(func(dc any) error {
		v, ok := dc.(driver.Validator)
		if !ok {
			return errNoValidator
		}
		if !v.IsValid() {
			return driver.ErrBadConn
		}
		return nil
	})
	if err == nil {
		return true
	}
	if !errors.Is(err, errNoValidator) {
		return false
	}

	pctx, cancel := context.WithTimeout(ctx, s.pingTimeout)
	defer cancel()
	return s.conn.PingContext(pctx) == nil
}

func (s *sqlSession) Exec(ctx context.Context, stmt string, args ...any) (Result, error) {
	res, err := s.conn.ExecContext(ctx, stmt, args...)
	if err != nil {
		return Result{}, xerrors.Errorf("session: %w", s.opError("exec", err))
	}
	var out Result
	// Not every driver reports both values; missing ones stay zero.
	if n, err := res.RowsAffected(); err == nil {
		out.RowsAffected = n
	}
	if id, err := res.LastInsertId(); err == nil {
		out.LastInsertID = id
	}
	return out, nil
}

func (s *sqlSession) Query(ctx context.Context, stmt string, args ...any) (*RowSet, error) {
	rows, err := s.conn.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, xerrors.Errorf("session: %w", s.opError("query", err))
	}
	defer rows.Close()

	rs, err := scanRows(rows)
	if err != nil {
		return nil, xerrors.Errorf("session: %w", s.opError("scan", err))
	}
	return rs, nil
}

func (s *sqlSession) Close() error {
	if err := s.conn.Close(); err != nil {
		if errors.Is(err, sql.ErrConnDone) {
			return ErrSessionClosed
		}
		return xerrors.Errorf("session: close: %w", err)
	}
	return nil
}

// opError classifies a driver error: broken connections are connection
// errors, everything else is a statement error.
func (s *sqlSession) opError(op string, err error) *OpError {
	kind := apperrors.ErrStatement
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, mysql.ErrInvalidConn) {
		kind = apperrors.ErrConnection
	}
	return &OpError{Op: op, Kind: kind, Err: err}
}

type rowScanner interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// scanRows reads every row into column-keyed maps. Byte slices are
// returned as strings so results serialise as text.
func scanRows(rows rowScanner) (*RowSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	rs := &RowSet{Columns: cols, Rows: []map[string]any{}}

	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = vals[i]
			}
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs, rows.Err()
}

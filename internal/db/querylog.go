package db

import (
	"context"
	"database/sql/driver"
	"fmt"
	"log/slog"

	sqlite3 "github.com/mattn/go-sqlite3"
	"modernc.org/sqlite"
)

// logConnector opens connections on the wrapped driver and logs every
// statement at debug level.
type logConnector struct {
	dsn    string
	drv    driver.Driver
	logger *slog.Logger
}

type logConn struct {
	conn   driver.Conn
	logger *slog.Logger
}

type logStmt struct {
	stmt   driver.Stmt
	query  string
	logger *slog.Logger
}

func newLogConnector(driverName, dsn string, logger *slog.Logger) (driver.Connector, error) {
	var drv driver.Driver
	switch driverName {
	case "sqlite3":
		drv = &sqlite3.SQLiteDriver{}
	case "sqlite":
		drv = &sqlite.Driver{}
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driverName)
	}
	return &logConnector{dsn: dsn, drv: drv, logger: logger}, nil
}

func (c *logConnector) Driver() driver.Driver { return c.drv }

func (c *logConnector) Connect(context.Context) (driver.Conn, error) {
	conn, err := c.drv.Open(c.dsn)
	if err != nil {
		return nil, err
	}
	return &logConn{conn: conn, logger: c.logger}, nil
}

func (c *logConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *logConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	var (
		stmt driver.Stmt
		err  error
	)
	if prep, ok := c.conn.(driver.ConnPrepareContext); ok {
		stmt, err = prep.PrepareContext(ctx, query)
	} else {
		stmt, err = c.conn.Prepare(query)
	}
	if err != nil {
		return nil, err
	}
	return &logStmt{stmt: stmt, query: query, logger: c.logger}, nil
}

func (c *logConn) Close() error { return c.conn.Close() }

func (c *logConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *logConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	c.logger.Debug("sql", "op", "begin")
	if b, ok := c.conn.(driver.ConnBeginTx); ok {
		return b.BeginTx(ctx, opts)
	}
	//nolint:staticcheck // SA1019: fallback for drivers without BeginTx
	return c.conn.Begin()
}

func (c *logConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	e, ok := c.conn.(driver.ExecerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	logQuery(c.logger, "exec", query, values(args))
	return e.ExecContext(ctx, query, args)
}

func (c *logConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	q, ok := c.conn.(driver.QueryerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	logQuery(c.logger, "query", query, values(args))
	return q.QueryContext(ctx, query, args)
}

func (s *logStmt) Close() error { return s.stmt.Close() }

func (s *logStmt) NumInput() int { return s.stmt.NumInput() }

func (s *logStmt) Exec(args []driver.Value) (driver.Result, error) {
	s.log("exec", args)
	//nolint:staticcheck // SA1019: driver.Stmt requires it
	return s.stmt.Exec(args)
}

func (s *logStmt) Query(args []driver.Value) (driver.Rows, error) {
	s.log("query", args)
	//nolint:staticcheck // SA1019: driver.Stmt requires it
	return s.stmt.Query(args)
}

func (s *logStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	s.log("exec", values(args))
	if e, ok := s.stmt.(driver.StmtExecContext); ok {
		return e.ExecContext(ctx, args)
	}
	//nolint:staticcheck // SA1019: fallback for drivers without ExecContext
	return s.stmt.Exec(values(args))
}

func (s *logStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	s.log("query", values(args))
	if q, ok := s.stmt.(driver.StmtQueryContext); ok {
		return q.QueryContext(ctx, args)
	}
	//nolint:staticcheck // SA1019: fallback for drivers without QueryContext
	return s.stmt.Query(values(args))
}

func (s *logStmt) log(op string, args []driver.Value) {
	logQuery(s.logger, op, s.query, args)
}

func logQuery(logger *slog.Logger, op, query string, args []driver.Value) {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = formatArg(a)
	}
	logger.Debug("sql", "op", op, "sql", query, "args", out)
}

func values(args []driver.NamedValue) []driver.Value {
	out := make([]driver.Value, len(args))
	for i := range args {
		out[i] = args[i].Value
	}
	return out
}

// formatArg keeps blobs short; the settings block is binary.
func formatArg(v driver.Value) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(t))
	default:
		return fmt.Sprint(t)
	}
}

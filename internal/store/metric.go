package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/ngrok/sqlmw"
	"github.com/prometheus/client_golang/prometheus"
)

// instrumentedDriver is the pgx driver wrapped with the statement metrics.
const instrumentedDriver = "pgx-instrumented"

var (
	statementRegex = regexp.MustCompile(`^\s*(\w+)`)
	registerOnce   sync.Once

	dbOpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "db_op_duration_milliseconds",
		Help:      "Time spent on a database operation",
		Subsystem: "orchestrator_worker",
		Buckets:   []float64{5, 20, 100, 300, 1000},
	},
		[]string{"op", "statement"},
	)
	dbOpTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "db_op_total",
		Help:      "Number of database operations",
		Subsystem: "orchestrator_worker",
	},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(dbOpLatency)
	prometheus.MustRegister(dbOpTotal)
}

// registerInstrumentedDriver makes instrumentedDriver available to sql.Open.
func registerInstrumentedDriver() {
	registerOnce.Do(func() {
		sql.Register(instrumentedDriver, sqlmw.Driver(stdlib.GetDefaultDriver(), &metricInterceptor{}))
	})
}

type metricInterceptor struct {
	sqlmw.NullInterceptor
}

func (mi *metricInterceptor) ConnBeginTx(ctx context.Context, conn driver.ConnBeginTx, opts driver.TxOptions) (context.Context, driver.Tx, error) {
	defer mi.measure("begin", "", time.Now())
	tx, err := conn.BeginTx(ctx, opts)
	return ctx, tx, err
}

func (mi *metricInterceptor) ConnExecContext(ctx context.Context, conn driver.ExecerContext, query string, args []driver.NamedValue) (driver.Result, error) {
	defer mi.measure("exec", query, time.Now())
	return conn.ExecContext(ctx, query, args)
}

func (mi *metricInterceptor) ConnQueryContext(ctx context.Context, conn driver.QueryerContext, query string, args []driver.NamedValue) (context.Context, driver.Rows, error) {
	defer mi.measure("query", query, time.Now())
	rows, err := conn.QueryContext(ctx, query, args)
	return ctx, rows, err
}

func (mi *metricInterceptor) ConnectorConnect(ctx context.Context, conn driver.Connector) (driver.Conn, error) {
	defer mi.measure("connect", "", time.Now())
	return conn.Connect(ctx)
}

func (mi *metricInterceptor) TxCommit(ctx context.Context, conn driver.Tx) error {
	defer mi.measure("commit", "", time.Now())
	return conn.Commit()
}

func (mi *metricInterceptor) TxRollback(ctx context.Context, conn driver.Tx) error {
	defer mi.measure("rollback", "", time.Now())
	return conn.Rollback()
}

func (mi *metricInterceptor) measure(op, query string, start time.Time) {
	dbOpTotal.With(prometheus.Labels{"op": op}).Inc()
	dbOpLatency.With(prometheus.Labels{
		"op":        op,
		"statement": statementOf(query),
	}).Observe(float64(time.Since(start).Milliseconds()))
}

// statementOf returns the lower-cased leading keyword of query.
func statementOf(query string) string {
	matches := statementRegex.FindStringSubmatch(query)
	if len(matches) < 2 {
		return ""
	}
	return strings.ToLower(matches[1])
}

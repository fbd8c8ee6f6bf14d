package db

import (
	"context"
	"database/sql"
)

// Database is the connection-pool level handle used by repositories.
type Database interface {
	Querier

	// Transaction runs fn inside a transaction, committing when fn returns nil
	// and rolling back otherwise.
	Transaction(ctx context.Context, fn func(tx Transaction) error) error

	// BeginTx starts a transaction the caller must finish explicitly.
	BeginTx(ctx context.Context, opts *TxOptions) (Transaction, error)

	Ping(ctx context.Context) error
	Close() error
	Stats() Stats
}

// Transaction is a Querier bound to one database transaction.
type Transaction interface {
	Querier
	Commit() error
	Rollback() error
}

type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

type Row interface {
	Scan(dest ...interface{}) error
}

type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}

// IsolationLevel mirrors sql.IsolationLevel without leaking database/sql to callers.
type IsolationLevel int

const (
	IsolationDefault IsolationLevel = iota
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
)

// TxOptions configures BeginTx.
type TxOptions struct {
	Isolation IsolationLevel
	ReadOnly  bool
}

// Stats is a subset of sql.DBStats exposed for health reporting.
type Stats struct {
	OpenConnections int
	InUse           int
	Idle            int
	WaitCount       int64
}

// ConvertTxOptions maps TxOptions onto database/sql options.
func ConvertTxOptions(opts *TxOptions) *sql.TxOptions {
	if opts == nil {
		return nil
	}
	out := &sql.TxOptions{ReadOnly: opts.ReadOnly}
	switch opts.Isolation {
	case IsolationReadCommitted:
		out.Isolation = sql.LevelReadCommitted
	case IsolationRepeatableRead:
		out.Isolation = sql.LevelRepeatableRead
	case IsolationSerializable:
		out.Isolation = sql.LevelSerializable
	default:
		out.Isolation = sql.LevelDefault
	}
	return out
}

// ConvertSQLStats maps sql.DBStats onto Stats.
func ConvertSQLStats(s sql.DBStats) Stats {
	return Stats{
		OpenConnections: s.OpenConnections,
		InUse:           s.InUse,
		Idle:            s.Idle,
		WaitCount:       s.WaitCount,
	}
}

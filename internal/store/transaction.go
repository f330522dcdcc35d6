package store

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type txKey struct{}

var errTxFinished = errors.New("transaction already committed or rolled back")

// tx is a gorm transaction carried by a context. Repository calls made with
// that context run inside it.
type tx struct {
	db *gorm.DB
	// postgres txid_current(), zero on sqlite. Only used to correlate log lines.
	id int64
}

func txFromContext(ctx context.Context) (*tx, bool) {
	t, ok := ctx.Value(txKey{}).(*tx)
	return t, ok
}

// Commit commits the transaction carried by ctx and returns a context without it.
// It is a no-op when ctx carries no transaction.
func Commit(ctx context.Context) (context.Context, error) {
	return endTransaction(ctx, "commit", (*gorm.DB).Commit)
}

// Rollback aborts the transaction carried by ctx and returns a context without it.
func Rollback(ctx context.Context) (context.Context, error) {
	return endTransaction(ctx, "rollback", (*gorm.DB).Rollback)
}

// FromContext returns the open transaction carried by ctx or nil.
func FromContext(ctx context.Context) *gorm.DB {
	if t, ok := txFromContext(ctx); ok && t.db != nil {
		return t.db
	}
	return nil
}

func newTransactionContext(ctx context.Context, db *gorm.DB) (context.Context, error) {
	// nested calls join the outer transaction
	if _, ok := txFromContext(ctx); ok {
		return ctx, nil
	}

	t, err := beginTransaction(db.Session(&gorm.Session{Context: ctx}))
	if err != nil {
		return ctx, err
	}
	return context.WithValue(ctx, txKey{}, t), nil
}

func beginTransaction(db *gorm.DB) (*tx, error) {
	gtx := db.Begin()
	if gtx.Error != nil {
		return nil, gtx.Error
	}

	t := &tx{db: gtx}
	if db.Dialector.Name() == "postgres" {
		gtx.Raw("SELECT txid_current()").Scan(&t.id)
	}
	return t, nil
}

func endTransaction(ctx context.Context, action string, end func(*gorm.DB) *gorm.DB) (context.Context, error) {
	t, ok := txFromContext(ctx)
	if !ok {
		return ctx, nil
	}
	ctx = context.WithValue(ctx, txKey{}, nil)

	if t.db == nil {
		return ctx, errTxFinished
	}
	err := end(t.db).Error
	t.db = nil

	log := zap.S().Named("store")
	if err != nil {
		log.Errorw("transaction "+action+" failed", "txid", t.id, "error", err)
		return ctx, err
	}
	log.Debugw("transaction "+action, "txid", t.id)
	return ctx, nil
}

package txn

import (
	"database/sql"

	"github.com/dataplat/etl"
)

// DefaultTxManager default TransactionManager implementation
type DefaultTxManager struct {
	db *sql.DB
}

// NewTransactionManager create a TransactionManager instance
func NewTransactionManager(db *sql.DB) etl.TransactionManager {
	return &DefaultTxManager{
		db: db,
	}
}

// BeginTx begin a transaction
func (tm *DefaultTxManager) BeginTx() (interface{}, etl.EtlError) {
	tx, err := tm.db.Begin()
	if err != nil {
		return nil, etl.NewEtlError(etl.ErrCodeDbFail, "start transaction failed", err)
	}
	return tx, nil
}

// Commit commit a transaction
func (tm *DefaultTxManager) Commit(tx interface{}) etl.EtlError {
	tx1 := tx.(*sql.Tx)
	err := tx1.Commit()
	if err != nil {
		return etl.NewEtlError(etl.ErrCodeDbFail, "transaction commit failed", err)
	}
	return nil
}

// Rollback rollback a transaction
func (tm *DefaultTxManager) Rollback(tx interface{}) etl.EtlError {
	tx1 := tx.(*sql.Tx)
	err := tx1.Rollback()
	if err != nil {
		return etl.NewEtlError(etl.ErrCodeDbFail, "transaction rollback failed", err)
	}
	return nil
}

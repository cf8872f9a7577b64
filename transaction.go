package etl

// TransactionManager used by sink writers to apply replace-mode writes
// atomically.
type TransactionManager interface {
	BeginTx() (tx interface{}, err EtlError)
	Commit(tx interface{}) EtlError
	Rollback(tx interface{}) EtlError
}

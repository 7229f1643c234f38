package executor

import "errors"

// Executor error taxonomy, per spec §7.
var (
	ErrUnsupportedTransactionType = errors.New("executor: unsupported transaction type")
	ErrMissingGasLimit            = errors.New("executor: missing gas limit in attributes")
	ErrInvalidExtraData           = errors.New("executor: invalid extra-data")
	ErrSignature                  = errors.New("executor: signature recovery failed")
	ErrStateRoot                  = errors.New("executor: state root computation failed")
	ErrExecutionFailed            = errors.New("executor: evm execution failed")
)

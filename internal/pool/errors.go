package pool

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the pool.
var (
	ErrPoolClosed      = errors.New("pool: closed")
	ErrNotInUse        = errors.New("pool: connection is not checked out")
	ErrForeign         = errors.New("pool: connection does not belong to this pool")
	ErrTransactionOpen = errors.New("pool: connection has an open transaction")
	ErrReaderWrite     = errors.New("pool: reader connections accept only SELECT")
	ErrInvalidBatch    = errors.New("pool: invalid batch")
)

// BatchError reports a batch insert that stopped partway. Inserted counts
// the rows committed by the batches that succeeded before the failure.
type BatchError struct {
	Inserted int64
	Err      error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch insert stopped after %d rows: %v", e.Inserted, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

package storage

import "errors"

// ErrTxnConflict is returned by a commit whose version preconditions no
// longer hold. WithTransaction retries on it; it never escapes the storage
// layer.
var ErrTxnConflict = errors.New("transaction conflict")

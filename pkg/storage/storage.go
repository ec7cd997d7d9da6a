package storage

// Storage defines the root interface for the entire data layer. It composes
// the transaction runner with the plain read surfaces. Components should
// depend on the more granular interfaces (TxRunner, BookingReader, ...)
// instead of this one.
type Storage interface {
	TxRunner
	BookingReader
	LedgerReader
}

package jobs

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Status is the lifecycle state of a job record.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Record is the ledger entry of one job key.
type Record struct {
	Key       string    `msgpack:"key"`
	Job       Job       `msgpack:"job"`
	Status    Status    `msgpack:"status"`
	Attempts  int       `msgpack:"attempts"`
	LastError string    `msgpack:"lastError,omitempty"`
	UpdatedAt time.Time `msgpack:"updatedAt"`
}

// ErrRecordNotFound is returned by Ledger.Get for unknown keys.
var ErrRecordNotFound = errors.New("jobs: record not found")

const recordPrefix = "job/"

// LedgerOptions configures a Ledger.
type LedgerOptions struct {
	// Dir holds the badger files. Required unless InMemory is set.
	Dir string
	// InMemory keeps the ledger in memory only.
	InMemory bool
	// Logger receives badger's warnings and errors. Nil discards them.
	Logger *slog.Logger
}

// Ledger persists job records in BadgerDB.
type Ledger struct {
	db *badger.DB
}

// OpenLedger opens or creates a ledger.
func OpenLedger(opts LedgerOptions) (*Ledger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("jobs: LedgerOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{logger: logger.With("component", "ledger")})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Get returns the record of key.
func (l *Ledger) Get(key string) (Record, error) {
	var rec Record
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(recordPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s: %w", key, err)
	}
	return rec, nil
}

// Put stores rec under rec.Key.
func (l *Ledger) Put(rec Record) error {
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(recordPrefix+rec.Key), data)
	})
}

// Done reports whether key completed successfully.
func (l *Ledger) Done(key string) (bool, error) {
	rec, err := l.Get(key)
	if errors.Is(err, ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.Status == StatusDone, nil
}

// Records iterates over every record in key order.
func (l *Ledger) Records() iter.Seq2[Record, error] {
	prefix := []byte(recordPrefix)
	return func(yield func(Record, error) bool) {
		stopped := false
		err := l.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				var rec Record
				err := it.Item().Value(func(val []byte) error {
					return msgpack.Unmarshal(val, &rec)
				})
				if !yield(rec, err) {
					stopped = true
					return nil
				}
			}
			return nil
		})
		if err != nil && !stopped {
			yield(Record{}, err)
		}
	}
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

type badgerLogger struct {
	logger *slog.Logger
}

func (b badgerLogger) Errorf(f string, v ...any)   { b.logger.Error(fmt.Sprintf(f, v...)) }
func (b badgerLogger) Warningf(f string, v ...any) { b.logger.Warn(fmt.Sprintf(f, v...)) }
func (badgerLogger) Infof(string, ...any)          {}
func (badgerLogger) Debugf(string, ...any)         {}

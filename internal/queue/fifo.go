package queue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"

	"github.com/cybercinch/directdnsonly/internal/metrics"
)

const (
	pendingPrefix  = "pending:"
	inflightPrefix = "inflight:"
	pollInterval   = 200 * time.Millisecond
)

// FIFO is a durable, crash-recoverable first-in-first-out queue backed by a
// dedicated badger directory (spec.md section 9: "any FIFO with crash
// recovery semantics suffices; the pipeline only requires put/get/task_done
// primitives").
//
// Get reserves an item by moving it from the pending keyspace to the
// inflight keyspace; the caller must call Ack once the item has been fully
// processed. Items still inflight when the queue is reopened are returned to
// pending so a crash mid-processing does not lose work.
type FIFO struct {
	name    string
	db      *badger.DB
	metrics *metrics.Metrics
}

// OpenFIFO opens (creating if absent) the FIFO at dir and recovers any
// inflight items left over from an unclean shutdown.
func OpenFIFO(name, dir string, m *metrics.Metrics) (*FIFO, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open %s queue: %w", name, err)
	}

	f := &FIFO{name: name, db: db, metrics: m}
	if err := f.recoverInflight(); err != nil {
		db.Close()
		return nil, fmt.Errorf("recover %s queue: %w", name, err)
	}
	return f, nil
}

func (f *FIFO) recoverInflight() error {
	return f.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(inflightPrefix)
		var keys [][]byte
		var vals [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			k := append([]byte(nil), item.Key()...)
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			keys = append(keys, k)
			vals = append(vals, v)
		}
		for i, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
			if err := putPending(txn, vals[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func putPending(txn *badger.Txn, encoded []byte) error {
	seq, err := nextSeq(txn)
	if err != nil {
		return err
	}
	return txn.Set(pendingKey(seq), encoded)
}

// nextSeq derives a monotonically increasing sequence number from the
// highest existing pending key, so FIFO order survives reopening the db.
func nextSeq(txn *badger.Txn) (uint64, error) {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	it := txn.NewIterator(opts)
	defer it.Close()

	prefix := []byte(pendingPrefix)
	seekKey := append(append([]byte{}, prefix...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	it.Seek(seekKey)
	if it.ValidForPrefix(prefix) {
		key := it.Item().Key()
		last := binary.BigEndian.Uint64(key[len(prefix):])
		return last + 1, nil
	}
	return 1, nil
}

func pendingKey(seq uint64) []byte {
	key := make([]byte, len(pendingPrefix)+8)
	copy(key, pendingPrefix)
	binary.BigEndian.PutUint64(key[len(pendingPrefix):], seq)
	return key
}

func inflightKey(id string) []byte {
	return []byte(inflightPrefix + id)
}

// Put appends item to the tail of the queue, assigning it an ID if absent.
func (f *FIFO) Put(item Item) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	encoded, err := json.Marshal(item)
	if err != nil {
		return err
	}
	err = f.db.Update(func(txn *badger.Txn) error {
		return putPending(txn, encoded)
	})
	if f.metrics != nil {
		f.metrics.IncEnqueued(f.name, string(item.Source))
	}
	return err
}

// Get blocks until an item is available or timeout elapses, polling at a
// fixed interval so the caller can also observe ctx cancellation (spec.md
// section 5: "block on queue dequeue with a short poll timeout"). Returns
// nil, nil on timeout with no item.
func (f *FIFO) Get(ctx context.Context, timeout time.Duration) (*Item, error) {
	deadline := time.Now().Add(timeout)
	for {
		item, err := f.tryGet()
		if err != nil {
			return nil, err
		}
		if item != nil {
			return item, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (f *FIFO) tryGet() (*Item, error) {
	var result *Item
	err := f.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(pendingPrefix)
		it.Seek(prefix)
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		key := append([]byte(nil), it.Item().Key()...)
		val, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}

		var item Item
		if err := json.Unmarshal(val, &item); err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		if err := txn.Set(inflightKey(item.ID), val); err != nil {
			return err
		}
		result = &item
		return nil
	})
	return result, err
}

// Ack marks an item fully processed, removing it from the queue durably.
func (f *FIFO) Ack(id string) error {
	return f.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(inflightKey(id))
	})
}

// Len reports the number of items waiting to be dequeued (not counting
// in-flight items reserved by a prior Get).
func (f *FIFO) Len() (int, error) {
	n := 0
	err := f.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(pendingPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (f *FIFO) Close() error { return f.db.Close() }

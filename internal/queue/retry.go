package queue

import (
	"encoding/json"
	"time"

	"github.com/dgraph-io/badger/v3"
)

// backoffSchedule is the fixed escalation table spec.md section 4.C calls
// for: 30s, 2m, 5m, 15m, 30m. Attempt 1 maps to index 0; attempts beyond the
// table length fall off the end and are dead-lettered.
var backoffSchedule = []time.Duration{
	30 * time.Second,
	2 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
}

// Backoff returns the delay before a retry item at the given attempt number
// may run again, and whether the attempt is still within the ceiling.
func Backoff(attempt int) (time.Duration, bool) {
	if attempt < 1 || attempt > len(backoffSchedule) {
		return 0, false
	}
	return backoffSchedule[attempt-1], true
}

// DrainReady removes and returns every item in the queue whose ReadyAt has
// elapsed, leaving items not yet due in place (spec.md section 4.C retry
// worker: "items not yet due are re-deposited").
func (f *FIFO) DrainReady(now time.Time) ([]Item, error) {
	var ready []Item
	err := f.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(pendingPrefix)
		var toDelete [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var item Item
			if err := json.Unmarshal(val, &item); err != nil {
				return err
			}
			if item.ReadyAt.After(now) {
				continue
			}
			ready = append(ready, item)
			toDelete = append(toDelete, append([]byte(nil), it.Item().Key()...))
		}
		for _, k := range toDelete {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return ready, err
}

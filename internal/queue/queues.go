package queue

import (
	"fmt"
	"path/filepath"

	"github.com/cybercinch/directdnsonly/internal/metrics"
)

// Queues bundles the three durable FIFOs the dispatch pipeline needs, one
// filesystem directory each under queue_root (spec.md section 6: "Durable
// queue directories: <queue_root>/save, <queue_root>/delete,
// <queue_root>/retry").
type Queues struct {
	Save   *FIFO
	Delete *FIFO
	Retry  *FIFO
}

func Open(root string, m *metrics.Metrics) (*Queues, error) {
	save, err := OpenFIFO("save", filepath.Join(root, "save"), m)
	if err != nil {
		return nil, err
	}
	del, err := OpenFIFO("delete", filepath.Join(root, "delete"), m)
	if err != nil {
		save.Close()
		return nil, err
	}
	retry, err := OpenFIFO("retry", filepath.Join(root, "retry"), m)
	if err != nil {
		save.Close()
		del.Close()
		return nil, err
	}
	return &Queues{Save: save, Delete: del, Retry: retry}, nil
}

// Depths returns the current pending depth of each queue, used by /status
// and /queue_status.
func (q *Queues) Depths() (save, del, retry int, err error) {
	save, err = q.Save.Len()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("save queue depth: %w", err)
	}
	del, err = q.Delete.Len()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("delete queue depth: %w", err)
	}
	retry, err = q.Retry.Len()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("retry queue depth: %w", err)
	}
	return save, del, retry, nil
}

func (q *Queues) Close() error {
	var firstErr error
	for _, f := range []*FIFO{q.Save, q.Delete, q.Retry} {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

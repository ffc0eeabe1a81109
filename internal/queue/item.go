package queue

import "time"

// Kind distinguishes what a QueueItem asks a worker to do.
type Kind string

const (
	KindSave      Kind = "save"
	KindDelete    Kind = "delete"
	KindRetrySave Kind = "retry-save"
)

// Source tags where an item originated, carried through to retries so a
// drained retry item still reports its true origin.
type Source string

const (
	SourceIngress          Source = "ingress"
	SourceRetry            Source = "retry"
	SourceReconcilerHeal   Source = "reconciler_heal"
	SourceReconcilerOrphan Source = "reconciler_orphan"
)

// Item is the unit of work carried by the save, delete and retry queues
// (spec.md section 3).
type Item struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	Domain         string    `json:"domain"`
	Payload        string    `json:"payload,omitempty"`
	OwnerHost      string    `json:"owner_host,omitempty"`
	OwnerUser      string    `json:"owner_user,omitempty"`
	TargetBackends []string  `json:"target_backends,omitempty"`
	Attempt        int       `json:"attempt"`
	ReadyAt        time.Time `json:"ready_at"`
	Source         Source    `json:"source"`
}

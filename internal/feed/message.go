package feed

import (
	"time"

	"github.com/tonimelisma/clipcloud/internal/queue"
)

// KindSnapshot is the first message on every websocket connection.
const KindSnapshot = "snapshot"

// Message is the JSON frame sent to websocket clients. Snapshot messages
// carry Jobs; every other kind mirrors a queue.EventKind and carries Job.
type Message struct {
	Kind string      `json:"kind"`
	Job  *queue.Job  `json:"job,omitempty"`
	Jobs []queue.Job `json:"jobs,omitempty"`
	At   time.Time   `json:"at"`
}

func eventMessage(ev queue.Event) Message {
	job := ev.Job

	return Message{Kind: string(ev.Kind), Job: &job, At: ev.At}
}

func snapshotMessage(jobs []queue.Job, now time.Time) Message {
	if jobs == nil {
		jobs = []queue.Job{}
	}

	return Message{Kind: KindSnapshot, Jobs: jobs, At: now}
}

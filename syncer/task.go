package syncer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/NethermindEth/chaoschain-persona/contentstore"
)

// TaskState is the lifecycle of an UploadTask:
// Pending -> Active -> {Succeeded | SkippedPrecondition | Failed}.
// Purged tasks were removed by a privacy wipe.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskActive
	TaskSucceeded
	TaskSkippedPrecondition
	TaskFailed
	TaskPurged
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskActive:
		return "active"
	case TaskSucceeded:
		return "succeeded"
	case TaskSkippedPrecondition:
		return "skipped_precondition"
	case TaskFailed:
		return "failed"
	case TaskPurged:
		return "purged"
	}
	return "unknown"
}

// Terminal reports whether no further transition can happen.
func (s TaskState) Terminal() bool {
	return s >= TaskSucceeded
}

// PayloadFunc produces the bytes to upload. It runs once per attempt, on
// the worker, so encryption happens off the caller's goroutine.
type PayloadFunc func(ctx context.Context) ([]byte, error)

// UploadTask is one unit of work for the pool.
type UploadTask struct {
	ID        string
	Owner     string
	Tags      contentstore.Tags
	Payload   PayloadFunc
	CreatedAt time.Time
}

var taskNamespace = uuid.MustParse("5b0c8f0e-6a55-4f0e-9d0e-3c7a3f6f9a11")

// TaskID derives a stable id from the owner and the snapshot it uploads, so
// re-enqueueing the same snapshot is a no-op.
func TaskID(owner string, snapshot []byte) string {
	return uuid.NewSHA1(taskNamespace, append([]byte(owner+"\x00"), snapshot...)).String()
}

// Event reports a task transition.
type Event struct {
	TaskID    string    `json:"taskId"`
	Owner     string    `json:"owner"`
	State     string    `json:"state"`
	Attempt   int       `json:"attempt"`
	ContentID string    `json:"contentId,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// RestoreEvent reports the end of a restore run.
type RestoreEvent struct {
	Owner     string    `json:"owner"`
	Outcome   string    `json:"outcome"`
	ContentID string    `json:"contentId,omitempty"`
	Examined  int       `json:"examined"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

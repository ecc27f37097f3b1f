package queue

import "errors"

var (
	// ErrQueueClosed is returned on any operation against a closed queue.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrEntryNotFound is returned when a dead letter entry id is unknown.
	ErrEntryNotFound = errors.New("dead letter entry not found")
)

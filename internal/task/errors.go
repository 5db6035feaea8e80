package task

import "errors"

var (
	// ErrDuplicate means the URL is already owned by a queued or running job.
	ErrDuplicate = errors.New("download already in progress for this url")
	// ErrQueueFull means the bounded queue did not free a slot within the
	// submit wait.
	ErrQueueFull = errors.New("download queue is full")
	// ErrInvalidInput covers bad URLs, folders and enum values, rejected
	// before enqueue.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNothingInProgress is returned by Cancel when there is nothing
	// queued or running.
	ErrNothingInProgress = errors.New("no download in progress")
)

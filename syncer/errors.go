package syncer

import "errors"

var (
	// ErrPartitionNotFound indicates the partition id is unknown.
	ErrPartitionNotFound = errors.New("partition not found")
	// ErrPartitionInactive indicates recovery was attempted on an already
	// recovered partition.
	ErrPartitionInactive = errors.New("partition already recovered")
	// ErrUnknownMode indicates an unsupported synchronization mode.
	ErrUnknownMode = errors.New("unknown synchronization mode")
)

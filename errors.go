package main

import "github.com/pkg/errors"

var (
	// ErrInvalidConfig indicates a flag value or flag combination that cannot
	// describe a run.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnsupportedDataset indicates a dataset name with no loader.
	ErrUnsupportedDataset = errors.New("unsupported dataset")

	// ErrLabelDim indicates a label embedding narrower than the class count.
	ErrLabelDim = errors.New("label_dim must be at least the number of classes")

	// ErrMalformedCheckpoint indicates a checkpoint that cannot be resumed
	// into the current model and optimizer.
	ErrMalformedCheckpoint = errors.New("malformed checkpoint")
)

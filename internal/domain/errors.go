package domain

import "errors"

var (
	// ErrStagingPartitionMissing is returned when a staging partition does not
	// exist for an entity kind
	ErrStagingPartitionMissing = errors.New("staging partition missing")

	// ErrNoData is returned when a pipeline stage receives an empty dataset
	ErrNoData = errors.New("no data to process")

	// ErrValidationFailed is returned when the pre-load validation gate fails
	ErrValidationFailed = errors.New("validation failed")

	// ErrExtractionFailed is returned when extraction for an entity kind
	// exhausted its retries
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrMissingConfig is returned at startup when required configuration is
	// absent
	ErrMissingConfig = errors.New("missing required configuration")
)

package catalog

import "errors"

var (
	// ErrMalformedArchive indicates the upload is not a readable zip container.
	ErrMalformedArchive = errors.New("malformed_archive")
	// ErrEmptyArchive indicates a well-formed archive with zero entries.
	ErrEmptyArchive = errors.New("empty_archive")
	// ErrArchiveTooLarge indicates the upload exceeded the configured size limit.
	ErrArchiveTooLarge = errors.New("archive_too_large")
	// ErrInvalidRating indicates a rating outside [MinRating, MaxRating] or not a finite number.
	ErrInvalidRating = errors.New("invalid_rating")
	// ErrNotFound indicates no record exists for the requested id.
	ErrNotFound = errors.New("not_found")
	// ErrAlreadyExists indicates a create collided with an existing id.
	ErrAlreadyExists = errors.New("already_exists")
	// ErrConflict indicates a compare-and-swap lost against a concurrent writer.
	// It never leaves this package's update loop.
	ErrConflict = errors.New("version_conflict")
	// ErrStoreUnavailable indicates a backend failure or exhausted update contention.
	ErrStoreUnavailable = errors.New("store_unavailable")
)

var kinds = []error{
	ErrMalformedArchive,
	ErrEmptyArchive,
	ErrArchiveTooLarge,
	ErrInvalidRating,
	ErrNotFound,
	ErrAlreadyExists,
	ErrConflict,
	ErrStoreUnavailable,
}

// Kind returns the stable error kind carried by err, or "internal".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return "internal"
}

// IsInputError reports whether err was caused by caller input rather than the backend.
func IsInputError(err error) bool {
	return errors.Is(err, ErrMalformedArchive) ||
		errors.Is(err, ErrEmptyArchive) ||
		errors.Is(err, ErrArchiveTooLarge) ||
		errors.Is(err, ErrInvalidRating)
}

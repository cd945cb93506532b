package directory

import "errors"

var (
	// ErrStoreCorrupt indicates that the directory file exists but is not a JSON
	// object of string arrays.
	ErrStoreCorrupt = errors.New("directory: store corrupt")
	// ErrStoreReadFailed indicates an I/O failure while reading the directory file.
	ErrStoreReadFailed = errors.New("directory: store read failed")
	// ErrStoreWriteFailed indicates that a save did not complete. The previous
	// file content is left in place.
	ErrStoreWriteFailed = errors.New("directory: store write failed")
)

// ErrorKind classifies a store error for metrics labels.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStoreCorrupt):
		return "corrupt"
	case errors.Is(err, ErrStoreReadFailed):
		return "read"
	case errors.Is(err, ErrStoreWriteFailed):
		return "write"
	default:
		return "other"
	}
}

package workspace

import (
	"errors"
	"fmt"
	"io/fs"
)

const (
	ErrorInvalidPath      = "invalid_path"
	ErrorOutsideRoot      = "outside_root"
	ErrorPathNotFound     = "path_not_found"
	ErrorNotDirectory     = "not_directory"
	ErrorPermissionDenied = "permission_denied"
	ErrorIO               = "io_error"
)

// Error is a categorized project layout failure.
type Error struct {
	Category string
	Path     string
	Detail   string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	msg := e.Category
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}

	return msg
}

// CategoryFromError returns the stable category for an error when available.
func CategoryFromError(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}

	if errors.Is(err, fs.ErrNotExist) {
		return ErrorPathNotFound
	}
	if errors.Is(err, fs.ErrPermission) {
		return ErrorPermissionDenied
	}

	return ErrorIO
}

func newError(category string, path string, detail string) error {
	return &Error{Category: category, Path: path, Detail: detail}
}

// normalizeIOError turns an os error into a categorized one for path.
func normalizeIOError(err error, path string) error {
	if err == nil {
		return nil
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return newError(CategoryFromError(err), path, pathErr.Err.Error())
	}

	return newError(CategoryFromError(err), path, err.Error())
}

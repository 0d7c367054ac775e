package filestore

import "errors"

var (
	ErrNotFound             = errors.New("file not found")
	ErrValidation           = errors.New("validation failed")
	ErrTooLarge             = errors.New("file exceeds maximum size")
	ErrUnsupportedMediaType = errors.New("file extension not allowed")
)

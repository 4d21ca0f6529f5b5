// Package errors provides typed errors for container operations.
// This enables callers to use errors.Is() and errors.As() for specific error handling.
package errors

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// Sentinel errors for common error conditions.
var (
	// Operation errors
	ErrCancelled       = errors.New("operation cancelled")
	ErrIncompletePacks = errors.New("one or more packs were not completed")

	// Crypto errors
	ErrKeyDerivation = errors.New("key derivation failed")
	ErrCipher        = errors.New("wrong password or corrupted ciphertext")
	ErrDirection     = errors.New("cipher used in the wrong direction")

	// Format errors
	ErrNotContainer = errors.New("not a container")
	ErrArchive      = errors.New("archive error")

	// File errors
	ErrFileNotFound = errors.New("file not found")
	ErrFileExists   = errors.New("file already exists")
)

// CryptographyError is raised by stream-mode encryption and decryption on
// any internal failure, after the caller's error callback has run.
type CryptographyError struct {
	Op   string // "encrypt" or "decrypt"
	Path string // Input path, empty for reader/writer streams
	Err  error  // Underlying error
}

func (e *CryptographyError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("cryptography %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("cryptography %s: %v", e.Op, e.Err)
}

func (e *CryptographyError) Unwrap() error {
	return e.Err
}

// NewCryptographyError creates a new CryptographyError.
func NewCryptographyError(op, path string, err error) *CryptographyError {
	return &CryptographyError{Op: op, Path: path, Err: err}
}

// FileError represents an error during file operations.
type FileError struct {
	Op   string // Operation: "open", "read", "write", "stat", "create", "rename"
	Path string
	Err  error
}

func (e *FileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s failed", e.Op, e.Path)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// NewFileError creates a new FileError.
func NewFileError(op, path string, err error) *FileError {
	return &FileError{Op: op, Path: path, Err: err}
}

// ValidationError represents an input validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// TrailerError describes why a file failed the container test. It is only
// produced by diagnostic code paths; Load reports absence instead.
type TrailerError struct {
	Field string // "signature", "length", "metadata", "thumbnail"
	Err   error
}

func (e *TrailerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("trailer %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("trailer %s invalid", e.Field)
}

func (e *TrailerError) Unwrap() error {
	return e.Err
}

// NewTrailerError creates a TrailerError that also matches ErrNotContainer.
func NewTrailerError(field string, err error) *TrailerError {
	if err == nil {
		err = ErrNotContainer
	} else if !errors.Is(err, ErrNotContainer) {
		err = fmt.Errorf("%w: %w", ErrNotContainer, err)
	}
	return &TrailerError{Field: field, Err: err}
}

// PackError records the failure of a single pack in a chunked run.
type PackError struct {
	Index int
	Err   error
}

func (e *PackError) Error() string {
	return fmt.Sprintf("pack %d: %v", e.Index, e.Err)
}

func (e *PackError) Unwrap() error {
	return e.Err
}

// IncompletePacksError lists the packs that were missing after the worker pool joined.
type IncompletePacksError struct {
	Missing []int
	Causes  []error
}

func (e *IncompletePacksError) Error() string {
	parts := make([]string, 0, len(e.Missing))
	for _, idx := range e.Missing {
		parts = append(parts, fmt.Sprint(idx))
	}
	msg := fmt.Sprintf("%v: missing [%s]", ErrIncompletePacks, strings.Join(parts, " "))
	if len(e.Causes) > 0 {
		msg += fmt.Sprintf(" (first cause: %v)", e.Causes[0])
	}
	return msg
}

// Unwrap exposes ErrIncompletePacks and every pack cause so that
// errors.Is(err, ErrCipher) holds when a pack failed on bad padding.
func (e *IncompletePacksError) Unwrap() []error {
	return append([]error{ErrIncompletePacks}, e.Causes...)
}

// Is checks if target matches any of our sentinel errors.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New is errors.New, re-exported so callers need only this package.
func New(text string) error {
	return errors.New(text)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsCancelled checks if the error indicates a cancelled operation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsWrongPassword reports whether err is a decrypt-time padding failure.
// The container format has no MAC, so this also covers corrupted ciphertext.
func IsWrongPassword(err error) bool {
	return errors.Is(err, ErrCipher)
}

// IsNotFound reports whether err means the input file or folder is missing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFileNotFound) || errors.Is(err, fs.ErrNotExist)
}

// User-facing messages.
const (
	MsgPasswordIncorrect = "password incorrect"
	MsgNotFound          = "file or folder does not exist"
	MsgNotContainer      = "file is not a locked container"
	MsgFailed            = "operation failed"
)

// UserMessage maps an operation error to the message shown to the user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case IsWrongPassword(err):
		return MsgPasswordIncorrect
	case IsNotFound(err):
		return MsgNotFound
	case errors.Is(err, ErrNotContainer):
		return MsgNotContainer
	default:
		return MsgFailed
	}
}

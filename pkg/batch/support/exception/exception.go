// Package exception provides custom error types and error handling utilities for the Riptide batch engine.
// Every error raised inside the engine carries an explicit classification tag. Fault handling
// policies map those tags to actions, so nothing in the engine dispatches on concrete error types.
package exception

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// Well-known classification tags. Components may introduce their own tags;
// a fault policy only acts on the tags it was configured with.
const (
	// ClassTransient tags failures that may succeed on a later attempt
	// (network hiccups, lock timeouts, throttled APIs).
	ClassTransient = "transient"
	// ClassMalformed tags failures caused by a bad input item
	// (parse errors, constraint violations tied to one record).
	ClassMalformed = "malformed"
	// ClassValidation tags job parameter validation failures.
	ClassValidation = "validation"
	// ClassConcurrency tags conflicting concurrent launches of the same job instance.
	ClassConcurrency = "concurrency"
	// ClassTransaction tags transaction demarcation failures (begin, commit, rollback).
	// Fault policies must never retry or skip these.
	ClassTransaction = "transaction"
	// ClassConfig tags configuration loading and binding failures.
	ClassConfig = "config"
)

// classRegistry maps registered sentinel errors to classification tags.
// It lets third-party errors (driver errors, io errors) participate in
// classification without being wrapped at every call site.
var classRegistry []registeredClass

type registeredClass struct {
	sentinel error
	class    string
}

// registryMutex protects access to classRegistry.
var registryMutex sync.RWMutex

// RegisterClass associates a sentinel error with a classification tag.
// Errors matching the sentinel via errors.Is are classified with the given tag
// when they carry no BatchError classification of their own.
// Panics if sentinel is nil or class is empty.
func RegisterClass(class string, sentinel error) {
	if class == "" {
		panic("error class cannot be empty")
	}
	if sentinel == nil {
		panic(fmt.Sprintf("cannot register nil sentinel for class: %s", class))
	}
	registryMutex.Lock()
	defer registryMutex.Unlock()
	classRegistry = append(classRegistry, registeredClass{sentinel: sentinel, class: class})
}

// BatchError is the error type raised by engine components.
// It holds the module where the error occurred, a message, the wrapped
// original error, and the classification tag fault policies act on.
type BatchError struct {
	// Module indicates the module where the error occurred (e.g. "reader", "writer", "repository").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// Class is the classification tag. Empty means unclassified;
	// fault policies abort on unclassified errors.
	Class string
	// StackTrace is the stack trace captured at construction (for debugging).
	StackTrace string
}

// NewBatchError creates a new BatchError with the given classification tag.
func NewBatchError(module, message string, originalErr error, class string) *BatchError {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)

	return &BatchError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		Class:       class,
		StackTrace:  string(buf[:n]),
	}
}

// NewBatchErrorf creates an unclassified BatchError using a format string.
// If the last argument is an error it becomes the wrapped original error.
func NewBatchErrorf(module, format string, a ...interface{}) *BatchError {
	var originalErr error
	args := a
	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			originalErr = err
			args = args[:len(args)-1]
		}
	}
	return NewBatchError(module, fmt.Sprintf(format, args...), originalErr, "")
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// ClassOf resolves the classification tag of an error.
// Unclassified wrappers are transparent: the chain is walked outermost first
// and the first BatchError with a non-empty Class determines the tag, so a
// classification survives any number of unclassified wraps around it.
// If no BatchError in the chain carries a tag, registered sentinels are
// consulted via errors.Is. Returns "" for unclassified errors.
func ClassOf(err error) string {
	for e := err; e != nil; e = errors.Unwrap(e) {
		var be *BatchError
		if errors.As(e, &be) && be.Class != "" {
			return be.Class
		}
	}

	registryMutex.RLock()
	defer registryMutex.RUnlock()
	for _, rc := range classRegistry {
		if errors.Is(err, rc.sentinel) {
			return rc.class
		}
	}
	return ""
}

// IsBatchError determines if the given error is of type BatchError.
func IsBatchError(err error) bool {
	var be *BatchError
	return errors.As(err, &be)
}

// ExtractErrorMessage extracts the error message string from an error.
// For BatchError, it returns the cleaner Message field.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var be *BatchError
	if errors.As(err, &be) {
		return be.Message
	}
	return err.Error()
}

// Sentinel errors raised by the engine itself.
var (
	// ErrJobAlreadyRunning indicates a launch was attempted while another
	// execution of the same job instance was still active.
	ErrJobAlreadyRunning = errors.New("job instance already has an active execution")
	// ErrRestartNotAllowed indicates a restart was attempted on an
	// instance whose latest execution already completed.
	ErrRestartNotAllowed = errors.New("job instance already completed; restart not allowed")
)

func init() {
	RegisterClass(ClassConcurrency, ErrJobAlreadyRunning)

	// Common third-party and stdlib errors with an obvious classification.
	RegisterClass(ClassTransient, context.DeadlineExceeded)
	RegisterClass(ClassMalformed, sql.ErrNoRows)
}

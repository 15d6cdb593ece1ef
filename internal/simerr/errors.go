// Package simerr classifies the failures the server orchestration layer can
// hit. The same kind is fatal during startup and recoverable during a reload,
// so the fatality travels with the error value instead of the kind.
package simerr

import (
	"errors"
	"fmt"
)

// Kind identifies the failure class.
type Kind string

const (
	KindArgument Kind = "argument"
	KindIO       Kind = "io"
	KindParse    Kind = "parse"
	KindLoad     Kind = "load"
	KindCommand  Kind = "command"
)

// Sentinels for errors.Is matching against a Kind.
var (
	ErrArgument = &kindError{kind: KindArgument}
	ErrIO       = &kindError{kind: KindIO}
	ErrParse    = &kindError{kind: KindParse}
	ErrLoad     = &kindError{kind: KindLoad}
	ErrCommand  = &kindError{kind: KindCommand}
)

type kindError struct {
	kind Kind
}

func (e *kindError) Error() string {
	return string(e.kind) + " error"
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + " error"
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" [%s]", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels so callers can write errors.Is(err, simerr.ErrParse).
func (e *Error) Is(target error) bool {
	if k, ok := target.(*kindError); ok {
		return k.kind == e.Kind
	}
	return false
}

// New builds a classified error.
func New(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Argument reports malformed startup configuration.
func Argument(op string, err error) *Error {
	return New(KindArgument, op, "", err)
}

// IO reports an unreadable world source.
func IO(op, path string, err error) *Error {
	return New(KindIO, op, path, err)
}

// Parse reports a malformed world description.
func Parse(op, path string, err error) *Error {
	return New(KindParse, op, path, err)
}

// Load reports a rejection by the physics or sensor subsystem.
func Load(op string, err error) *Error {
	return New(KindLoad, op, "", err)
}

// Command reports a well-formed control command that cannot be satisfied.
func Command(op string, err error) *Error {
	return New(KindCommand, op, "", err)
}

// KindOf returns the kind of the first classified error in the chain.
func KindOf(err error) (Kind, bool) {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind, true
	}
	return "", false
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string {
	return e.err.Error()
}

func (e *fatalError) Unwrap() error {
	return e.err
}

// Fatal marks err as aborting the process. Nil stays nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	if IsFatal(err) {
		return err
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err was marked by Fatal.
func IsFatal(err error) bool {
	var fatal *fatalError
	return errors.As(err, &fatal)
}

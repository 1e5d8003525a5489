/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package apierrors classifies errors into the kinds of spec §7 so callers
// can branch on Kind instead of string-matching, and so that raw
// exception strings from LLM/embedding providers never leak to a caller
// (spec §7 principle d).
package apierrors

import (
	stderrors "errors"

	"github.com/go-faster/errors"
)

// Kind is one of the six error kinds from spec §7.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindForbidden         Kind = "forbidden"
	KindConflict          Kind = "conflict"
	KindDependencyFailure Kind = "dependency_failure"
	KindInternal          Kind = "internal"
)

type classified struct {
	kind Kind
	err  error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// New wraps err with a Kind classification, preserving the message and
// chain for errors.Is/As.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &classified{kind: kind, err: err}
}

// Wrapf classifies a newly formatted error.
func Wrapf(kind Kind, err error, format string, args ...any) error {
	return New(kind, errors.Wrapf(err, format, args...))
}

// KindOf extracts the Kind of err, defaulting to KindInternal when err was
// never classified (fail safe: an unclassified error is treated as the
// most conservative, least-leaky kind).
func KindOf(err error) Kind {
	var c *classified
	if stderrors.As(err, &c) {
		return c.kind
	}
	return KindInternal
}

func Is(kind Kind, err error) bool {
	return KindOf(err) == kind
}

var (
	ErrNotFound          = stderrors.New("not found")
	ErrConflict          = stderrors.New("conflict")
	ErrValidation        = stderrors.New("validation failed")
	ErrDependencyFailure = stderrors.New("dependency failure")
)

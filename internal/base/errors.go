// Package base holds error and type definitions shared across the reftable
// read path, mirroring the role of pebble's internal/base package: small,
// dependency-light types that both the block and table layers need.
package base

import (
	"github.com/cockroachdb/errors"
)

// Kind classifies a reftable error the way spec section 7 requires:
// io, format, api-misuse, not-exist, zlib. Callers recover the kind with
// GetKind rather than matching on error strings.
type Kind int

const (
	// KindOther is the zero value; errors without a more specific kind
	// (e.g. errors.Wrap of an arbitrary third-party error) report this.
	KindOther Kind = iota
	KindIO
	KindFormat
	KindAPIMisuse
	KindNotExist
	KindZlib
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindFormat:
		return "format"
	case KindAPIMisuse:
		return "api-misuse"
	case KindNotExist:
		return "not-exist"
	case KindZlib:
		return "zlib"
	default:
		return "other"
	}
}

// kindError wraps an error with a Kind. It implements error and supports
// errors.Unwrap so cockroachdb/errors' matching (errors.Is, errors.As)
// continues to work through it.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// GetKind extracts the Kind attached to err via one of the constructors
// below, or KindOther if none is attached.
func GetKind(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindOther
}

// IOErrorf reports an error kind spec section 7 calls "io": the block
// source failed to deliver bytes.
func IOErrorf(format string, args ...interface{}) error {
	return &kindError{kind: KindIO, err: errors.Newf(format, args...)}
}

// CorruptionErrorf reports an error kind spec section 7 calls "format":
// malformed magic, unknown version, bad varint, CRC mismatch, illegal
// block-type chain. Named CorruptionErrorf to match table.go's own
// base.CorruptionErrorf convention.
func CorruptionErrorf(format string, args ...interface{}) error {
	return &kindError{kind: KindFormat, err: errors.Newf(format, args...)}
}

// APIMisuseErrorf reports an error kind spec section 7 calls "api-misuse":
// requesting a record kind from a sub-stream declared as a different kind.
func APIMisuseErrorf(format string, args ...interface{}) error {
	return &kindError{kind: KindAPIMisuse, err: errors.Newf(format, args...)}
}

// NotExistErrorf reports an error kind spec section 7 calls "not-exist":
// a requested block type or ref is absent.
func NotExistErrorf(format string, args ...interface{}) error {
	return &kindError{kind: KindNotExist, err: errors.Newf(format, args...)}
}

// ZlibErrorf reports an error kind spec section 7 calls "zlib": the log
// block's inflate codec failed.
func ZlibErrorf(format string, args ...interface{}) error {
	return &kindError{kind: KindZlib, err: errors.Newf(format, args...)}
}

// Wrap attaches kind to an existing error, preserving it under Unwrap so
// cockroachdb/errors' redaction and cause-chain machinery still works.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: errors.Wrap(err, msg)}
}

// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

// Package errs2 renders component errors into the closed HTTP error-kind
// set described by the storage service's error handling design. Each
// internal package tags its errors with its own errs.Class; this package
// walks those classes at the HTTP boundary instead of using sentinel
// comparisons everywhere.
package errs2

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
)

// Kind is one of the closed set of error kinds the service can render.
type Kind string

// The closed set of error kinds, see spec §7.
const (
	KindNoSuchBucket            Kind = "NoSuchBucket"
	KindNoSuchKey                Kind = "NoSuchKey"
	KindNoSuchUpload             Kind = "NoSuchUpload"
	KindBucketAlreadyExists      Kind = "BucketAlreadyExists"
	KindKeyAlreadyExists         Kind = "KeyAlreadyExists"
	KindResourceAlreadyExists    Kind = "ResourceAlreadyExists"
	KindInvalidBucketName        Kind = "InvalidBucketName"
	KindInvalidKey               Kind = "InvalidKey"
	KindInvalidMimeType          Kind = "InvalidMimeType"
	KindInvalidRange             Kind = "InvalidRange"
	KindInvalidParameter         Kind = "InvalidParameter"
	KindMissingParameter         Kind = "MissingParameter"
	KindMissingContentLength     Kind = "MissingContentLength"
	KindInvalidJWT               Kind = "InvalidJWT"
	KindInvalidSignature         Kind = "InvalidSignature"
	KindExpiredToken             Kind = "ExpiredToken"
	KindSignatureDoesNotMatch    Kind = "SignatureDoesNotMatch"
	KindAccessDenied             Kind = "AccessDenied"
	KindTenantNotFound           Kind = "TenantNotFound"
	KindEntityTooLarge           Kind = "EntityTooLarge"
	KindResourceLocked           Kind = "ResourceLocked"
	KindLockTimeout              Kind = "LockTimeout"
	KindDatabaseTimeout          Kind = "DatabaseTimeout"
	KindDatabaseError            Kind = "DatabaseError"
	KindInternalError            Kind = "InternalError"
	KindS3Error                  Kind = "S3Error"
	KindSlowDown                 Kind = "SlowDown"
	KindInvalidChecksum          Kind = "InvalidChecksum"
	KindMissingPart              Kind = "MissingPart"
	KindInvalidUploadID          Kind = "InvalidUploadId"
	KindInvalidUploadSignature   Kind = "InvalidUploadSignature"
	KindAborted                  Kind = "Aborted"
	KindAbortedTerminate         Kind = "AbortedTerminate"
)

var statusByKind = map[Kind]int{
	KindNoSuchBucket:           http.StatusNotFound,
	KindNoSuchKey:              http.StatusNotFound,
	KindNoSuchUpload:           http.StatusNotFound,
	KindBucketAlreadyExists:    http.StatusConflict,
	KindKeyAlreadyExists:       http.StatusConflict,
	KindResourceAlreadyExists:  http.StatusConflict,
	KindInvalidBucketName:      http.StatusBadRequest,
	KindInvalidKey:             http.StatusBadRequest,
	KindInvalidMimeType:        http.StatusBadRequest,
	KindInvalidRange:           http.StatusBadRequest,
	KindInvalidParameter:       http.StatusBadRequest,
	KindMissingParameter:       http.StatusBadRequest,
	KindMissingContentLength:   http.StatusBadRequest,
	KindInvalidJWT:             http.StatusBadRequest,
	KindInvalidSignature:       http.StatusForbidden,
	KindExpiredToken:           http.StatusForbidden,
	KindSignatureDoesNotMatch:  http.StatusForbidden,
	KindAccessDenied:           http.StatusForbidden,
	KindTenantNotFound:         http.StatusBadRequest,
	KindEntityTooLarge:         http.StatusRequestEntityTooLarge,
	KindResourceLocked:         http.StatusLocked,
	KindLockTimeout:            503,
	KindDatabaseTimeout:        544,
	KindDatabaseError:          http.StatusInternalServerError,
	KindInternalError:          http.StatusInternalServerError,
	KindS3Error:                http.StatusInternalServerError,
	KindSlowDown:               http.StatusTooManyRequests,
	KindInvalidChecksum:        http.StatusBadRequest,
	KindMissingPart:            http.StatusBadRequest,
	KindInvalidUploadID:        http.StatusBadRequest,
	KindInvalidUploadSignature: http.StatusBadRequest,
	KindAborted:                499,
	KindAbortedTerminate:       http.StatusInternalServerError,
}

// Renderable is a storage error carrying a closed Kind, ready for HTTP
// rendering.
type Renderable struct {
	Kind     Kind
	Message  string
	Resource string
	Cause    error
}

func (e *Renderable) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Renderable) Unwrap() error { return e.Cause }

// New constructs a Renderable error of the given kind.
func New(kind Kind, resource, message string) error {
	return &Renderable{Kind: kind, Message: message, Resource: resource}
}

// Wrap attaches a Kind to an existing error, preserving it as the cause.
func Wrap(kind Kind, resource string, cause error) error {
	return &Renderable{Kind: kind, Message: kind2Message(kind), Resource: resource, Cause: cause}
}

func kind2Message(k Kind) string {
	return string(k)
}

// Classify walks err (and its wrapped chain) looking for a *Renderable,
// falling back to InternalError for anything a component didn't explicitly
// tag. Context cancellation is mapped to Aborted, matching the cancellation
// semantics in spec §5.
func Classify(err error) *Renderable {
	var r *Renderable
	if errors.As(err, &r) {
		return r
	}
	if errors.Is(err, context.Canceled) {
		return &Renderable{Kind: KindAborted, Message: "request aborted"}
	}
	return &Renderable{Kind: KindInternalError, Message: "internal error", Cause: err}
}

// httpStatus returns the HTTP status code for a Kind, defaulting to 500.
func httpStatus(k Kind) int {
	if s, ok := statusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

type wireError struct {
	StatusCode int    `json:"statusCode"`
	Code       Kind   `json:"code"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// WriteJSON renders err to w following the {statusCode, code, error, message}
// wire shape described in spec §7.
func WriteJSON(w http.ResponseWriter, err error) {
	r := Classify(err)
	status := httpStatus(r.Kind)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(wireError{
		StatusCode: status,
		Code:       r.Kind,
		Error:      string(r.Kind),
		Message:    r.Message,
	})
}

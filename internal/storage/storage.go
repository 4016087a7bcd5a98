// Package storage provides object storage abstractions for step records and
// domain documents.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound     = errors.New("object not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrUploadFailed       = errors.New("upload failed")
	ErrDownloadFailed     = errors.New("download failed")
	ErrDeleteFailed       = errors.New("delete failed")
	ErrListFailed         = errors.New("list failed")
	ErrInvalidKey         = errors.New("invalid object key")
)

// Object is a fetched object body with its metadata.
type Object struct {
	Data        []byte
	ContentType string
	ETag        string
}

// ObjectStorage abstracts cloud object storage operations.
// Implementations include S3 and the local filesystem for tests and development.
type ObjectStorage interface {
	// Put writes data to objectPath, replacing any existing object.
	Put(ctx context.Context, objectPath string, data []byte, contentType string) error

	// Get reads an object. Returns ErrObjectNotFound if it does not exist.
	Get(ctx context.Context, objectPath string) (*Object, error)

	// Delete removes an object from storage. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ConditionalPut writes only if the precondition is met.
	// etag is the expected ETag of the existing object; an empty etag means
	// the object must not exist yet. Returns ErrPreconditionFailed otherwise.
	ConditionalPut(ctx context.Context, objectPath string, data []byte, etag string) error

	// ListObjects returns all object paths under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// ContentTypeJSON is the content type used for step records and domain documents.
const ContentTypeJSON = "application/json"

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package objectstore wraps the remote put, get and list operations behind one
// call contract. Every call is a single round trip; nothing here retries or
// paginates.
package objectstore

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/friendsincode/objgate/internal/config"
	"github.com/friendsincode/objgate/internal/credential"
)

// Operation names used in error reports.
const (
	OpPut  = "put object"
	OpGet  = "get object"
	OpList = "list objects"
)

// Source is a finite byte sequence handed to Put. Size returns -1 when the
// length is unknown.
type Source interface {
	io.Reader
	Size() int64
}

// Object is the body returned by Get. Callers must close Body.
type Object struct {
	Body io.ReadCloser
	Size int64 // -1 when the service did not report a length
}

// Listing is one page of keys in provider order.
type Listing struct {
	Keys      []string `json:"keys"`
	Truncated bool     `json:"truncated"`
}

// Client is the storage facade. Implementations return *failure.Error values only.
type Client interface {
	Put(ctx context.Context, creds credential.Credentials, bucket, key string, src Source) error
	Get(ctx context.Context, creds credential.Credentials, bucket, key string) (*Object, error)
	List(ctx context.Context, creds credential.Credentials, bucket string) (Listing, error)
}

// New returns the backend selected by cfg.StorageBackend.
func New(cfg *config.Config, logger zerolog.Logger) (Client, error) {
	switch cfg.StorageBackend {
	case config.StorageS3, "":
		return NewS3(S3Options{
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.UsePathStyle,
		}, logger), nil
	case config.StorageMinIO:
		return NewMinIO(MinIOOptions{
			Endpoint: cfg.Endpoint,
		}, logger)
	case config.StorageMemory:
		return NewMemory(logger), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/friendsincode/objgate/internal/credential"
	"github.com/friendsincode/objgate/internal/failure"
)

// minioPageSize mirrors the S3 ListObjectsV2 page so List stays one page.
const minioPageSize = 1000

// MinIOOptions configure the MinIO backend.
type MinIOOptions struct {
	// Endpoint is host:port or a URL; an http:// scheme disables TLS.
	Endpoint string
}

// MinIO implements Client using minio-go.
type MinIO struct {
	host   string
	secure bool
	logger zerolog.Logger
}

// NewMinIO creates a MinIO backend.
func NewMinIO(opts MinIOOptions, logger zerolog.Logger) (*MinIO, error) {
	host, secure, err := parseEndpoint(opts.Endpoint)
	if err != nil {
		return nil, err
	}
	return &MinIO{
		host:   host,
		secure: secure,
		logger: logger.With().Str("component", "objectstore").Str("backend", "minio").Logger(),
	}, nil
}

func parseEndpoint(endpoint string) (string, bool, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", false, fmt.Errorf("minio endpoint must be provided")
	}
	if !strings.Contains(endpoint, "://") {
		return strings.TrimPrefix(endpoint, "//"), true, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parse minio endpoint: %w", err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("minio endpoint %q has no host", endpoint)
	}
	return u.Host, u.Scheme == "https", nil
}

func (m *MinIO) client(creds credential.Credentials) (*minio.Client, error) {
	client, err := minio.New(m.host, &minio.Options{
		Creds:        miniocreds.New(&sessionProvider{creds: creds}),
		Secure:       m.secure,
		Region:       creds.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, failure.Transport("connect", err)
	}
	return client, nil
}

// Put uploads src. Unknown-length sources are streamed by minio-go in parts.
func (m *MinIO) Put(ctx context.Context, creds credential.Credentials, bucket, key string, src Source) error {
	client, err := m.client(creds)
	if err != nil {
		return err
	}
	if _, err := client.PutObject(ctx, bucket, key, src, src.Size(), minio.PutObjectOptions{}); err != nil {
		return fromMinIO(OpPut, err)
	}
	m.logger.Debug().Str("bucket", bucket).Str("key", key).Msg("object put")
	return nil
}

// Get opens the object. minio-go defers the request until first read, so the
// object is stat'ed here to surface missing keys before any local file exists.
func (m *MinIO) Get(ctx context.Context, creds credential.Credentials, bucket, key string) (*Object, error) {
	client, err := m.client(creds)
	if err != nil {
		return nil, err
	}
	obj, err := client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fromMinIO(OpGet, err)
	}
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, fromMinIO(OpGet, err)
	}
	return &Object{Body: obj, Size: info.Size}, nil
}

// List returns at most one page of keys.
func (m *MinIO) List(ctx context.Context, creds credential.Credentials, bucket string) (Listing, error) {
	client, err := m.client(creds)
	if err != nil {
		return Listing{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listing := Listing{Keys: make([]string, 0)}
	for info := range client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Recursive: true, MaxKeys: minioPageSize}) {
		if info.Err != nil {
			return Listing{}, fromMinIO(OpList, info.Err)
		}
		if len(listing.Keys) == minioPageSize {
			listing.Truncated = true
			break
		}
		listing.Keys = append(listing.Keys, info.Key)
	}
	return listing, nil
}

// fromMinIO maps a minio-go error into the taxonomy.
func fromMinIO(op string, err error) error {
	var fe *failure.Error
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return failure.Transport(op, err)
	}

	resp := minio.ToErrorResponse(err)
	if resp.Code != "" || resp.StatusCode != 0 {
		return failure.Remote(op, resp.Code, resp.Message, err)
	}
	return failure.Transport(op, err)
}

// sessionProvider feeds an acquired session into minio-go's signer.
type sessionProvider struct {
	creds credential.Credentials
}

func (p *sessionProvider) Retrieve() (miniocreds.Value, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	value, err := p.creds.Retrieve(ctx)
	if err != nil {
		return miniocreds.Value{}, err
	}
	return miniocreds.Value{
		AccessKeyID:     value.AccessKeyID,
		SecretAccessKey: value.SecretAccessKey,
		SessionToken:    value.SessionToken,
		SignerType:      miniocreds.SignatureV4,
	}, nil
}

// IsExpired always reports true; expiry is tracked by the SDK credentials cache
// behind creds, which makes repeated retrieval cheap.
func (p *sessionProvider) IsExpired() bool {
	return true
}

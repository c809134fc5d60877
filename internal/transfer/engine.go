/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package transfer moves bytes between local files and the object store,
// reporting how many bytes actually reached the sink.
package transfer

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/friendsincode/objgate/internal/credential"
	"github.com/friendsincode/objgate/internal/failure"
	"github.com/friendsincode/objgate/internal/fetch"
	"github.com/friendsincode/objgate/internal/objectstore"
	"github.com/friendsincode/objgate/internal/telemetry"
)

const (
	tracerName = "objgate/transfer"

	opUpload   = "upload"
	opDownload = "download"
	opImport   = "import image"

	// chunkSize bounds a single read; the provider may return less.
	chunkSize = 32 * 1024
)

// Result describes a completed transfer. Bytes is the count written to the sink.
type Result struct {
	Key   string `json:"key,omitempty"`
	Path  string `json:"path,omitempty"`
	Bytes int64  `json:"bytes"`
}

// ImageSource fetches image bytes for a descriptor.
type ImageSource interface {
	Fetch(ctx context.Context, d fetch.Descriptor) ([]byte, error)
}

// Options wire an Engine to its collaborators.
type Options struct {
	Store       objectstore.Client
	Credentials credential.Acquirer
	Identity    credential.Identity
	Bucket      string
	DataDir     string
	Images      ImageSource
}

// Engine runs uploads, downloads and imports. Operations share no mutable
// state beyond the credential provider, so any number may run concurrently.
type Engine struct {
	store    objectstore.Client
	creds    credential.Acquirer
	identity credential.Identity
	bucket   string
	paths    Paths
	images   ImageSource
	logger   zerolog.Logger
}

// New creates an Engine.
func New(opts Options, logger zerolog.Logger) *Engine {
	return &Engine{
		store:    opts.Store,
		creds:    opts.Credentials,
		identity: opts.Identity,
		bucket:   opts.Bucket,
		paths:    Paths{Dir: opts.DataDir},
		images:   opts.Images,
		logger:   logger.With().Str("component", "transfer").Logger(),
	}
}

// Paths returns the local path policy.
func (e *Engine) Paths() Paths { return e.paths }

// Upload stores src under key as one streamed body.
func (e *Engine) Upload(ctx context.Context, key string, src objectstore.Source) (res Result, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, opUpload, attribute.String("objgate.key", key))
	logger := e.opLogger(opUpload, key)
	start := time.Now()
	defer func() {
		e.finish(logger, opUpload, start, res.Bytes, err)
		telemetry.EndSpan(span, err)
	}()

	creds, err := e.acquire(ctx)
	if err != nil {
		return Result{}, err
	}

	m := newMeter(src)
	if err := e.store.Put(ctx, creds, e.bucket, key, m); err != nil {
		if readErr := m.readErr(); readErr != nil {
			return Result{}, e.surface(failure.LocalIO(opUpload, readErr))
		}
		return Result{}, e.surface(err)
	}

	return Result{Key: key, Bytes: m.count()}, nil
}

// UploadFile streams the file at path to key.
func (e *Engine) UploadFile(ctx context.Context, key, path string) (Result, error) {
	src, err := OpenFile(path)
	if err != nil {
		e.logger.Warn().Err(err).Str("key", key).Str("path", path).Msg("upload source unavailable")
		return Result{}, err
	}
	defer src.Close()

	res, err := e.Upload(ctx, key, src)
	if err != nil {
		return Result{}, err
	}
	res.Path = path
	return res, nil
}

// UploadKey uploads the conventional source file for key.
func (e *Engine) UploadKey(ctx context.Context, key string) (Result, error) {
	path, err := e.paths.Source(key)
	if err != nil {
		return Result{}, err
	}
	return e.UploadFile(ctx, key, path)
}

// Download copies key into dest chunk by chunk. On failure the partially
// written file is left in place.
func (e *Engine) Download(ctx context.Context, key, dest string) (res Result, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, opDownload, attribute.String("objgate.key", key))
	logger := e.opLogger(opDownload, key).With().Str("path", dest).Logger()
	start := time.Now()
	var written int64
	defer func() {
		e.finish(logger, opDownload, start, written, err)
		telemetry.EndSpan(span, err)
	}()

	creds, err := e.acquire(ctx)
	if err != nil {
		return Result{}, err
	}

	obj, err := e.store.Get(ctx, creds, e.bucket, key)
	if err != nil {
		return Result{}, e.surface(err)
	}
	defer obj.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return Result{}, failure.LocalIO(opDownload, err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return Result{}, failure.LocalIO(opDownload, err)
	}

	written, err = copyChunks(ctx, f, obj.Body)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = failure.LocalIO(opDownload, closeErr)
	}
	if err != nil {
		return Result{}, e.surface(err)
	}

	return Result{Key: key, Path: dest, Bytes: written}, nil
}

// DownloadKey downloads key into its conventional destination file.
func (e *Engine) DownloadKey(ctx context.Context, key string) (Result, error) {
	dest, err := e.paths.Destination(key)
	if err != nil {
		return Result{}, err
	}
	return e.Download(ctx, key, dest)
}

// copyChunks writes body to w until EOF, checking ctx before every read. It
// returns the number of bytes written even on failure.
func copyChunks(ctx context.Context, w io.Writer, body io.Reader) (int64, error) {
	buf := make([]byte, chunkSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, failure.Transport(opDownload, err)
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			wn, err := w.Write(buf[:n])
			total += int64(wn)
			if err != nil {
				return total, failure.LocalIO(opDownload, err)
			}
			if wn != n {
				return total, failure.LocalIO(opDownload, io.ErrShortWrite)
			}
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			var fe *failure.Error
			if errors.As(readErr, &fe) {
				return total, fe
			}
			return total, failure.Transport(opDownload, readErr)
		}
	}
}

// List returns one page of keys in the configured bucket.
func (e *Engine) List(ctx context.Context) (listing objectstore.Listing, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "list")
	defer func() { telemetry.EndSpan(span, err) }()

	creds, err := e.acquire(ctx)
	if err != nil {
		return objectstore.Listing{}, err
	}
	listing, err = e.store.List(ctx, creds, e.bucket)
	if err != nil {
		e.logger.Warn().Err(err).Str("bucket", e.bucket).Msg("list failed")
		return objectstore.Listing{}, e.surface(err)
	}
	return listing, nil
}

// Import fetches the image for d, saves it under the image path and, when
// forwardKey is set, uploads the fetched bytes to that key. A failed fetch
// leaves no local file behind.
func (e *Engine) Import(ctx context.Context, d fetch.Descriptor, forwardKey string) (res Result, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, opImport,
		attribute.Int("objgate.width", int(d.Width)),
		attribute.Int("objgate.height", int(d.Height)),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	if forwardKey != "" {
		// Reject a bad key before anything is fetched.
		if _, err := e.paths.Source(forwardKey); err != nil {
			return Result{}, err
		}
	}

	data, err := e.images.Fetch(ctx, d)
	if err != nil {
		e.logger.Warn().Err(err).Uint16("width", d.Width).Uint16("height", d.Height).Msg("image fetch failed")
		return Result{}, err
	}

	path := e.paths.Image(d)
	if err := writeFile(path, data); err != nil {
		return Result{}, err
	}
	res = Result{Path: path, Bytes: int64(len(data))}
	e.logger.Info().Str("path", path).Int64("bytes", res.Bytes).Msg("image saved")

	if forwardKey == "" {
		return res, nil
	}
	up, err := e.Upload(ctx, forwardKey, NewBufferSource(data))
	if err != nil {
		return Result{}, err
	}
	res.Key = up.Key
	return res, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return failure.LocalIO(opImport, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return failure.LocalIO(opImport, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return failure.LocalIO(opImport, err)
	}
	if err := f.Close(); err != nil {
		return failure.LocalIO(opImport, err)
	}
	return nil
}

func (e *Engine) acquire(ctx context.Context) (credential.Credentials, error) {
	creds, err := e.creds.Acquire(ctx, e.identity)
	if err != nil {
		telemetry.CredentialAcquisitions.WithLabelValues("error").Inc()
		return credential.Credentials{}, err
	}
	telemetry.CredentialAcquisitions.WithLabelValues("ok").Inc()
	return creds, nil
}

// surface prepares a storage failure for the caller. A session that failed
// during a transfer is dropped so the retry acquires a fresh one, and the
// configured role and session name are removed from the diagnostic text.
func (e *Engine) surface(err error) error {
	if failure.Is(err, failure.KindCredential) {
		e.creds.Forget(e.identity)
	}
	return failure.Redacted(err, e.identity.RoleARN, e.identity.SessionName)
}

func (e *Engine) opLogger(op, key string) zerolog.Logger {
	return e.logger.With().
		Str("transfer_id", uuid.NewString()).
		Str("op", op).
		Str("key", key).
		Logger()
}

func (e *Engine) finish(logger zerolog.Logger, direction string, start time.Time, bytes int64, err error) {
	elapsed := time.Since(start)
	telemetry.TransferDuration.WithLabelValues(direction).Observe(elapsed.Seconds())
	if bytes > 0 {
		telemetry.TransferBytes.WithLabelValues(direction).Add(float64(bytes))
	}

	if err != nil {
		outcome, _ := failure.Resolve(err)
		telemetry.TransfersTotal.WithLabelValues(direction, outcome.String()).Inc()
		logger.Error().Err(err).Int64("bytes", bytes).Dur("duration", elapsed).Msg("transfer failed")
		return
	}
	telemetry.TransfersTotal.WithLabelValues(direction, "ok").Inc()
	logger.Info().Int64("bytes", bytes).Dur("duration", elapsed).Msg("transfer complete")
}

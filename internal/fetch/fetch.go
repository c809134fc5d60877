/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package fetch retrieves placeholder images of a requested size from an
// external image service.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/friendsincode/objgate/internal/config"
	"github.com/friendsincode/objgate/internal/failure"
)

const (
	opFetch = "fetch image"

	// DefaultBaseURL is the public placeholder image service.
	DefaultBaseURL = "https://picsum.photos"
)

// Descriptor is the requested image size in pixels.
type Descriptor struct {
	Width  uint16
	Height uint16
}

// FileName is the local name an imported image is saved under.
func (d Descriptor) FileName() string {
	return fmt.Sprintf("image-%d-%d.png", d.Width, d.Height)
}

// ParseDescriptor parses path segments into a Descriptor. Values outside
// 1..65535 are rejected.
func ParseDescriptor(width, height string) (Descriptor, error) {
	w, err := strconv.ParseUint(width, 10, 16)
	if err != nil {
		return Descriptor{}, failure.InvalidInput(opFetch, "width %q is not a dimension", width)
	}
	h, err := strconv.ParseUint(height, 10, 16)
	if err != nil {
		return Descriptor{}, failure.InvalidInput(opFetch, "height %q is not a dimension", height)
	}
	d := Descriptor{Width: uint16(w), Height: uint16(h)}
	return d, d.validate()
}

func (d Descriptor) validate() error {
	if d.Width == 0 || d.Height == 0 {
		return failure.InvalidInput(opFetch, "dimensions must be positive, got %dx%d", d.Width, d.Height)
	}
	return nil
}

// Fetcher downloads images over HTTP.
type Fetcher struct {
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// New creates a Fetcher. An empty baseURL selects DefaultBaseURL; a zero
// timeout leaves requests bounded only by the caller's context.
func New(baseURL string, timeout time.Duration, logger zerolog.Logger) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Fetcher{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: baseURL,
		logger:  logger.With().Str("component", "fetch").Logger(),
	}
}

// NewFromConfig creates a Fetcher from process configuration.
func NewFromConfig(cfg *config.Config, logger zerolog.Logger) *Fetcher {
	return New(cfg.ImageBaseURL, cfg.FetchTimeout, logger)
}

// URL returns the source address for d.
func (f *Fetcher) URL(d Descriptor) (string, error) {
	base, err := url.Parse(f.baseURL)
	if err != nil {
		return "", failure.BuildURL(opFetch, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" || base.Host == "" {
		return "", failure.BuildURL(opFetch, fmt.Errorf("base url %q is not absolute http(s)", f.baseURL))
	}
	return base.JoinPath(strconv.Itoa(int(d.Width)), strconv.Itoa(int(d.Height))).String(), nil
}

// Fetch retrieves the full image body. Nothing is requested when d or the
// base URL is invalid.
func (f *Fetcher) Fetch(ctx context.Context, d Descriptor) ([]byte, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	target, err := f.URL(d)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, failure.BuildURL(opFetch, err)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, failure.Transport(opFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return nil, failure.Transport(opFetch, fmt.Errorf("unexpected status %s", strings.TrimSpace(resp.Status)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failure.Transport(opFetch, err)
	}

	f.logger.Debug().
		Str("url", target).
		Int("bytes", len(body)).
		Dur("duration", time.Since(start)).
		Msg("image fetched")
	return body, nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package credential resolves the region-scoped, role-assumed session used to
// authorize object storage calls.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/friendsincode/objgate/internal/config"
	"github.com/friendsincode/objgate/internal/failure"
)

const (
	opAssumeRole = "assume role"

	defaultAcquireTimeout = 30 * time.Second
)

// Identity names the session a caller wants.
type Identity struct {
	Region      string
	RoleARN     string // Empty selects the default credential chain
	SessionName string
}

// IdentityFromConfig builds the identity configured for the process.
func IdentityFromConfig(cfg *config.Config) Identity {
	return Identity{
		Region:      cfg.Region,
		RoleARN:     cfg.RoleARN,
		SessionName: cfg.SessionName,
	}
}

// Credentials is a resolved session. It is safe to share read-only between
// concurrent transfers and must never be logged or persisted.
type Credentials struct {
	Region      string
	RoleARN     string
	SessionName string

	cfg aws.Config
}

// AWSConfig returns a copy of the SDK configuration carrying the session.
func (c Credentials) AWSConfig() aws.Config {
	return c.cfg.Copy()
}

// Retrieve returns the current key material, refreshing it through the SDK
// cache when it has expired.
func (c Credentials) Retrieve(ctx context.Context) (aws.Credentials, error) {
	if c.cfg.Credentials == nil {
		return aws.Credentials{}, failure.Credential(opAssumeRole, "NoCredentialProviders", nil)
	}
	return c.cfg.Credentials.Retrieve(ctx)
}

// FromProvider wraps a caller-managed SDK provider. Retrieval failures are
// reported as Credential errors like those of an acquired session.
func FromProvider(region string, provider aws.CredentialsProvider) Credentials {
	return Credentials{
		Region: region,
		cfg: aws.Config{
			Region:      region,
			Credentials: guard(provider),
		},
	}
}

func (c Credentials) String() string {
	return "credentials(region=" + c.Region + ")"
}

// MarshalZerologObject logs the region only.
func (c Credentials) MarshalZerologObject(e *zerolog.Event) {
	e.Str("region", c.Region)
}

// Options tune how sessions are built.
type Options struct {
	// Static keys replace the default chain as the base identity when set.
	AccessKeyID     string
	SecretAccessKey string
	// Duration requested for assumed-role sessions; zero uses the STS default.
	Duration time.Duration
	// Cache memoizes sessions per (region, role ARN) for the process lifetime.
	Cache bool
	// Timeout bounds one acquisition; zero uses 30s.
	Timeout time.Duration
}

// OptionsFromConfig maps process configuration to provider options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Duration:        cfg.SessionDuration,
		Cache:           cfg.CacheCredentials,
	}
}

// Acquirer is what transfer components need from a provider.
type Acquirer interface {
	Acquire(ctx context.Context, id Identity) (Credentials, error)
	Forget(id Identity)
}

// Provider acquires sessions through STS.
type Provider struct {
	opts   Options
	logger zerolog.Logger

	loadConfig func(ctx context.Context, region string) (aws.Config, error)
	newSTS     func(cfg aws.Config) stscreds.AssumeRoleAPIClient

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]Credentials
}

// NewProvider creates a provider backed by the AWS default configuration chain.
func NewProvider(opts Options, logger zerolog.Logger) *Provider {
	p := &Provider{
		opts:   opts,
		logger: logger.With().Str("component", "credential").Logger(),
		cache:  make(map[string]Credentials),
		newSTS: func(cfg aws.Config) stscreds.AssumeRoleAPIClient {
			return sts.NewFromConfig(cfg)
		},
	}
	p.loadConfig = p.loadDefaultConfig
	return p
}

func (p *Provider) loadDefaultConfig(ctx context.Context, region string) (aws.Config, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		// Retrying is the caller's decision.
		awsconfig.WithRetryMaxAttempts(1),
	}
	if p.opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(p.opts.AccessKeyID, p.opts.SecretAccessKey, ""),
		))
	}
	return awsconfig.LoadDefaultConfig(ctx, loadOpts...)
}

// Acquire returns a session for id. Failures are always Credential errors,
// except a missing region which is an input error.
func (p *Provider) Acquire(ctx context.Context, id Identity) (Credentials, error) {
	if strings.TrimSpace(id.Region) == "" {
		return Credentials{}, failure.InvalidInput(opAssumeRole, "region is required")
	}

	key := cacheKey(id)
	if p.opts.Cache {
		p.mu.RLock()
		creds, ok := p.cache[key]
		p.mu.RUnlock()
		if ok {
			return creds, nil
		}
	}

	// The flight outlives any single caller so one caller's cancellation
	// cannot fail the others sharing it.
	flightCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(key, func() (any, error) {
		if p.opts.Cache {
			// A concurrent flight may have finished since the check above.
			p.mu.RLock()
			creds, ok := p.cache[key]
			p.mu.RUnlock()
			if ok {
				return creds, nil
			}
		}
		ctx, cancel := context.WithTimeout(flightCtx, p.timeout())
		defer cancel()
		creds, err := p.acquire(ctx, id)
		if err != nil {
			return Credentials{}, err
		}
		if p.opts.Cache {
			p.mu.Lock()
			p.cache[key] = creds
			p.mu.Unlock()
		}
		return creds, nil
	})

	select {
	case <-ctx.Done():
		err := failure.Credential(opAssumeRole, "RequestCanceled", ctx.Err())
		p.logger.Warn().Err(err).Str("region", id.Region).Msg("credential acquisition abandoned")
		return Credentials{}, err
	case res := <-ch:
		if res.Err != nil {
			err := classify(res.Err)
			p.logger.Warn().Err(err).Str("region", id.Region).Msg("credential acquisition failed")
			return Credentials{}, err
		}
		return res.Val.(Credentials), nil
	}
}

func (p *Provider) timeout() time.Duration {
	if p.opts.Timeout > 0 {
		return p.opts.Timeout
	}
	return defaultAcquireTimeout
}

// Forget drops a memoized session so the next Acquire goes back to STS.
func (p *Provider) Forget(id Identity) {
	p.mu.Lock()
	delete(p.cache, cacheKey(id))
	p.mu.Unlock()
}

func (p *Provider) acquire(ctx context.Context, id Identity) (Credentials, error) {
	if id.RoleARN != "" {
		if err := validateRoleARN(id.RoleARN); err != nil {
			return Credentials{}, failure.Credential(opAssumeRole, "MalformedRoleARN", err)
		}
	}

	cfg, err := p.loadConfig(ctx, id.Region)
	if err != nil {
		return Credentials{}, failure.Credential("load config", "", err)
	}

	if id.RoleARN != "" {
		sessionName := id.SessionName
		if sessionName == "" {
			sessionName = "objgate"
		}
		assume := stscreds.NewAssumeRoleProvider(p.newSTS(cfg), id.RoleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = sessionName
			if p.opts.Duration > 0 {
				o.Duration = p.opts.Duration
			}
		})
		cfg.Credentials = guard(aws.NewCredentialsCache(assume))
	} else if cfg.Credentials != nil {
		cfg.Credentials = guard(aws.NewCredentialsCache(cfg.Credentials))
	} else {
		return Credentials{}, failure.Credential(opAssumeRole, "NoCredentialProviders", nil)
	}

	// Resolve once so a denied trust policy or unreachable token service fails
	// the attempt here rather than mid-transfer.
	if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
		return Credentials{}, err
	}

	p.logger.Debug().Str("region", id.Region).Bool("assumed_role", id.RoleARN != "").Msg("credentials acquired")

	return Credentials{
		Region:      id.Region,
		RoleARN:     id.RoleARN,
		SessionName: id.SessionName,
		cfg:         cfg,
	}, nil
}

// guard converts every retrieval failure into a Credential error so that a
// failure during a later signing step, including one raised by the SDK cache
// itself, is still classified correctly.
func guard(provider aws.CredentialsProvider) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		creds, err := provider.Retrieve(ctx)
		if err != nil {
			return aws.Credentials{}, classify(err)
		}
		return creds, nil
	})
}

// classify keeps taxonomy errors and reports anything else as a Credential
// error carrying the provider's code when there is one.
func classify(err error) error {
	var fe *failure.Error
	if errors.As(err, &fe) {
		return err
	}
	return failure.Credential(opAssumeRole, errorCode(err), err)
}

func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func validateRoleARN(roleARN string) error {
	parsed, err := arn.Parse(roleARN)
	if err != nil {
		return err
	}
	if parsed.Service != "iam" || !strings.HasPrefix(parsed.Resource, "role/") {
		return fmt.Errorf("not an IAM role ARN")
	}
	return nil
}

// Keys include the region so a session is never reused across regions.
func cacheKey(id Identity) string {
	return id.Region + "\x00" + id.RoleARN
}

package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"

	"github.com/friendsincode/objgate/internal/config"
	"github.com/friendsincode/objgate/internal/credential"
	"github.com/friendsincode/objgate/internal/failure"
)

type bufferSource struct {
	*bytes.Reader
}

func (b bufferSource) Size() int64 { return b.Reader.Size() }

func newSource(data string) Source {
	return bufferSource{bytes.NewReader([]byte(data))}
}

// fakeS3 records calls and stores objects the way the S3 API would.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error

	lastContentLength *int64
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.lastContentLength = in.ContentLength
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.OperationError{
			ServiceID:     "S3",
			OperationName: "GetObject",
			Err:           &s3types.NoSuchKey{Message: aws.String("The specified key does not exist.")},
		}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func newTestS3(api s3API) *S3 {
	s := NewS3(S3Options{}, zerolog.Nop())
	s.newClient = func(aws.Config) s3API { return api }
	return s
}

var testCreds = credential.Credentials{Region: "ap-northeast-1"}

func TestS3PutGetRoundTrip(t *testing.T) {
	api := newFakeS3()
	store := newTestS3(api)
	ctx := context.Background()

	if err := store.Put(ctx, testCreds, "bucket", "cat", newSource("0123456789")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if api.lastContentLength == nil || *api.lastContentLength != 10 {
		t.Fatalf("expected content length 10, got %v", api.lastContentLength)
	}

	obj, err := store.Get(ctx, testCreds, "bucket", "cat")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer obj.Body.Close()

	data, err := io.ReadAll(obj.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(data) != "0123456789" || obj.Size != 10 {
		t.Fatalf("Get() = %q (size %d)", data, obj.Size)
	}
}

func TestS3ListReturnsProviderOrder(t *testing.T) {
	api := newFakeS3()
	store := newTestS3(api)
	ctx := context.Background()

	listing, err := store.List(ctx, testCreds, "bucket")
	if err != nil {
		t.Fatalf("List() on empty bucket error = %v", err)
	}
	if listing.Keys == nil || len(listing.Keys) != 0 {
		t.Fatalf("expected empty non-nil keys, got %#v", listing.Keys)
	}

	for _, k := range []string{"c", "a", "b"} {
		if err := store.Put(ctx, testCreds, "bucket", k, newSource(k)); err != nil {
			t.Fatalf("Put(%q) error = %v", k, err)
		}
	}
	listing, err = store.List(ctx, testCreds, "bucket")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if strings.Join(listing.Keys, ",") != "a,b,c" {
		t.Fatalf("List() keys = %v", listing.Keys)
	}
}

func TestFromS3(t *testing.T) {
	credErr := failure.Credential("assume role", "ExpiredToken", errors.New("expired"))

	tests := []struct {
		name        string
		err         error
		wantKind    failure.Kind
		wantCode    string
		wantMessage string
	}{
		{
			name:        "api error with code and message",
			err:         &smithy.OperationError{ServiceID: "S3", OperationName: "PutObject", Err: &smithy.GenericAPIError{Code: "AccessDenied", Message: "Access Denied"}},
			wantKind:    failure.KindRemoteStorage,
			wantCode:    "AccessDenied",
			wantMessage: "Access Denied",
		},
		{
			name:        "api error without code or message",
			err:         &smithy.GenericAPIError{},
			wantKind:    failure.KindRemoteStorage,
			wantCode:    failure.UnknownCode,
			wantMessage: failure.MissingReason,
		},
		{
			name:     "network failure",
			err:      &smithy.OperationError{ServiceID: "S3", OperationName: "GetObject", Err: errors.New("dial tcp 10.0.0.1:443: connect: connection refused")},
			wantKind: failure.KindTransport,
		},
		{
			name:     "credential failure during signing",
			err:      &smithy.OperationError{ServiceID: "S3", OperationName: "GetObject", Err: fmt.Errorf("failed to retrieve credentials: %w", credErr)},
			wantKind: failure.KindCredential,
			wantCode: "ExpiredToken",
		},
		{
			name:     "cancelled",
			err:      context.Canceled,
			wantKind: failure.KindTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fe *failure.Error
			if !errors.As(fromS3(OpGet, tt.err), &fe) {
				t.Fatal("fromS3 returned an unclassified error")
			}
			if fe.Kind != tt.wantKind {
				t.Fatalf("kind = %v, want %v", fe.Kind, tt.wantKind)
			}
			if tt.wantCode != "" && fe.Code != tt.wantCode {
				t.Fatalf("code = %q, want %q", fe.Code, tt.wantCode)
			}
			if tt.wantMessage != "" && fe.Message != tt.wantMessage {
				t.Fatalf("message = %q, want %q", fe.Message, tt.wantMessage)
			}
		})
	}
}

func TestFromS3RedactsAssumedRole(t *testing.T) {
	err := fromS3(OpPut, &smithy.OperationError{
		ServiceID:     "S3",
		OperationName: "PutObject",
		Err: &smithy.GenericAPIError{
			Code:    "AccessDenied",
			Message: "User: arn:aws:sts::123456789012:assumed-role/uploader/objgate is not authorized to perform: s3:PutObject",
		},
	})

	_, msg := failure.Resolve(err)
	if strings.Contains(msg, "assumed-role/uploader/objgate") || strings.Contains(msg, "arn:aws:sts") {
		t.Fatalf("message leaks session identity: %q", msg)
	}
	if !strings.HasPrefix(msg, "remote storage: put object: AccessDenied: User: ") {
		t.Fatalf("unexpected message: %q", msg)
	}
}

func TestS3GetMissingKey(t *testing.T) {
	store := newTestS3(newFakeS3())
	_, err := store.Get(context.Background(), testCreds, "bucket", "nope")

	var fe *failure.Error
	if !errors.As(err, &fe) || fe.Kind != failure.KindRemoteStorage || fe.Code != "NoSuchKey" {
		t.Fatalf("expected NoSuchKey remote error, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemory(zerolog.Nop())
	ctx := context.Background()

	listing, err := store.List(ctx, testCreds, "empty")
	if err != nil || len(listing.Keys) != 0 || listing.Keys == nil {
		t.Fatalf("List(empty) = %#v, %v", listing, err)
	}

	for _, k := range []string{"b", "c", "a"} {
		if err := store.Put(ctx, testCreds, "bucket", k, newSource("v-"+k)); err != nil {
			t.Fatalf("Put(%q) error = %v", k, err)
		}
	}
	listing, err = store.List(ctx, testCreds, "bucket")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if strings.Join(listing.Keys, ",") != "a,b,c" {
		t.Fatalf("List() = %v", listing.Keys)
	}

	obj, err := store.Get(ctx, testCreds, "bucket", "b")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	data, _ := io.ReadAll(obj.Body)
	if string(data) != "v-b" {
		t.Fatalf("Get() = %q", data)
	}

	if _, err := store.Get(ctx, testCreds, "bucket", "zzz"); !failure.Is(err, failure.KindRemoteStorage) {
		t.Fatalf("expected remote storage error for missing key, got %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := store.Put(cancelled, testCreds, "bucket", "d", newSource("d")); !failure.Is(err, failure.KindTransport) {
		t.Fatalf("expected transport error for cancelled put, got %v", err)
	}
}

func TestFromMinIO(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind failure.Kind
		wantCode string
	}{
		{
			name:     "error response",
			err:      minio.ErrorResponse{Code: "NoSuchBucket", Message: "The specified bucket does not exist", StatusCode: 404},
			wantKind: failure.KindRemoteStorage,
			wantCode: "NoSuchBucket",
		},
		{
			name:     "error response without code",
			err:      minio.ErrorResponse{StatusCode: 500},
			wantKind: failure.KindRemoteStorage,
			wantCode: failure.UnknownCode,
		},
		{
			name:     "network failure",
			err:      errors.New("dial tcp: connection refused"),
			wantKind: failure.KindTransport,
		},
		{
			name:     "credential failure",
			err:      failure.Credential("assume role", "AccessDenied", nil),
			wantKind: failure.KindCredential,
			wantCode: "AccessDenied",
		},
		{
			name:     "deadline",
			err:      context.DeadlineExceeded,
			wantKind: failure.KindTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fe *failure.Error
			if !errors.As(fromMinIO(OpList, tt.err), &fe) {
				t.Fatal("fromMinIO returned an unclassified error")
			}
			if fe.Kind != tt.wantKind {
				t.Fatalf("kind = %v, want %v", fe.Kind, tt.wantKind)
			}
			if tt.wantCode != "" && fe.Code != tt.wantCode {
				t.Fatalf("code = %q, want %q", fe.Code, tt.wantCode)
			}
		})
	}
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		endpoint   string
		wantHost   string
		wantSecure bool
		wantErr    bool
	}{
		{"localhost:9000", "localhost:9000", true, false},
		{"http://minio:9000", "minio:9000", false, false},
		{"https://s3.example.com", "s3.example.com", true, false},
		{"", "", false, true},
		{"http://", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			host, secure, err := parseEndpoint(tt.endpoint)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseEndpoint() error = %v, wantErr %v", err, tt.wantErr)
			}
			if host != tt.wantHost || secure != tt.wantSecure {
				t.Fatalf("parseEndpoint() = %q %v, want %q %v", host, secure, tt.wantHost, tt.wantSecure)
			}
		})
	}
}

func TestSessionProviderFeedsMinIOSigner(t *testing.T) {
	creds := credential.FromProvider("us-east-1", credentials.NewStaticCredentialsProvider("AKIA", "secret", "token"))
	p := &sessionProvider{creds: creds}

	value, err := p.Retrieve()
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if value.AccessKeyID != "AKIA" || value.SessionToken != "token" {
		t.Fatalf("unexpected value: %+v", value)
	}
	if !p.IsExpired() {
		t.Fatal("provider should defer expiry to the SDK cache")
	}

	broken := &sessionProvider{creds: credential.FromProvider("us-east-1", credentials.NewStaticCredentialsProvider("", "", ""))}
	if _, err := broken.Retrieve(); !failure.Is(err, failure.KindCredential) {
		t.Fatalf("expected credential error, got %v", err)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	tests := []struct {
		backend config.StorageBackend
		want    string
	}{
		{config.StorageS3, "*objectstore.S3"},
		{config.StorageMinIO, "*objectstore.MinIO"},
		{config.StorageMemory, "*objectstore.Memory"},
	}
	for _, tt := range tests {
		t.Run(string(tt.backend), func(t *testing.T) {
			client, err := New(&config.Config{StorageBackend: tt.backend, Endpoint: "localhost:9000"}, zerolog.Nop())
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if got := fmt.Sprintf("%T", client); got != tt.want {
				t.Fatalf("New() = %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := New(&config.Config{StorageBackend: "gcs"}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unsupported backend")
	}
}

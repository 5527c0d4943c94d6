package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "memory", cfg: Config{Driver: DriverMemory}},
		{name: "default driver is memory", cfg: Config{}},
		{name: "unsupported driver", cfg: Config{Driver: "gcs"}, wantErr: true},
		{name: "s3 missing bucket", cfg: Config{Driver: DriverS3, S3Client: &fakeS3Client{}}, wantErr: true},
		{name: "s3 missing client", cfg: Config{Driver: DriverS3, Bucket: "gateway-artifacts"}, wantErr: true},
		{name: "s3", cfg: Config{Driver: DriverS3, Bucket: "gateway-artifacts", S3Client: &fakeS3Client{}}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store, err := New(tc.cfg)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Fatalf("expected ErrInvalidConfig, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if store == nil {
				t.Fatalf("New returned nil store")
			}
		})
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := New(Config{Driver: DriverMemory, Prefix: "mainnet/"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	payload := []byte{0xb5, 0xee, 0x9c, 0x72}
	if err := store.Put(ctx, "/code/abc.boc", payload, map[string]string{"artifact-type": "code"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ok, err := store.Exists(ctx, "code/abc.boc")
	if err != nil || !ok {
		t.Fatalf("Exists: %v, %v", ok, err)
	}

	obj, err := store.Get(ctx, "code/abc.boc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if obj.Key != "code/abc.boc" || !bytes.Equal(obj.Data, payload) || obj.Metadata["artifact-type"] != "code" {
		t.Fatalf("unexpected object: %+v", obj)
	}

	obj.Data[0] = 0
	obj.Metadata["artifact-type"] = "changed"
	reload, err := store.Get(ctx, "code/abc.boc")
	if err != nil {
		t.Fatalf("Get reload: %v", err)
	}
	if reload.Data[0] != 0xb5 || reload.Metadata["artifact-type"] != "code" {
		t.Fatalf("stored object was mutated through a returned copy")
	}

	if _, err := store.Get(ctx, "code/missing.boc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.Put(ctx, "code/abc.boc", []byte{0x01}, nil); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second Put: expected ErrAlreadyExists, got %v", err)
	}
	kept, err := store.Get(ctx, "code/abc.boc")
	if err != nil || !bytes.Equal(kept.Data, payload) {
		t.Fatalf("first write must win: %x, %v", kept.Data, err)
	}
}

func TestStoreRejectsInvalidKeys(t *testing.T) {
	t.Parallel()

	store, err := New(Config{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, key := range []string{"", "   ", "\x00bad", "\nnewline", "/"} {
		if err := store.Put(context.Background(), key, []byte("x"), nil); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("Put(%q): expected ErrInvalidKey, got %v", key, err)
		}
		if _, err := store.Get(context.Background(), key); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("Get(%q): expected ErrInvalidKey, got %v", key, err)
		}
	}
}

func TestS3StorePutGetExists(t *testing.T) {
	t.Parallel()

	const wantKey = "gw-1/code/abc.boc"
	client := &fakeS3Client{
		putFn: func(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			if got := aws.ToString(in.Bucket); got != "gateway-artifacts" {
				t.Errorf("bucket mismatch: got %q", got)
			}
			if got := aws.ToString(in.Key); got != wantKey {
				t.Errorf("key mismatch: got %q want %q", got, wantKey)
			}
			if got := in.Metadata["artifact-type"]; got != "code" {
				t.Errorf("metadata mismatch: got %q", got)
			}
			if got := aws.ToString(in.IfNoneMatch); got != "*" {
				t.Errorf("put must be conditional, IfNoneMatch=%q", got)
			}
			return &s3.PutObjectOutput{}, nil
		},
		getFn: func(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			if got := aws.ToString(in.Key); got != wantKey {
				t.Errorf("get key mismatch: got %q", got)
			}
			return &s3.GetObjectOutput{
				Body:     io.NopCloser(strings.NewReader("boc")),
				Metadata: map[string]string{"artifact-type": "code"},
			}, nil
		},
	}
	store, err := New(Config{Driver: DriverS3, Bucket: "gateway-artifacts", Prefix: "gw-1", S3Client: client})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "code/abc.boc", []byte("boc"), map[string]string{"artifact-type": "code"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	obj, err := store.Get(ctx, "code/abc.boc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(obj.Data) != "boc" || obj.Metadata["artifact-type"] != "code" {
		t.Fatalf("unexpected object: %+v", obj)
	}
	if ok, err := store.Exists(ctx, "code/abc.boc"); err != nil || !ok {
		t.Fatalf("Exists: %v, %v", ok, err)
	}
}

func TestS3StoreMapsNotFound(t *testing.T) {
	t.Parallel()

	client := &fakeS3Client{
		getFn: func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return nil, fakeAPIError{code: "NoSuchKey", msg: "missing"}
		},
		headFn: func(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
			return nil, fakeAPIError{code: "NotFound", msg: "missing"}
		},
	}
	store, err := New(Config{Driver: DriverS3, Bucket: "gateway-artifacts", S3Client: client})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := store.Get(context.Background(), "code/x.boc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Get, got %v", err)
	}
	if ok, err := store.Exists(context.Background(), "code/x.boc"); err != nil || ok {
		t.Fatalf("Exists: %v, %v", ok, err)
	}
}

func TestS3StorePutExistingKey(t *testing.T) {
	t.Parallel()

	client := &fakeS3Client{
		putFn: func(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			return nil, fakeAPIError{code: "PreconditionFailed", msg: "at least one of the pre-conditions you specified did not hold"}
		},
	}
	store, err := New(Config{Driver: DriverS3, Bucket: "gateway-artifacts", S3Client: client})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = store.Put(context.Background(), "snapshots/0:aa/7.boc", []byte("boc"), nil)
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	archive, err := NewArchive(store)
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	data := cell.BeginCell().MustStoreUInt(7, 32).EndCell()
	if _, err := archive.PutSnapshot(context.Background(), "0:aa", 7, data); err != nil {
		t.Fatalf("PutSnapshot over existing object: %v", err)
	}

	client.putFn = func(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		return nil, fakeAPIError{code: "AccessDenied", msg: "denied"}
	}
	if _, err := archive.PutSnapshot(context.Background(), "0:aa", 8, data); err == nil || errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected access error, got %v", err)
	}
}

func TestS3StoreMaxGetSize(t *testing.T) {
	t.Parallel()

	client := &fakeS3Client{
		getFn: func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("this payload is too large"))}, nil
		},
	}
	store, err := New(Config{Driver: DriverS3, Bucket: "gateway-artifacts", S3Client: client, MaxGetSize: 8})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := store.Get(context.Background(), "snapshots/x.boc"); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestArchive_CodeAndSnapshots(t *testing.T) {
	t.Parallel()

	store, err := New(Config{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	archive, err := NewArchive(store)
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	ctx := context.Background()

	code := cell.BeginCell().MustStoreUInt(0xC0DE, 16).EndCell()
	key, err := archive.PutCode(ctx, code)
	if err != nil {
		t.Fatalf("PutCode: %v", err)
	}
	if key != CodeKey(code.Hash()) {
		t.Fatalf("PutCode key: got %q", key)
	}
	if again, err := archive.PutCode(ctx, code); err != nil || again != key {
		t.Fatalf("PutCode must be idempotent: %q, %v", again, err)
	}
	got, err := archive.GetCode(ctx, code.Hash())
	if err != nil {
		t.Fatalf("GetCode: %v", err)
	}
	if !bytes.Equal(got.Hash(), code.Hash()) {
		t.Fatalf("GetCode returned a different cell")
	}

	data := cell.BeginCell().MustStoreUInt(7, 32).EndCell()
	if _, err := archive.PutSnapshot(ctx, "0:aa", 12, data); err != nil {
		t.Fatalf("PutSnapshot: %v", err)
	}
	snap, err := archive.GetSnapshot(ctx, "0:aa", 12)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if !bytes.Equal(snap.Hash(), data.Hash()) {
		t.Fatalf("GetSnapshot returned a different cell")
	}
	if _, err := archive.GetSnapshot(ctx, "0:aa", 13); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := NewArchive(nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

type fakeS3Client struct {
	putFn  func(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	getFn  func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	headFn func(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

func (f *fakeS3Client) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putFn == nil {
		return &s3.PutObjectOutput{}, nil
	}
	return f.putFn(ctx, in, opts...)
}

func (f *fakeS3Client) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getFn == nil {
		return nil, errors.New("unexpected GetObject call")
	}
	return f.getFn(ctx, in, opts...)
}

func (f *fakeS3Client) HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headFn == nil {
		return &s3.HeadObjectOutput{}, nil
	}
	return f.headFn(ctx, in, opts...)
}

type fakeAPIError struct {
	code string
	msg  string
}

func (f fakeAPIError) ErrorCode() string             { return f.code }
func (f fakeAPIError) ErrorMessage() string          { return f.msg }
func (f fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }
func (f fakeAPIError) Error() string                 { return f.code + ": " + f.msg }

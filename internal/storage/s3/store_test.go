package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/duckrelay/duckrelay/internal/storage"
)

type fakeClient struct {
	objects map[string][]byte
	putErr  error
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: map[string][]byte{}}
}

func (f *fakeClient) Put(_ context.Context, _ string, key string, reader io.Reader, _ int64, _ string) (storage.ObjectInfo, error) {
	if f.putErr != nil {
		return storage.ObjectInfo{}, f.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	f.objects[key] = data
	return storage.ObjectInfo{Key: key, Size: int64(len(data)), ETag: "fake"}, nil
}

func (f *fakeClient) Get(_ context.Context, _ string, key string) (io.ReadCloser, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeClient) BucketExists(context.Context, string) (bool, error) { return true, nil }

func (f *fakeClient) CreateBucket(context.Context, string, string) error { return nil }

func TestStorePutAndGet(t *testing.T) {
	fake := newFakeClient()
	store, err := NewWithClient("relay-archive", "results", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}

	body := strings.NewReader("payload")
	info, err := store.Put(context.Background(), "trace-1.parquet", body, int64(body.Len()), storage.PutOptions{ContentType: "application/octet-stream"})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if info.Key != "results/trace-1.parquet" {
		t.Fatalf("Put() key = %q, want prefixed key", info.Key)
	}

	reader, err := store.Get(context.Background(), "trace-1.parquet")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read object: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("Get() body = %q, want %q", data, "payload")
	}
}

func TestStoreGetMissingObject(t *testing.T) {
	store, err := NewWithClient("relay-archive", "", newFakeClient())
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	if _, err := store.Get(context.Background(), "missing.parquet"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Get() error = %v, want ErrObjectNotFound", err)
	}
}

func TestStoreRejectsBadKeys(t *testing.T) {
	store, err := NewWithClient("relay-archive", "results", newFakeClient())
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	bad := []string{"", "  ", "../escape", "a/../../b"}
	for _, key := range bad {
		if _, err := store.Put(context.Background(), key, strings.NewReader("x"), 1, storage.PutOptions{}); err == nil {
			t.Fatalf("Put(%q) expected key error", key)
		}
	}
}

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		raw        string
		useSSL     bool
		wantHost   string
		wantSecure bool
	}{
		{"https://s3.example.com", false, "s3.example.com", true},
		{"http://minio:9000", true, "minio:9000", true},
		{"minio:9000", false, "minio:9000", false},
	}
	for _, tc := range cases {
		host, secure, err := parseEndpoint(tc.raw, tc.useSSL)
		if err != nil {
			t.Fatalf("parseEndpoint(%q) error = %v", tc.raw, err)
		}
		if host != tc.wantHost || secure != tc.wantSecure {
			t.Fatalf("parseEndpoint(%q) = (%q, %v), want (%q, %v)", tc.raw, host, secure, tc.wantHost, tc.wantSecure)
		}
	}
}

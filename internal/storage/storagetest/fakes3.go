// Package storagetest runs an in-memory S3 server for backend tests.
package storagetest

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/rendis/mediamcp/pkg/schema"
)

// Credentials accepted by the fake server.
const (
	AccessKey = "test-ak"
	SecretKey = "test-sk"
	Region    = "us-east-1"
)

// Server is a running in-memory S3 endpoint.
type Server struct {
	URL    string
	http   *httptest.Server
	mem    *s3mem.Backend
	client *minio.Client
}

// NewServer starts a fake S3 server with the given buckets. It is closed
// when the test ends.
func NewServer(t testing.TB, buckets ...string) *Server {
	t.Helper()
	mem := s3mem.New()
	srv := httptest.NewServer(gofakes3.New(mem).Server())
	t.Cleanup(srv.Close)

	for _, b := range buckets {
		if err := mem.CreateBucket(b); err != nil {
			t.Fatalf("create bucket %s: %v", b, err)
		}
	}

	client, err := minio.New(srv.Listener.Addr().String(), &minio.Options{
		Creds:        credentials.NewStaticV4(AccessKey, SecretKey, ""),
		Secure:       false,
		Region:       Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		t.Fatalf("create seed client: %v", err)
	}
	return &Server{URL: srv.URL, http: srv, mem: mem, client: client}
}

// Put stores an object.
func (s *Server) Put(t testing.TB, bucket, key string, data []byte) {
	t.Helper()
	_, err := s.client.PutObject(context.Background(), bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		t.Fatalf("put %s/%s: %v", bucket, key, err)
	}
}

// Fill stores n small objects named prefix0000.mp3, prefix0001.mp3, ...
func (s *Server) Fill(t testing.TB, bucket, prefix string, n int) {
	t.Helper()
	for i := range n {
		s.Put(t, bucket, fmt.Sprintf("%s%04d.mp3", prefix, i), []byte{byte(i)})
	}
}

// Tenant returns a tenant config pointing at the server.
func (s *Server) Tenant(containers ...string) schema.TenantConfig {
	return schema.NewTenantConfig(AccessKey, SecretKey, s.URL, Region, containers)
}

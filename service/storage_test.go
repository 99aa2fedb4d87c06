package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/c54335/contract-delivery-tracker/config"
)

// fakeS3 records object writes and deletes against a single bucket
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newFakeS3(t *testing.T) (*fakeS3, *httptest.Server) {
	t.Helper()
	fake := &fakeS3{objects: make(map[string][]byte)}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fake.mu.Lock()
		defer fake.mu.Unlock()

		key := strings.TrimPrefix(r.URL.Path, "/contracts/")
		switch {
		case r.Method == http.MethodHead && strings.TrimSuffix(r.URL.Path, "/") == "/contracts":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			fake.objects[key] = body
			w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2":
			prefix := r.URL.Query().Get("prefix")
			var sb strings.Builder
			sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Name>contracts</Name>`)
			for k, v := range fake.objects {
				if strings.HasPrefix(k, prefix) {
					sb.WriteString("<Contents><Key>" + k + "</Key><Size>" + strconv.Itoa(len(v)) + "</Size></Contents>")
				}
			}
			sb.WriteString("<IsTruncated>false</IsTruncated></ListBucketResult>")
			w.Header().Set("Content-Type", "application/xml")
			w.Write([]byte(sb.String()))
		case r.Method == http.MethodDelete:
			fake.deleted = append(fake.deleted, key)
			delete(fake.objects, key)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotImplemented)
		}
	}))
	t.Cleanup(server.Close)
	return fake, server
}

func newTestStorage(t *testing.T, endpoint string) *DocumentStorage {
	t.Helper()
	storage, err := NewDocumentStorage(&config.MinioConfig{
		Endpoint:   endpoint,
		AccessKey:  "minioadmin",
		SecretKey:  "minioadmin",
		Bucket:     "contracts",
		Region:     "us-east-1",
		ExpireDays: 7,
	})
	if err != nil {
		t.Fatalf("NewDocumentStorage failed: %v", err)
	}
	return storage
}

func TestDocumentStoragePresignedURL(t *testing.T) {
	storage := newTestStorage(t, "localhost:9000")

	url, err := storage.PresignedURL(context.Background(), "tenant1/s1/documents/contract.pdf")
	if err != nil {
		t.Fatalf("PresignedURL failed: %v", err)
	}
	for _, want := range []string{"http://localhost:9000/contracts/tenant1/s1/documents/contract.pdf", "X-Amz-Expires=604800", "X-Amz-Signature="} {
		if !strings.Contains(url, want) {
			t.Errorf("Expected %q in %s", want, url)
		}
	}
}

func TestDocumentStoragePutAndRemove(t *testing.T) {
	fake, server := newFakeS3(t)
	storage := newTestStorage(t, strings.TrimPrefix(server.URL, "http://"))
	ctx := context.Background()

	if err := storage.EnsureBucket(ctx); err != nil {
		t.Fatalf("EnsureBucket failed: %v", err)
	}

	name, err := storage.PutDocument(ctx, "tenant1", "s1", "../contract.pdf", []byte("%PDF-1.4"), "application/pdf")
	if err != nil {
		t.Fatalf("PutDocument failed: %v", err)
	}
	if name != "tenant1/s1/documents/contract.pdf" {
		t.Errorf("Unexpected object name %s", name)
	}

	exportName, err := storage.ArchiveExport(ctx, "tenant1", "s1", []byte("a,b\n"), time.Date(2024, 3, 15, 8, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ArchiveExport failed: %v", err)
	}
	if exportName != "tenant1/s1/exports/20240315T083000Z.csv" {
		t.Errorf("Unexpected export name %s", exportName)
	}

	fake.mu.Lock()
	// The client may send the body aws-chunked, so only look for the payload
	if !strings.Contains(string(fake.objects[name]), "%PDF-1.4") {
		t.Errorf("Expected document body to be stored, got %q", fake.objects[name])
	}
	fake.mu.Unlock()

	if err := storage.RemoveSession(ctx, "tenant1", "s1"); err != nil {
		t.Fatalf("RemoveSession failed: %v", err)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.objects) != 0 {
		t.Errorf("Expected all session objects removed, %d left", len(fake.objects))
	}
	if len(fake.deleted) != 2 {
		t.Errorf("Expected 2 deletes, got %d", len(fake.deleted))
	}
}

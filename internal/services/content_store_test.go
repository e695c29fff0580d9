package services

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrylabs/scry-backend/internal/config"
	"github.com/scrylabs/scry-backend/internal/utils"
)

func TestMemoryContentStore(t *testing.T) {
	exerciseContentStore(t, NewMemoryContentStore())
}

func TestS3ContentStore(t *testing.T) {
	bucket := newFakeBucket()
	server := httptest.NewServer(bucket)
	defer server.Close()

	store, err := NewS3ContentStore(config.AWSConfig{
		Region:          "us-east-1",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		S3Bucket:        "scry-test",
		Endpoint:        server.URL,
	})
	require.NoError(t, err)

	exerciseContentStore(t, store)
	key := "/scry-test/content/" + utils.ContentID([]byte("payload"))
	assert.Contains(t, bucket.keys(), key)

	// A tampered object no longer matches its address
	bucket.mu.Lock()
	bucket.objects[key] = []byte("tampered")
	bucket.mu.Unlock()
	_, err = store.Get(context.Background(), utils.ContentID([]byte("payload")))
	assert.ErrorContains(t, err, "does not match")
}

func TestNewContentStoreSelectsDriver(t *testing.T) {
	cfg := testConfig()
	store, err := NewContentStore(cfg)
	require.NoError(t, err)
	assert.IsType(t, &MemoryContentStore{}, store)

	cfg.Storage.Driver = "s3"
	cfg.AWS = config.AWSConfig{Region: "us-east-1", AccessKeyID: "k", SecretAccessKey: "s", S3Bucket: "b"}
	store, err = NewContentStore(cfg)
	require.NoError(t, err)
	assert.IsType(t, &S3ContentStore{}, store)
}

func exerciseContentStore(t *testing.T, store ContentStore) {
	t.Helper()
	ctx := context.Background()

	stored, err := store.Put(ctx, []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, utils.ContentID([]byte("payload")), stored.ContentID)
	assert.Equal(t, int64(7), stored.Size)

	again, err := store.Put(ctx, []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, stored.ContentID, again.ContentID)

	data, err := store.Get(ctx, stored.ContentID)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	has, err := store.Has(ctx, stored.ContentID)
	require.NoError(t, err)
	assert.True(t, has)

	missing := utils.ContentID([]byte("missing"))
	_, err = store.Get(ctx, missing)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, ErrContentNotFound)

	has, err = store.Has(ctx, missing)
	require.NoError(t, err)
	assert.False(t, has)
}

// fakeBucket answers path-style PUT, GET and HEAD object requests.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: make(map[string][]byte)}
}

func (b *fakeBucket) keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.objects))
	for k := range b.objects {
		out = append(out, k)
	}
	return out
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		b.objects[r.URL.Path] = body
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		data, ok := b.objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>`+
					`<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			}
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			w.Write(data)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

package store

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/stretchr/testify/require"

	"github.com/giuliop/ceremony/log/testlogger"
)

// fakeS3 serves the handful of path-style S3 calls the store makes.
type fakeS3 struct {
	sync.Mutex
	objects map[string][]byte
	// failDelete makes deletes of staged objects fail.
	failDelete bool
}

type listResult struct {
	XMLName     xml.Name `xml:"ListBucketResult"`
	Name        string
	Prefix      string
	KeyCount    int
	IsTruncated bool
	Contents    []struct{ Key string }
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.Lock()
	defer f.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	switch {
	case r.Method == http.MethodGet && key == "":
		prefix := r.URL.Query().Get("prefix")
		res := listResult{Name: parts[0], Prefix: prefix}
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) && !strings.Contains(strings.TrimPrefix(k, prefix), "/") {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			res.Contents = append(res.Contents, struct{ Key string }{k})
		}
		res.KeyCount = len(keys)
		w.Header().Set("Content-Type", "application/xml")
		_ = xml.NewEncoder(w).Encode(res)
	case r.Method == http.MethodPut && r.Header.Get("X-Amz-Copy-Source") != "":
		src := strings.SplitN(r.Header.Get("X-Amz-Copy-Source"), "/", 2)[1]
		data, ok := f.objects[src]
		if !ok {
			notFound(w, true)
			return
		}
		f.objects[key] = data
		_, _ = io.WriteString(w, `<CopyObjectResult><ETag>"etag"</ETag></CopyObjectResult>`)
	case r.Method == http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = data
		w.Header().Set("ETag", `"etag"`)
	case r.Method == http.MethodHead:
		if _, ok := f.objects[key]; !ok {
			notFound(w, false)
		}
	case r.Method == http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			notFound(w, true)
			return
		}
		_, _ = w.Write(data)
	case r.Method == http.MethodDelete:
		if f.failDelete && strings.Contains(key, stagingFolder) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func notFound(w http.ResponseWriter, body bool) {
	w.WriteHeader(http.StatusNotFound)
	if body {
		_, _ = io.WriteString(w, `<Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
	}
}

func newS3Store(t *testing.T, fake *fakeS3) *S3Store {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	sess, err := session.NewSession(&aws.Config{
		Region:           aws.String("us-east-1"),
		Endpoint:         aws.String(srv.URL),
		S3ForcePathStyle: aws.Bool(true),
		DisableSSL:       aws.Bool(true),
		Credentials:      credentials.NewStaticCredentials("id", "secret", ""),
		MaxRetries:       aws.Int(0),
	})
	require.NoError(t, err)

	s := NewS3StoreWithClient(s3.New(sess), "bucket", "ceremony")
	s.SetLogger(testlogger.New(t))
	return s
}

func TestS3Store(t *testing.T) {
	testStore(t, newS3Store(t, &fakeS3{objects: map[string][]byte{}}))
}

func TestS3PromoteKeepsStagingLeftover(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{}, failDelete: true}
	s := newS3Store(t, fake)

	staged, err := s.Stage(ctx, "pot12.ptau", []byte("v1"))
	require.NoError(t, err)
	require.NoError(t, s.Promote(ctx, staged))

	b, err := s.Get(ctx, "pot12.ptau")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), b)
	require.Contains(t, fake.objects, s.key(staged.Temp))

	// the name is taken, the leftover does not matter
	err = Put(ctx, s, "pot12.ptau", []byte("v2"))
	require.ErrorIs(t, err, ErrExists)
}

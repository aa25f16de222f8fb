package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"dragonfarm/internal/blob/core"
)

type fakeObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
}

// fakeAPI is a single-bucket in-memory S3 that pages listings two keys at a time.
type fakeAPI struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	putErr  error
}

func newFakeAPI() *fakeAPI { return &fakeAPI{objects: make(map[string]fakeObject)} }

func (f *fakeAPI) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.body))),
		ContentType:   aws.String(obj.contentType),
		ETag:          aws.String(`"etag"`),
		Metadata:      obj.metadata,
		LastModified:  aws.Time(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
	}, nil
}

func (f *fakeAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = fakeObject{body: body, contentType: aws.ToString(in.ContentType), metadata: in.Metadata}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeAPI) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.body)),
		ContentLength: aws.Int64(int64(len(obj.body))),
		ContentType:   aws.String(obj.contentType),
	}, nil
}

func (f *fakeAPI) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) && k > aws.ToString(in.ContinuationToken) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if len(keys) > 2 {
		keys = keys[:2]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[1])
	}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(f.objects[k].body)))})
	}
	return out, nil
}

func TestStoreAgainstFakeAPI(t *testing.T) {
	api := newFakeAPI()
	store := NewWithClient(api, "certs")
	ctx := context.Background()

	info, err := store.Put(ctx, "certificates/a.json", strings.NewReader("{}"), core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"k": "v"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 2 || info.ETag != "etag" || info.Metadata["k"] != "v" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "certificates/a.json", strings.NewReader("{}"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	for _, key := range []string{"certificates/b.json", "certificates/c.json", "other/d.json"} {
		if _, err := store.Put(ctx, key, strings.NewReader("{}"), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	list, err := store.List(ctx, "certificates/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[2].Key != "certificates/c.json" {
		t.Fatalf("expected paginated listing of three, got %+v", list)
	}

	_, body, err := store.Get(ctx, "certificates/a.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	payload, _ := io.ReadAll(body)
	_ = body.Close()
	if string(payload) != "{}" {
		t.Fatalf("unexpected payload %q", payload)
	}
	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Get, got %v", err)
	}
}

func TestStorePutFailure(t *testing.T) {
	api := newFakeAPI()
	api.putErr = errors.New("throttled")
	store := NewWithClient(api, "certs")
	if _, err := store.Put(context.Background(), "k", strings.NewReader("x"), core.PutOptions{}); err == nil || !strings.Contains(err.Error(), "throttled") {
		t.Fatalf("expected put failure, got %v", err)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
	store, err := New(context.Background(), Config{Bucket: "certs", AccessKeyID: "AKIA", SecretAccessKey: "secret", Endpoint: "http://127.0.0.1:9000", PathStyle: true})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if store.Driver() != core.DriverS3 {
		t.Fatalf("unexpected driver")
	}
}

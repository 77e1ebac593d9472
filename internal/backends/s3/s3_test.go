package s3_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	s3backend "github.com/nadalpiantini/omnidrive/internal/backends/s3"
	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bucket is an in-memory ObjectAPI. pageSize forces paginated listings.
type bucket struct {
	mu       sync.Mutex
	objects  map[string][]byte
	pageSize int
	denied   bool
}

func newBucket() *bucket {
	return &bucket{objects: map[string][]byte{}, pageSize: 2}
}

var noSuchKey = &smithy.GenericAPIError{Code: "NoSuchKey", Message: "The specified key does not exist."}

func (b *bucket) check() error {
	if b.denied {
		return &smithy.GenericAPIError{Code: "InvalidAccessKeyId", Message: "denied"}
	}
	return nil
}

func (b *bucket) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)

	// entries are object keys and common prefixes in key order
	seen := map[string]bool{}
	var entries []string
	for key := range b.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := key[len(prefix):]
		if i := strings.Index(rest, delim); delim != "" && i >= 0 && i < len(rest)-1 {
			cp := prefix + rest[:i+1]
			if !seen[cp] {
				seen[cp] = true
				entries = append(entries, cp)
			}
			continue
		}
		if strings.HasSuffix(rest, delim) && rest != "" {
			if !seen[key] {
				seen[key] = true
				entries = append(entries, key)
			}
			continue
		}
		entries = append(entries, key)
	}
	sort.Strings(entries)

	start := 0
	if in.ContinuationToken != nil {
		for i, e := range entries {
			if e == *in.ContinuationToken {
				start = i
				break
			}
		}
	}
	end := start + b.pageSize
	if end > len(entries) {
		end = len(entries)
	}
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(entries))}
	if end < len(entries) {
		out.NextContinuationToken = aws.String(entries[end])
	}
	for _, e := range entries[start:end] {
		if seen[e] {
			out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(e)})
			continue
		}
		out.Contents = append(out.Contents, types.Object{Key: aws.String(e), Size: aws.Int64(int64(len(b.objects[e])))})
	}
	return out, nil
}

func (b *bucket) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, b.check()
}

func (b *bucket) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NotFound", Message: "Not Found"}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (b *bucket) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.objects[aws.ToString(in.Key)] = data
	b.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (b *bucket) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, noSuchKey
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (b *bucket) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, src, _ := strings.Cut(aws.ToString(in.CopySource), "/")
	data, ok := b.objects[src]
	if !ok {
		return nil, noSuchKey
	}
	b.objects[aws.ToString(in.Key)] = data
	return &s3.CopyObjectOutput{}, nil
}

func (b *bucket) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	b.mu.Lock()
	delete(b.objects, aws.ToString(in.Key))
	b.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func newService(b *bucket) *s3backend.Service {
	return s3backend.New(s3backend.Settings{Bucket: "files"}, "", s3backend.WithAPI(b))
}

func TestListFiles(t *testing.T) {
	ctx := context.Background()
	b := newBucket()
	for _, key := range []string{"c.txt", "a.txt", "b.md", "docs/", "docs/inner.txt", "photos/cat.png", ".trash/old.txt"} {
		b.objects[key] = []byte(key)
	}
	svc := newService(b)

	t.Run("RootAcrossPages", func(t *testing.T) {
		files, err := svc.ListFiles(ctx, cloud.ListOptions{})
		require.NoError(t, err)
		var names []string
		for _, f := range files {
			names = append(names, f.Name)
		}
		assert.Equal(t, []string{"a.txt", "b.md", "c.txt", "docs", "photos"}, names)
		assert.True(t, files[3].IsFolder)
		assert.Equal(t, "docs/", files[3].ID)
		assert.Equal(t, int64(5), files[0].SizeBytes())
	})

	t.Run("Folder", func(t *testing.T) {
		files, err := svc.ListFiles(ctx, cloud.ListOptions{FolderID: "docs"})
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "docs/inner.txt", files[0].ID)
		assert.Equal(t, "docs", files[0].ParentID)
	})

	t.Run("Trash", func(t *testing.T) {
		files, err := svc.ListFiles(ctx, cloud.ListOptions{Trashed: true})
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "old.txt", files[0].Name)
	})

	t.Run("QueryAndLimit", func(t *testing.T) {
		files, err := svc.ListFiles(ctx, cloud.ListOptions{Query: "TXT", Limit: 1})
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "a.txt", files[0].Name)
	})
}

func TestObjectOperations(t *testing.T) {
	ctx := context.Background()
	local := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(local, []byte("pdf-bytes"), 0o644))

	t.Run("UploadDownloadRoundTrip", func(t *testing.T) {
		b := newBucket()
		svc := newService(b)
		folder, err := svc.CreateFolder(ctx, "reports", "")
		require.NoError(t, err)
		assert.Equal(t, "reports/", folder.ID)

		f, err := svc.UploadFile(ctx, local, folder.ID)
		require.NoError(t, err)
		assert.Equal(t, "reports/report.pdf", f.ID)
		assert.Equal(t, "application/pdf", f.MimeType)

		dest, err := svc.DownloadFile(ctx, f.ID, t.TempDir())
		require.NoError(t, err)
		data, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, "pdf-bytes", string(data))
	})

	t.Run("TrashMovesObject", func(t *testing.T) {
		b := newBucket()
		b.objects["notes.txt"] = []byte("x")
		svc := newService(b)
		ok, err := svc.DeleteFile(ctx, "notes.txt", false)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NotContains(t, b.objects, "notes.txt")
		assert.Contains(t, b.objects, s3backend.TrashPrefix+"notes.txt")
	})

	t.Run("PermanentDeleteOfMissingKey", func(t *testing.T) {
		svc := newService(newBucket())
		_, err := svc.DeleteFile(ctx, "gone.txt", true)
		assert.True(t, errors.Is(err, cloud.ErrNotFound))
	})

	t.Run("DownloadMissing", func(t *testing.T) {
		svc := newService(newBucket())
		_, err := svc.DownloadFile(ctx, "gone.txt", t.TempDir())
		assert.True(t, errors.Is(err, cloud.ErrNotFound))
	})

	t.Run("InvalidKeysAreAuthErrors", func(t *testing.T) {
		b := newBucket()
		b.denied = true
		_, err := newService(b).ListFiles(ctx, cloud.ListOptions{})
		assert.True(t, cloud.IsAuthError(err))
	})
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("RequiresKeyPair", func(t *testing.T) {
		svc := s3backend.New(s3backend.Settings{Bucket: "files"}, "")
		assert.False(t, svc.IsAuthenticated())
		_, err := svc.Authenticate(ctx, cloud.Credentials{Token: "only-id"})
		assert.True(t, cloud.IsAuthError(err))
	})

	t.Run("NoCredentialsOnUse", func(t *testing.T) {
		svc := s3backend.New(s3backend.Settings{Bucket: "files"}, "")
		_, err := svc.ListFiles(ctx, cloud.ListOptions{})
		assert.True(t, cloud.IsAuthError(err))
	})

	t.Run("EncodeToken", func(t *testing.T) {
		assert.Equal(t, "AKID:secret", s3backend.EncodeToken("AKID", "secret"))
	})
}

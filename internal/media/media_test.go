package media

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)

	path, err := s.Save(ctx, []byte("jpegbytes"), ".jpg")
	require.NoError(t, err)
	assert.Equal(t, ".jpg", filepath.Ext(path))

	data, err := s.Load(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpegbytes"), data)

	require.NoError(t, s.Remove(ctx, path))
	require.NoError(t, s.Remove(ctx, path), "removing twice is not an error")
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestDiskStore_Orphans(t *testing.T) {
	ctx := context.Background()
	s, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)

	old, err := s.Save(ctx, []byte("a"), "jpg")
	require.NoError(t, err)
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	_, err = s.Save(ctx, []byte("b"), "jpg")
	require.NoError(t, err)

	orphans, err := s.Orphans(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{old}, orphans)
}

type fakeS3 struct {
	objects  map[string][]byte
	modified map[string]time.Time
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, modified: map[string]time.Time{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, _ := io.ReadAll(in.Body)
	f.objects[*in.Key] = data
	f.modified[*in.Key] = time.Now()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.objects[*in.Key]))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, _ *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	for k := range f.objects {
		mod := f.modified[k]
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), LastModified: &mod})
	}
	return out, nil
}

func TestS3Store_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s := NewS3StoreWithClient(fake, "bucket")

	key, err := s.Save(ctx, []byte("img"), "png")
	require.NoError(t, err)
	assert.Contains(t, key, s3Prefix)

	data, err := s.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("img"), data)

	fake.modified[key] = time.Now().Add(-3 * time.Hour)
	orphans, err := s.Orphans(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{key}, orphans)

	require.NoError(t, s.Remove(ctx, key))
	assert.Empty(t, fake.objects)
}

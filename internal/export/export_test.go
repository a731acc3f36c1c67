package export

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	bucket, key, contentType string
	body                     []byte
	err                      error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bucket = *in.Bucket
	f.key = *in.Key
	if in.ContentType != nil {
		f.contentType = *in.ContentType
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = b
	return &s3.PutObjectOutput{}, nil
}

func withFakeS3(t *testing.T, f *fakeS3) {
	t.Helper()
	orig := newS3Client
	newS3Client = func(context.Context) (s3iface, error) { return f, nil }
	t.Cleanup(func() { newS3Client = orig })
}

const csvData = "tag,total_kudos,total_hits,total_bookmarks,total_comments,total_words,work_count\nX/Y,15,100,0,0,2500,2\n"

func writeSource(t *testing.T) string {
	t.Helper()
	src := filepath.Join(t.TempDir(), "stats.csv")
	require.NoError(t, os.WriteFile(src, []byte(csvData), 0o644))
	return src
}

func TestExportToPath(t *testing.T) {
	src := writeSource(t)
	dest := filepath.Join(t.TempDir(), "nested", "copy.csv")

	got, err := Export(context.Background(), src, dest)
	require.NoError(t, err)
	require.Equal(t, dest, got)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, csvData, string(data))
}

func TestExportToDirectoryKeepsName(t *testing.T) {
	src := writeSource(t)
	dir := t.TempDir()

	got, err := Export(context.Background(), src, "file://"+dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "stats.csv"), got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
}

func TestExportToS3(t *testing.T) {
	f := &fakeS3{}
	withFakeS3(t, f)
	src := writeSource(t)

	got, err := Export(context.Background(), src, "s3://bucket/exports/")
	require.NoError(t, err)
	require.Equal(t, "s3://bucket/exports/stats.csv", got)
	require.Equal(t, "bucket", f.bucket)
	require.Equal(t, "exports/stats.csv", f.key)
	require.Equal(t, "text/csv", f.contentType)
	require.Equal(t, csvData, string(f.body))
}

func TestExportToS3Error(t *testing.T) {
	withFakeS3(t, &fakeS3{err: errors.New("access denied")})
	src := writeSource(t)

	_, err := Export(context.Background(), src, "s3://bucket/stats.csv")
	require.ErrorContains(t, err, "access denied")
}

func TestExportRejectsUnknownScheme(t *testing.T) {
	src := writeSource(t)
	_, err := Export(context.Background(), src, "ftp://host/stats.csv")
	require.Error(t, err)

	_, err = Export(context.Background(), src, "s3:///key.csv")
	require.Error(t, err)
}

func TestExportMissingSource(t *testing.T) {
	_, err := Export(context.Background(), filepath.Join(t.TempDir(), "none.csv"), t.TempDir())
	require.Error(t, err)
}

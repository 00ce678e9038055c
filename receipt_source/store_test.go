/***************************************************************
 *
 * Copyright (C) 2026, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package receipt_source

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	headErr error
	getErr  error

	// When set, HEAD reports contentLength and GET streams body.
	contentLength int64
	body          io.Reader
}

// endlessReader yields bytes forever and counts how many were consumed.
type endlessReader struct {
	read int64
}

func (r *endlessReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'x'
	}
	r.read += int64(len(p))
	return len(p), nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	etag := `"etag-1"`
	version := "version-1"
	out := &s3.HeadObjectOutput{ETag: &etag, VersionId: &version}
	if f.contentLength > 0 {
		out.ContentLength = &f.contentLength
	}
	return out, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	etag := `"etag-1"`
	if f.body != nil {
		return &s3.GetObjectOutput{ETag: &etag, Body: io.NopCloser(f.body)}, nil
	}
	return &s3.GetObjectOutput{ETag: &etag, Body: io.NopCloser(strings.NewReader(`{"Cuil":"20123456789"}`))}, nil
}

func http404() error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusNotFound}},
			Err:      errors.New("NotFound"),
		},
	}
}

func TestS3StoreClassifiesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ObjectOutcome
	}{
		{"no such key", &types.NoSuchKey{}, ObjectNotFound},
		{"not found", &types.NotFound{}, ObjectNotFound},
		{"bare 404", http404(), ObjectNotFound},
		{"wrapped no such key", errors.Wrap(&types.NoSuchKey{}, "get"), ObjectNotFound},
		{"access denied", errors.New("AccessDenied: forbidden"), ObjectFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := &S3Store{client: &fakeS3{headErr: tc.err, getErr: tc.err}, bucket: "recibos"}
			assert.Equal(t, tc.want, store.Head(context.Background(), "k").Outcome)
			assert.Equal(t, tc.want, store.Get(context.Background(), "k").Outcome)
		})
	}
}

func TestS3StoreReadsObject(t *testing.T) {
	store := &S3Store{client: &fakeS3{}, bucket: "recibos"}

	head := store.Head(context.Background(), "k")
	require.Equal(t, ObjectFound, head.Outcome)
	assert.Equal(t, `"etag-1"`, head.ETag)
	assert.Equal(t, "version-1", head.VersionID)

	get := store.Get(context.Background(), "k")
	require.Equal(t, ObjectFound, get.Outcome)
	assert.Equal(t, `{"Cuil":"20123456789"}`, string(get.Body))
	assert.Empty(t, get.VersionID)
}

func TestS3StoreSizeLimit(t *testing.T) {
	const limit = 1 << 20

	t.Run("body-read-stops-past-limit", func(t *testing.T) {
		body := &endlessReader{}
		store := &S3Store{client: &fakeS3{body: body}, bucket: "recibos", maxBytes: limit}

		get := store.Get(context.Background(), "k")
		require.Equal(t, ObjectFailed, get.Outcome)
		assert.ErrorIs(t, get.Err, ErrPayloadTooLarge)
		assert.Nil(t, get.Body)
		assert.LessOrEqual(t, body.read, int64(limit+1)+32*1024, "only the limit plus one read buffer may be consumed")
	})

	t.Run("head-rejects-declared-size", func(t *testing.T) {
		store := &S3Store{client: &fakeS3{contentLength: limit + 1}, bucket: "recibos", maxBytes: limit}
		head := store.Head(context.Background(), "k")
		require.Equal(t, ObjectFailed, head.Outcome)
		assert.ErrorIs(t, head.Err, ErrPayloadTooLarge)
	})

	t.Run("object-at-limit", func(t *testing.T) {
		store := &S3Store{client: &fakeS3{contentLength: 4, body: strings.NewReader("abcd")}, bucket: "recibos", maxBytes: 4}
		require.Equal(t, ObjectFound, store.Head(context.Background(), "k").Outcome)
		get := store.Get(context.Background(), "k")
		require.Equal(t, ObjectFound, get.Outcome)
		assert.Equal(t, "abcd", string(get.Body))
	})
}

func TestDirectoryStore(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/data/202601", 0755))
	require.NoError(t, afero.WriteFile(fs, "/data/202601/Personal_20123456789_202601.json", []byte(`{"a":1}`), 0644))
	require.NoError(t, afero.WriteFile(fs, "/secret.json", []byte(`{}`), 0644))
	mtime := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	require.NoError(t, fs.Chtimes("/data/202601/Personal_20123456789_202601.json", mtime, mtime))

	store := NewDirectoryStore(fs, "/data")
	ctx := context.Background()

	head := store.Head(ctx, "202601/Personal_20123456789_202601.json")
	require.Equal(t, ObjectFound, head.Outcome)
	assert.NotEmpty(t, NormalizeETag(head.ETag))

	get := store.Get(ctx, "202601/Personal_20123456789_202601.json")
	require.Equal(t, ObjectFound, get.Outcome)
	assert.Equal(t, `{"a":1}`, string(get.Body))
	assert.Equal(t, head.ETag, get.ETag)

	assert.Equal(t, ObjectNotFound, store.Head(ctx, "202601/missing.json").Outcome)
	assert.Equal(t, ObjectNotFound, store.Head(ctx, "202601").Outcome, "directories are not objects")
	assert.Equal(t, ObjectNotFound, store.Head(ctx, "../secret.json").Outcome, "keys cannot escape the root")
}

func TestDirectoryStoreWithAdapter(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/2026-01/Personal_20123456789_2026-01.json", []byte(`{}`), 0644))
	cfg := enabledConfig()
	cfg.Bucket = "/data"

	adapter := NewAdapter(cfg, NewDirectoryStore(fs, "/data"))
	res, err := adapter.FetchPeriod(context.Background(), FetchRequest{Identity: "20123456789", Year: 2026, Month: 1})
	require.NoError(t, err)
	require.Equal(t, StatusDownloaded, res.Status)

	again, err := adapter.FetchPeriod(context.Background(), FetchRequest{
		Identity:  "20123456789",
		Year:      2026,
		Month:     1,
		KnownETag: res.ETag,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusNotModified, again.Status)
}

package s3

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecshard/blobstore"
)

type mockClient struct {
	mock.Mock
}

func reply[T any](args mock.Arguments) (*T, error) {
	out, _ := args.Get(0).(*T)
	return out, args.Error(1)
}

func (m *mockClient) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return reply[s3.PutObjectOutput](m.Called(ctx, in))
}

func (m *mockClient) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return reply[s3.UploadPartOutput](m.Called(ctx, in))
}

func (m *mockClient) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return reply[s3.CreateMultipartUploadOutput](m.Called(ctx, in))
}

func (m *mockClient) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return reply[s3.CompleteMultipartUploadOutput](m.Called(ctx, in))
}

func (m *mockClient) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return reply[s3.AbortMultipartUploadOutput](m.Called(ctx, in))
}

func (m *mockClient) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return reply[s3.ListObjectsV2Output](m.Called(ctx, in))
}

func (m *mockClient) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return reply[s3.GetObjectOutput](m.Called(ctx, in))
}

func (m *mockClient) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	return reply[s3.DeleteObjectOutput](m.Called(ctx, in))
}

func newTestStore() (*Store, *mockClient) {
	client := new(mockClient)
	return NewStore(client, "indexes", WithPrefix("/tenant/")), client
}

func TestStore_Put(t *testing.T) {
	store, client := newTestStore()

	var (
		body  string
		input *s3.PutObjectInput
	)
	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Bucket) == "indexes" && aws.ToString(in.Key) == "tenant/base/MANIFEST.json"
	})).Run(func(args mock.Arguments) {
		input = args.Get(1).(*s3.PutObjectInput)
		data, _ := io.ReadAll(input.Body)
		body = string(data)
	}).Return(&s3.PutObjectOutput{}, nil).Once()

	require.NoError(t, store.Put(context.Background(), "base/MANIFEST.json", strings.NewReader("{}"), 2))
	assert.Equal(t, "{}", body)
	assert.Equal(t, "application/json", aws.ToString(input.ContentType))
	assert.Equal(t, int64(2), aws.ToInt64(input.ContentLength))
	assert.Equal(t, types.ChecksumAlgorithmCrc32c, input.ChecksumAlgorithm)
	client.AssertExpectations(t)
}

func TestStore_Open(t *testing.T) {
	store, client := newTestStore()

	t.Run("missing", func(t *testing.T) {
		client.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
			return aws.ToString(in.Key) == "tenant/base/segments/seg-1-1.vsx"
		})).Return(nil, &types.NoSuchKey{}).Once()

		_, err := store.Open(context.Background(), "base/segments/seg-1-1.vsx")
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})

	t.Run("found", func(t *testing.T) {
		client.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
			return aws.ToString(in.Key) == "tenant/base/MANIFEST.json"
		})).Return(&s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("{}"))}, nil).Once()

		r, err := store.Open(context.Background(), "base/MANIFEST.json")
		require.NoError(t, err)
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, "{}", string(data))
	})
}

func TestStore_Delete(t *testing.T) {
	store, client := newTestStore()

	client.On("DeleteObject", mock.Anything, mock.MatchedBy(func(in *s3.DeleteObjectInput) bool {
		return aws.ToString(in.Key) == "tenant/base/segments/old.vsx"
	})).Return(&s3.DeleteObjectOutput{}, nil).Once()
	client.On("DeleteObject", mock.Anything, mock.MatchedBy(func(in *s3.DeleteObjectInput) bool {
		return aws.ToString(in.Key) == "tenant/base/segments/gone.vsx"
	})).Return(nil, &types.NotFound{}).Once()

	assert.NoError(t, store.Delete(context.Background(), "base/segments/old.vsx"))
	assert.NoError(t, store.Delete(context.Background(), "base/segments/gone.vsx"))
	client.AssertExpectations(t)
}

func TestStore_List(t *testing.T) {
	store, client := newTestStore()

	client.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return aws.ToString(in.Bucket) == "indexes" && aws.ToString(in.Prefix) == "tenant/base/"
	})).Return(&s3.ListObjectsV2Output{
		Contents: []types.Object{
			{Key: aws.String("tenant/base/segments/seg-1-1.vsx")},
			{Key: aws.String("tenant/base/MANIFEST.json")},
		},
	}, nil).Once()

	names, err := store.List(context.Background(), "base/")
	require.NoError(t, err)
	assert.Equal(t, []string{"base/MANIFEST.json", "base/segments/seg-1-1.vsx"}, names)
}

package utils

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	f.body, _ = io.ReadAll(params.Body)
	return &s3.PutObjectOutput{}, f.err
}

func TestR2ArchiveUploadsPayload(t *testing.T) {
	putter := &fakePutter{}
	archive := &R2Archive{Client: putter, Bucket: "callbacks"}

	err := archive.Archive(context.Background(), "mpesa/callbacks/x.json", []byte(`{"ok":true}`))
	require.NoError(t, err)

	assert.Equal(t, "callbacks", *putter.input.Bucket)
	assert.Equal(t, "mpesa/callbacks/x.json", *putter.input.Key)
	assert.Equal(t, `{"ok":true}`, string(putter.body))
}

func TestR2ArchiveWrapsErrors(t *testing.T) {
	archive := &R2Archive{Client: &fakePutter{err: errors.New("boom")}, Bucket: "callbacks"}
	err := archive.Archive(context.Background(), "k", []byte("{}"))
	assert.ErrorContains(t, err, "boom")
}

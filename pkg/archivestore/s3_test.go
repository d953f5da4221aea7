package archivestore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// s3ResponseError builds the error shape the SDK surfaces for an HTTP
// response with the given status.
func s3ResponseError(status int) error {
	return fmt.Errorf("operation error S3: PutObject, %w", &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{
				Response: &http.Response{StatusCode: status},
			},
			Err: errors.New("api error"),
		},
		RequestID: "test-request-id",
	})
}

func TestNewS3Client_Validation(t *testing.T) {
	logger := zerolog.Nop()
	ctx := context.Background()

	_, err := NewS3Client(ctx, "", &S3BackendConfig{Region: "eu-west-1"}, logger)
	require.Error(t, err)

	_, err = NewS3Client(ctx, "archive-bucket", nil, logger)
	require.Error(t, err)
}

func TestNewS3Client_EncodesTagging(t *testing.T) {
	logger := zerolog.Nop()
	cfg := &S3BackendConfig{
		Region: "eu-west-1",
		Tags:   map[string]string{"team": "archival", "env": "prod"},
	}

	client, err := NewS3Client(context.Background(), "archive-bucket", cfg, logger)
	require.NoError(t, err)

	require.NotNil(t, client.tagging)
	assert.Equal(t, "env=prod&team=archival", *client.tagging,
		"tags must be URL encoded with stable key order")
}

func TestNewS3Client_NoTagsMeansNoTagging(t *testing.T) {
	logger := zerolog.Nop()
	cfg := &S3BackendConfig{Region: "eu-west-1"}

	client, err := NewS3Client(context.Background(), "archive-bucket", cfg, logger)
	require.NoError(t, err)

	assert.Nil(t, client.tagging)
}

func TestS3Client_Retryable(t *testing.T) {
	logger := zerolog.Nop()
	client, err := NewS3Client(context.Background(), "archive-bucket", &S3BackendConfig{Region: "eu-west-1"}, logger)
	require.NoError(t, err)

	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"cancelled context", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"internal server error", s3ResponseError(500), true},
		{"service unavailable", s3ResponseError(503), true},
		{"slow down", s3ResponseError(429), true},
		{"request timeout", s3ResponseError(408), true},
		{"access denied", s3ResponseError(403), false},
		{"no such bucket", s3ResponseError(404), false},
		{
			"server fault without response",
			&smithy.GenericAPIError{Code: "InternalError", Message: "please retry", Fault: smithy.FaultServer},
			true,
		},
		{
			"client fault without response",
			&smithy.GenericAPIError{Code: "InvalidRequest", Message: "bad input", Fault: smithy.FaultClient},
			false,
		},
		{"bare network error", errors.New("connection refused"), true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, client.Retryable(tc.err))
		})
	}
}

package blob

import (
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/pliu/nwitter/internal/apperr"
	"github.com/stretchr/testify/assert"
)

func minioError(code string, status int) error {
	return minio.ErrorResponse{Code: code, StatusCode: status, Message: code}
}

func TestS3ErrorClassification(t *testing.T) {
	notFound := minioError("NoSuchKey", http.StatusNotFound)
	assert.True(t, apperr.IsNotFound(s3Error("op", notFound)))
	assert.True(t, apperr.IsTransient(s3Error("op", minioError("InternalError", http.StatusInternalServerError))))
	assert.Equal(t, apperr.Fatal, apperr.KindOf(s3Error("op", minioError("AccessDenied", http.StatusForbidden))))
	assert.NoError(t, s3Error("op", nil))
}

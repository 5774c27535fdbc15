package postmortem

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-faultcore/internal/testutil"
	"github.com/StricklySoft/stricklysoft-faultcore/internal/testutil/fixtures"
	kerr "github.com/StricklySoft/stricklysoft-faultcore/pkg/errors"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/models"
)

// ===========================================================================
// Mock Implementation
// ===========================================================================

type mockObjectStore struct {
	mock.Mock
}

func (m *mockObjectStore) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	args := m.Called(ctx, bucketName, objectName, reader, objectSize, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func (m *mockObjectStore) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	args := m.Called(ctx, bucketName, objectName, opts)
	return args.Get(0).(minio.ObjectInfo), args.Error(1)
}

func (m *mockObjectStore) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	args := m.Called(ctx, bucketName)
	return args.Bool(0), args.Error(1)
}

func (m *mockObjectStore) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	return m.Called(ctx, bucketName, opts).Error(0)
}

// ===========================================================================
// EnsureBucket
// ===========================================================================

func TestObjectSink_EnsureBucket_Exists(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	s := NewObjectSinkFromStore(m, "crash", DefaultPrefix)

	m.On("BucketExists", mock.Anything, "crash").Return(true, nil).Once()

	require.NoError(t, s.EnsureBucket(context.Background()))
	m.AssertNotCalled(t, "MakeBucket", mock.Anything, mock.Anything, mock.Anything)
}

func TestObjectSink_EnsureBucket_Creates(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	s := NewObjectSinkFromStore(m, "", DefaultPrefix)

	m.On("BucketExists", mock.Anything, DefaultBucket).Return(false, nil).Once()
	m.On("MakeBucket", mock.Anything, DefaultBucket, mock.Anything).Return(nil).Once()

	require.NoError(t, s.EnsureBucket(context.Background()))
	m.AssertExpectations(t)
}

func TestObjectSink_EnsureBucket_Error(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	s := NewObjectSinkFromStore(m, "crash", DefaultPrefix)

	m.On("BucketExists", mock.Anything, "crash").Return(false, errors.New("access denied")).Once()

	testutil.RequireErrorCode(t, s.EnsureBucket(context.Background()), kerr.CodeFileIO)
}

func TestNewObjectSink_InvalidConfig(t *testing.T) {
	t.Parallel()
	_, err := NewObjectSink(context.Background(), ObjectConfig{})
	testutil.RequireErrorCode(t, err, kerr.CodeInvalidParam)
}

// ===========================================================================
// Record
// ===========================================================================

func TestObjectSink_Record(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	s := NewObjectSinkFromStore(m, "crash", "incidents/")
	inc := fixtures.HaltedIncident()

	var body []byte
	var opts minio.PutObjectOptions
	m.On("PutObject", mock.Anything, "crash", "incidents/"+inc.ID+".json", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			var err error
			body, err = io.ReadAll(args.Get(3).(io.Reader))
			require.NoError(t, err)
			assert.Equal(t, int64(len(body)), args.Get(4).(int64))
			opts = args.Get(5).(minio.PutObjectOptions)
		}).
		Return(minio.UploadInfo{}, nil).Once()

	require.NoError(t, s.Record(context.Background(), inc))

	var decoded models.Incident
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, inc.ID, decoded.ID)
	assert.Equal(t, models.IncidentHardHalt, decoded.Outcome)
	assert.Equal(t, "application/json", opts.ContentType)
	assert.Equal(t, "MEM_001", opts.UserMetadata["code"])
	assert.Equal(t, "hard_halt", opts.UserMetadata["outcome"])
}

func TestObjectSink_Record_Error(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	s := NewObjectSinkFromStore(m, "crash", "incidents/")

	m.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{}, context.Canceled).Once()

	err := s.Record(context.Background(), fixtures.ResolvedIncident())
	testutil.RequireErrorCode(t, err, kerr.CodeCanceled)
}

func TestObjectSink_Record_Invalid(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	s := NewObjectSinkFromStore(m, "crash", "incidents/")

	testutil.RequireErrorCode(t, s.Record(context.Background(), nil), kerr.CodeInvalidParam)
	m.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// ===========================================================================
// Exists
// ===========================================================================

func TestObjectSink_Exists(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	s := NewObjectSinkFromStore(m, "crash", "incidents/")

	m.On("StatObject", mock.Anything, "crash", "incidents/present.json", mock.Anything).
		Return(minio.ObjectInfo{Key: "incidents/present.json"}, nil).Once()
	m.On("StatObject", mock.Anything, "crash", "incidents/absent.json", mock.Anything).
		Return(minio.ObjectInfo{}, minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}).Once()
	m.On("StatObject", mock.Anything, "crash", "incidents/broken.json", mock.Anything).
		Return(minio.ObjectInfo{}, errors.New("internal error")).Once()

	ok, err := s.Exists(context.Background(), "present")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Exists(context.Background(), "broken")
	testutil.RequireErrorCode(t, err, kerr.CodeFileIO)
}

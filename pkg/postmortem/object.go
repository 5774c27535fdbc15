package postmortem

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	kerr "github.com/StricklySoft/stricklysoft-faultcore/pkg/errors"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/models"
)

// ObjectStore is the subset of the minio-go API the object sink uses.
// It is satisfied by [*minio.Client].
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

var _ ObjectStore = (*minio.Client)(nil)

// ObjectSink writes each incident as a standalone JSON object named
// <prefix><incident id>.json. Objects are never overwritten by a later
// incident because ids are unique.
type ObjectSink struct {
	store  ObjectStore
	bucket string
	prefix string
	region string
	tracer trace.Tracer
}

// NewObjectSink validates cfg, creates a client and makes sure the
// bucket exists.
func NewObjectSink(ctx context.Context, cfg ObjectConfig) (*ObjectSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, kerr.Wrap(err, kerr.CodeInvalidParam, "postmortem: invalid object configuration")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey.Value(), ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeFileIO, "postmortem: failed to create object client")
	}

	s := NewObjectSinkFromStore(client, cfg.Bucket, cfg.Prefix)
	s.region = cfg.Region
	if err := s.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// NewObjectSinkFromStore wraps an existing store without touching the
// network.
func NewObjectSinkFromStore(store ObjectStore, bucket, prefix string) *ObjectSink {
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &ObjectSink{
		store:  store,
		bucket: bucket,
		prefix: prefix,
		tracer: otel.Tracer(tracerName),
	}
}

// EnsureBucket creates the bucket if it does not already exist.
func (s *ObjectSink) EnsureBucket(ctx context.Context) error {
	ctx, span := startSpan(ctx, s.tracer, "postmortem.object.EnsureBucket", "minio",
		"BUCKET "+s.bucket)
	ok, err := s.store.BucketExists(ctx, s.bucket)
	if err == nil && !ok {
		err = s.store.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	}
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "postmortem: failed to prepare bucket")
	}
	return nil
}

// ObjectName returns the object an incident with the given id is stored
// under.
func (s *ObjectSink) ObjectName(id string) string {
	return s.prefix + id + ".json"
}

// Record uploads inc as an indented JSON document.
func (s *ObjectSink) Record(ctx context.Context, inc *models.Incident) error {
	if err := checkIncident(inc); err != nil {
		return err
	}
	body, err := json.MarshalIndent(inc, "", "  ")
	if err != nil {
		return kerr.Wrap(err, kerr.CodeInvalidParam, "postmortem: failed to encode incident")
	}

	name := s.ObjectName(inc.ID)
	ctx, span := startSpan(ctx, s.tracer, "postmortem.object.Record", "minio",
		fmt.Sprintf("PUT %s/%s", s.bucket, name))
	_, err = s.store.PutObject(ctx, s.bucket, name, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{
			ContentType: "application/json",
			UserMetadata: map[string]string{
				"code":    inc.Code,
				"outcome": inc.Outcome.String(),
			},
		})
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "postmortem: object write failed")
	}
	return nil
}

// Exists reports whether a record for id has been written.
func (s *ObjectSink) Exists(ctx context.Context, id string) (bool, error) {
	name := s.ObjectName(id)
	ctx, span := startSpan(ctx, s.tracer, "postmortem.object.Exists", "minio",
		fmt.Sprintf("STAT %s/%s", s.bucket, name))
	_, err := s.store.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code == "NoSuchKey" {
		finishSpan(span, nil)
		return false, nil
	}
	finishSpan(span, err)
	if err != nil {
		return false, wrapError(err, "postmortem: object stat failed")
	}
	return true, nil
}

// Close is a no-op; the object client holds no connections of its own.
func (s *ObjectSink) Close() error { return nil }

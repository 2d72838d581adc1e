package archive

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	geojson "github.com/paulmach/go.geojson"
	"github.com/stretchr/testify/require"

	"example.com/territory/internal/domain"
	"example.com/territory/internal/geometry"
)

type stubPutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (s *stubPutter) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	s.input = params
	if params.Body != nil {
		s.body, _ = io.ReadAll(params.Body)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &s3.PutObjectOutput{}, nil
}

func sampleWalk() domain.WalkSession {
	ring := []geometry.Point{{126.978, 37.5665}, {126.979, 37.5665}, {126.979, 37.5673}, {126.978, 37.5665}}
	return domain.WalkSession{
		ID:           "walk-1",
		UserID:       "user-1",
		RoomID:       "room-1",
		ActivityType: domain.ActivityRunning,
		StartedAt:    time.Date(2024, 3, 9, 23, 50, 0, 0, time.UTC),
		EndedAt:      time.Date(2024, 3, 10, 0, 20, 0, 0, time.UTC),
		DurationSec:  1800,
		Track:        ring[:3],
		Polygon:      ring,
		AreaM2:       3900,
		DistanceM:    2500,
		PointsCount:  3,
		Status:       domain.WalkCompleted,
	}
}

func TestArchiveWritesFeatureCollection(t *testing.T) {
	putter := &stubPutter{}
	archiver := &S3Archiver{client: putter, bucket: "tracks"}

	require.NoError(t, archiver.Archive(context.Background(), sampleWalk()))

	require.Equal(t, "tracks", aws.ToString(putter.input.Bucket))
	require.Equal(t, "walks/user-1/2024/03/walk-1.geojson", aws.ToString(putter.input.Key))
	require.Equal(t, contentType, aws.ToString(putter.input.ContentType))
	require.Equal(t, "room-1", putter.input.Metadata["room-id"])

	fc, err := geojson.UnmarshalFeatureCollection(putter.body)
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)
	require.True(t, fc.Features[0].Geometry.IsLineString())
	require.Equal(t, "track", fc.Features[0].Properties["kind"])
	require.Equal(t, "running", fc.Features[0].Properties["activityType"])
	require.True(t, fc.Features[1].Geometry.IsPolygon())
}

func TestArchiveWithoutLoopHasSingleFeature(t *testing.T) {
	walk := sampleWalk()
	walk.Polygon = nil

	body, err := Encode(walk)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(body)
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
}

func TestArchiveWrapsPutErrors(t *testing.T) {
	archiver := &S3Archiver{client: &stubPutter{err: errors.New("denied")}, bucket: "tracks"}
	err := archiver.Archive(context.Background(), sampleWalk())
	require.ErrorContains(t, err, "put walk walk-1")
}

func TestNewS3ArchiverTargetsBucket(t *testing.T) {
	archiver := NewS3Archiver(Config{Bucket: "tracks", Endpoint: "http://minio:9000", Region: "us-east-1", AccessKeyID: "k", SecretAccessKey: "s"})
	require.Equal(t, "tracks", archiver.bucket)
	_, ok := archiver.client.(*s3.Client)
	require.True(t, ok)
}

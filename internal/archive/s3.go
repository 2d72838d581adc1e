// Package archive copies completed walks to S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"example.com/territory/internal/domain"
	"example.com/territory/internal/geometry"
)

const contentType = "application/geo+json"

// Config describes the archive bucket.
type Config struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes one GeoJSON FeatureCollection per walk.
type S3Archiver struct {
	client objectPutter
	bucket string
}

// NewS3Archiver builds a client for cfg. An empty endpoint targets AWS.
func NewS3Archiver(cfg Config) *S3Archiver {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		UsePathStyle: cfg.Endpoint != "",
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return &S3Archiver{client: s3.New(opts), bucket: cfg.Bucket}
}

// Archive implements domain.Archiver.
func (a *S3Archiver) Archive(ctx context.Context, session domain.WalkSession) error {
	body, err := Encode(session)
	if err != nil {
		return err
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(ObjectKey(session)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"walk-id": session.ID,
			"user-id": session.UserID,
			"room-id": session.RoomID,
		},
	})
	if err != nil {
		return fmt.Errorf("put walk %s: %w", session.ID, err)
	}
	return nil
}

// ObjectKey partitions archived walks by user and month of the walk's start.
func ObjectKey(session domain.WalkSession) string {
	started := session.StartedAt.UTC()
	return fmt.Sprintf("walks/%s/%04d/%02d/%s.geojson", session.UserID, started.Year(), int(started.Month()), session.ID)
}

// Encode renders the walk as a FeatureCollection with its metrics on the track feature.
func Encode(session domain.WalkSession) ([]byte, error) {
	fc := geometry.FeatureCollection(session.Track, session.Polygon, map[string]interface{}{
		"walkId":       session.ID,
		"userId":       session.UserID,
		"roomId":       session.RoomID,
		"activityType": string(session.ActivityType),
		"status":       string(session.Status),
		"startedAt":    session.StartedAt.UTC().Format(time.RFC3339),
		"endedAt":      session.EndedAt.UTC().Format(time.RFC3339),
		"durationSec":  session.DurationSec,
		"distanceM":    session.DistanceM,
		"areaM2":       session.AreaM2,
		"avgSpeedMps":  session.AvgSpeedMps,
		"maxSpeedMps":  session.MaxSpeedMps,
		"pointsCount":  session.PointsCount,
	})
	return json.Marshal(fc)
}

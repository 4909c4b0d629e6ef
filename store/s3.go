package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/google/uuid"

	"github.com/giuliop/ceremony/log"
)

const stagingFolder = ".staging"

// S3Store keeps artifacts as objects under a prefix of a bucket. Staged
// objects live under a hidden staging folder and are copied into place.
type S3Store struct {
	client s3iface.S3API
	upload *s3manager.Uploader
	bucket string
	prefix string
	log    log.Logger
}

// NewS3Store opens a store on bucket/prefix in region, with credentials
// from the environment.
func NewS3Store(region, bucket, prefix string) (*S3Store, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("error creating aws session: %v", err)
	}
	return NewS3StoreWithClient(s3.New(sess), bucket, prefix), nil
}

// NewS3StoreWithClient uses an existing S3 client.
func NewS3StoreWithClient(client s3iface.S3API, bucket, prefix string) *S3Store {
	return &S3Store{
		client: client,
		upload: s3manager.NewUploaderWithClient(client),
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		log:    log.DefaultLogger().Named("store"),
	}
}

func (s *S3Store) SetLogger(l log.Logger) {
	s.log = l
}

func (s *S3Store) key(name string) string {
	return path.Join(s.prefix, name)
}

func (s *S3Store) Get(ctx context.Context, name string) ([]byte, error) {
	if err := CheckName(name); err != nil {
		return nil, err
	}
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3Store) Exists(ctx context.Context, name string) (bool, error) {
	if err := CheckName(name); err != nil {
		return false, err
	}
	return s.exists(ctx, s.key(name))
}

func (s *S3Store) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

func (s *S3Store) Stage(ctx context.Context, name string, data []byte) (Staged, error) {
	if err := CheckName(name); err != nil {
		return Staged{}, err
	}
	temp := path.Join(stagingFolder, name+"."+uuid.NewString())
	_, err := s.upload.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(temp)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return Staged{}, err
	}
	return Staged{Name: name, Temp: temp}, nil
}

// Promote checks the name is free before copying. S3 has no conditional
// copy, so two concurrent promotions of the same name are not detected;
// callers serialize writes per ceremony.
func (s *S3Store) Promote(ctx context.Context, st Staged) error {
	ok, err := s.Exists(ctx, st.Name)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: %s", ErrExists, st.Name)
	}
	return s.Replace(ctx, st)
}

func (s *S3Store) Replace(ctx context.Context, st Staged) error {
	if err := CheckName(st.Name); err != nil {
		return err
	}
	_, err := s.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		CopySource: aws.String(path.Join(s.bucket, s.key(st.Temp))),
		Key:        aws.String(s.key(st.Name)),
	})
	if err != nil {
		return err
	}
	// the object is in place, a staging leftover does not undo that
	if err := s.Discard(ctx, st); err != nil {
		s.log.Warnw("error removing staged object", "name", st.Name, "temp", st.Temp, "err", err)
	}
	return nil
}

func (s *S3Store) Discard(ctx context.Context, st Staged) error {
	if st.Temp == "" {
		return nil
	}
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(st.Temp)),
	})
	return err
}

func (s *S3Store) Delete(ctx context.Context, name string) error {
	ok, err := s.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	_, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	return err
}

func (s *S3Store) List(ctx context.Context) ([]string, error) {
	prefix := s.prefix
	if prefix != "" {
		prefix += "/"
	}
	var names []string
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			names = append(names, strings.TrimPrefix(aws.StringValue(obj.Key), prefix))
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
		return true
	}
	return false
}

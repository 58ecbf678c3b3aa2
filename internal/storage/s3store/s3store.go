// Package s3store implements a destination on Amazon S3 (or an endpoint
// override) through aws-sdk-go. Transfers go through s3manager, which
// switches to multipart above the part size so objects past the single-PUT
// limit still upload.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"nightshift/internal/config"
	"nightshift/internal/services"
	"nightshift/internal/storage"
)

const defaultRegion = "us-east-1"

// Store is one bucket/prefix on S3.
type Store struct {
	svc        *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	bucket     string
	prefix string
	quota  int64
}

// New builds a Store for dest. An endpoint switches to path-style
// addressing for S3-compatible servers.
func New(dest config.Destination) (*Store, error) {
	region := dest.Region
	if region == "" {
		region = defaultRegion
	}
	awsCfg := &aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.NewStaticCredentials(dest.AccessKey, dest.SecretKey, ""),
		MaxRetries:  aws.Int(2),
	}
	if dest.Endpoint != "" {
		endpoint := dest.Endpoint
		if !strings.Contains(endpoint, "://") {
			scheme := "http://"
			if dest.UseSSL {
				scheme = "https://"
			}
			endpoint = scheme + endpoint
		}
		awsCfg.Endpoint = aws.String(endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "s3store", "new", dest.Bucket, err)
	}
	svc := s3.New(sess)
	return &Store{
		svc:        svc,
		uploader:   s3manager.NewUploaderWithClient(svc),
		downloader: s3manager.NewDownloaderWithClient(svc),
		bucket:     dest.Bucket,
		prefix:     dest.Prefix,
		quota:      dest.QuotaBytes(),
	}, nil
}

func (s *Store) CreateOrGetFolder(ctx context.Context, segments []string) (string, error) {
	id := storage.ObjectKey(segments...)
	_, err := s.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(storage.ObjectKey(s.prefix, id) + "/"),
		Body:        bytes.NewReader(nil),
		ContentType: aws.String("application/x-directory"),
	})
	if err != nil {
		return "", classify("create folder", err)
	}
	return id, nil
}

func (s *Store) UploadOrReplace(ctx context.Context, localPath, folderID, remoteName string) (storage.UploadResult, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return storage.UploadResult{}, services.Wrap(services.ErrInvalidSource, "s3store", "upload", localPath, err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return storage.UploadResult{}, services.Wrap(services.ErrInvalidSource, "s3store", "upload", localPath, err)
	}

	key := storage.ObjectKey(s.prefix, folderID, remoteName)
	out, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return storage.UploadResult{}, classify("upload", err)
	}
	return storage.UploadResult{
		RemoteID: s.bucket + "/" + key,
		Size:     info.Size(),
		Checksum: aws.StringValue(out.ETag),
	}, nil
}

// Download fetches remoteID ("bucket/key") into localPath with ranged GETs.
func (s *Store) Download(ctx context.Context, remoteID, localPath string) (int64, error) {
	key, ok := strings.CutPrefix(remoteID, s.bucket+"/")
	if !ok || key == "" {
		return 0, services.Wrap(services.ErrInvalidSource, "s3store", "download",
			fmt.Sprintf("remote id %q is not in bucket %s", remoteID, s.bucket), nil)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return 0, services.Wrap(services.ErrTransientIO, "s3store", "download", localPath, err)
	}
	file, err := os.Create(localPath)
	if err != nil {
		return 0, services.Wrap(services.ErrTransientIO, "s3store", "download", localPath, err)
	}
	n, err := s.downloader.DownloadWithContext(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(localPath)
		return 0, classify("download", err)
	}
	return n, nil
}

func (s *Store) QueryCapacity(ctx context.Context) (storage.Capacity, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket)}
	if s.prefix != "" {
		input.Prefix = aws.String(s.prefix + "/")
	}
	var used int64
	err := s.svc.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			used += aws.Int64Value(obj.Size)
		}
		return true
	})
	if err != nil {
		return storage.Capacity{}, classify("capacity", err)
	}
	return storage.Capacity{CapacityBytes: s.quota, UsedBytes: used}, nil
}

func classify(operation string, err error) error {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case "QuotaExceeded", "ServiceQuotaExceededException":
			return services.Wrap(services.ErrCapacityExhausted, "s3store", operation, aerr.Code(), err)
		case "EntityTooLarge":
			// The object exceeds the provider's size limit; free space elsewhere
			// does not help.
			return services.Wrap(services.ErrInvalidSource, "s3store", operation, "object exceeds the provider size limit", err)
		case s3.ErrCodeNoSuchKey, "NotFound":
			return services.Wrap(services.ErrInvalidSource, "s3store", operation, aerr.Code(), err)
		}
		return services.Wrap(services.ErrTransientIO, "s3store", operation, aerr.Code(), err)
	}
	return services.Wrap(services.ErrTransientIO, "s3store", operation, "", err)
}

var _ storage.Client = (*Store)(nil)

// Package miniostore implements a destination on any S3-compatible server
// (MinIO, Garage, Ceph RGW, Backblaze B2) through minio-go.
//
// Capacity is the configured quota; usage is the total size of objects under
// the destination prefix, listed once per run.
package miniostore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"nightshift/internal/config"
	"nightshift/internal/services"
	"nightshift/internal/storage"
)

// singlePartLimit keeps uploads below this size in one PUT so the ETag is
// the object's MD5.
const singlePartLimit = 512 << 20

// Store is one bucket/prefix on an S3-compatible server.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
	quota  int64
}

// New connects a Store for dest. No request is made until first use.
func New(dest config.Destination) (*Store, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	client, err := minio.New(dest.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(dest.AccessKey, dest.SecretKey, ""),
		Secure:       dest.UseSSL,
		Transport:    transport,
		Region:       dest.Region,
		BucketLookup: minio.BucketLookupAuto,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "miniostore", "new", dest.Endpoint, err)
	}
	return &Store{client: client, bucket: dest.Bucket, prefix: dest.Prefix, quota: dest.QuotaBytes()}, nil
}

// CreateOrGetFolder writes a zero-byte "folder/" marker so the layout is
// visible in object browsers. Re-putting the marker is harmless.
func (s *Store) CreateOrGetFolder(ctx context.Context, segments []string) (string, error) {
	id := storage.ObjectKey(segments...)
	marker := storage.ObjectKey(s.prefix, id) + "/"
	_, err := s.client.PutObject(ctx, s.bucket, marker, bytes.NewReader(nil), 0, minio.PutObjectOptions{
		ContentType: "application/x-directory",
	})
	if err != nil {
		return "", classify("create folder", err)
	}
	return id, nil
}

func (s *Store) UploadOrReplace(ctx context.Context, localPath, folderID, remoteName string) (storage.UploadResult, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return storage.UploadResult{}, services.Wrap(services.ErrInvalidSource, "miniostore", "upload", localPath, err)
	}
	key := storage.ObjectKey(s.prefix, folderID, remoteName)
	uploaded, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		DisableMultipart: info.Size() < singlePartLimit,
		SendContentMd5:   true,
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return storage.UploadResult{}, services.Wrap(services.ErrInvalidSource, "miniostore", "upload", localPath, err)
		}
		return storage.UploadResult{}, classify("upload", err)
	}
	size := uploaded.Size
	if size == 0 {
		size = info.Size()
	}
	return storage.UploadResult{RemoteID: s.bucket + "/" + key, Size: size, Checksum: uploaded.ETag}, nil
}

// Download fetches remoteID ("bucket/key") into localPath. FGetObject writes
// through a ".part.minio" sibling and renames it into place.
func (s *Store) Download(ctx context.Context, remoteID, localPath string) (int64, error) {
	key, ok := strings.CutPrefix(remoteID, s.bucket+"/")
	if !ok || key == "" {
		return 0, services.Wrap(services.ErrInvalidSource, "miniostore", "download",
			fmt.Sprintf("remote id %q is not in bucket %s", remoteID, s.bucket), nil)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return 0, services.Wrap(services.ErrTransientIO, "miniostore", "download", localPath, err)
	}
	if err := s.client.FGetObject(ctx, s.bucket, key, localPath, minio.GetObjectOptions{}); err != nil {
		return 0, classify("download", err)
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return 0, services.Wrap(services.ErrTransientIO, "miniostore", "download", localPath, err)
	}
	return info.Size(), nil
}

func (s *Store) QueryCapacity(ctx context.Context) (storage.Capacity, error) {
	prefix := s.prefix
	if prefix != "" {
		prefix += "/"
	}
	var used int64
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return storage.Capacity{}, classify("capacity", object.Err)
		}
		used += object.Size
	}
	return storage.Capacity{CapacityBytes: s.quota, UsedBytes: used}, nil
}

func classify(operation string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "QuotaExceeded", "XMinioStorageFull", "XMinioAdminBucketQuotaExceeded":
		return services.Wrap(services.ErrCapacityExhausted, "miniostore", operation, resp.Code, err)
	case "EntityTooLarge":
		return services.Wrap(services.ErrInvalidSource, "miniostore", operation, "object exceeds the provider size limit", err)
	case "NoSuchKey", "NotFound":
		return services.Wrap(services.ErrInvalidSource, "miniostore", operation, resp.Code, err)
	}
	return services.Wrap(services.ErrTransientIO, "miniostore", operation, resp.Code, err)
}

var _ storage.Client = (*Store)(nil)

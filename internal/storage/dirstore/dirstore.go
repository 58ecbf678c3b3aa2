// Package dirstore implements a destination backed by a local or mounted
// directory, such as a USB disk or an NFS share.
package dirstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"

	"nightshift/internal/config"
	"nightshift/internal/fileutil"
	"nightshift/internal/services"
	"nightshift/internal/storage"
)

// Store writes objects below Root. Folder ids are slash-separated paths
// relative to Root.
type Store struct {
	Root  string
	Quota int64
}

// New returns a Store for a local destination.
func New(dest config.Destination) (*Store, error) {
	if dest.Path == "" {
		return nil, services.Wrap(services.ErrConfiguration, "dirstore", "new", "path is required", nil)
	}
	root := dest.Path
	if dest.Prefix != "" {
		root = filepath.Join(root, filepath.FromSlash(dest.Prefix))
	}
	return &Store{Root: root, Quota: dest.QuotaBytes()}, nil
}

func (s *Store) CreateOrGetFolder(ctx context.Context, segments []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", services.Wrap(services.ErrTransientIO, "dirstore", "create folder", "", err)
	}
	id := storage.ObjectKey(segments...)
	if err := os.MkdirAll(filepath.Join(s.Root, filepath.FromSlash(id)), 0o755); err != nil {
		return "", classify("create folder", err)
	}
	return id, nil
}

func (s *Store) UploadOrReplace(ctx context.Context, localPath, folderID, remoteName string) (storage.UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return storage.UploadResult{}, services.Wrap(services.ErrTransientIO, "dirstore", "upload", "", err)
	}
	key := storage.ObjectKey(folderID, remoteName)
	target := filepath.Join(s.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return storage.UploadResult{}, classify("upload", err)
	}
	res, err := fileutil.CopyFileVerified(localPath, target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if _, statErr := os.Stat(localPath); statErr != nil {
				return storage.UploadResult{}, services.Wrap(services.ErrInvalidSource, "dirstore", "upload", localPath, err)
			}
		}
		return storage.UploadResult{}, classify("upload", err)
	}
	return storage.UploadResult{RemoteID: key, Size: res.Size, Checksum: res.MD5}, nil
}

// Download copies the stored object back to localPath through a verified copy.
func (s *Store) Download(ctx context.Context, remoteID, localPath string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, services.Wrap(services.ErrTransientIO, "dirstore", "download", "", err)
	}
	src := filepath.Join(s.Root, filepath.FromSlash(remoteID))
	if _, err := os.Stat(src); err != nil {
		return 0, services.Wrap(services.ErrInvalidSource, "dirstore", "download", remoteID, err)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return 0, classify("download", err)
	}
	res, err := fileutil.CopyFileVerified(src, localPath)
	if err != nil {
		return 0, classify("download", err)
	}
	return res.Size, nil
}

// QueryCapacity reports the configured quota against bytes stored under
// Root. Without a quota it reports the filesystem's size and free space.
func (s *Store) QueryCapacity(ctx context.Context) (storage.Capacity, error) {
	if err := ctx.Err(); err != nil {
		return storage.Capacity{}, services.Wrap(services.ErrTransientIO, "dirstore", "capacity", "", err)
	}
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return storage.Capacity{}, classify("capacity", err)
	}
	if s.Quota > 0 {
		used, err := fileutil.DirSize(s.Root)
		if err != nil {
			return storage.Capacity{}, classify("capacity", err)
		}
		return storage.Capacity{CapacityBytes: s.Quota, UsedBytes: used}, nil
	}
	var stat unix.Statfs_t
	if err := unix.Statfs(s.Root, &stat); err != nil {
		return storage.Capacity{}, classify("capacity", err)
	}
	blockSize := int64(stat.Bsize)
	total := int64(stat.Blocks) * blockSize
	free := int64(stat.Bavail) * blockSize
	return storage.Capacity{CapacityBytes: total, UsedBytes: total - free}, nil
}

func classify(operation string, err error) error {
	switch {
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EDQUOT):
		return services.Wrap(services.ErrCapacityExhausted, "dirstore", operation, "destination full", err)
	default:
		return services.Wrap(services.ErrTransientIO, "dirstore", operation, "", err)
	}
}

var _ storage.Client = (*Store)(nil)

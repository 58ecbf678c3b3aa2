// Package storage defines the capability interface every destination
// provider implements, plus helpers shared by the providers.
package storage

import (
	"context"
	"fmt"
	"strings"

	"nightshift/internal/services"
)

// Capacity is a destination's reported size and usage.
type Capacity struct {
	CapacityBytes int64
	UsedBytes     int64
}

// Available returns capacity minus usage, never negative.
func (c Capacity) Available() int64 {
	if avail := c.CapacityBytes - c.UsedBytes; avail > 0 {
		return avail
	}
	return 0
}

// UploadResult describes a stored object as reported by the provider.
type UploadResult struct {
	RemoteID string
	Size     int64
	// Checksum is the provider's content digest (an S3 ETag or a local MD5),
	// empty when the provider reports none.
	Checksum string
}

// Client is a single destination account.
type Client interface {
	// CreateOrGetFolder ensures the folder exists and returns its id. It is
	// idempotent.
	CreateOrGetFolder(ctx context.Context, segments []string) (string, error)
	// UploadOrReplace stores localPath as remoteName inside folderID,
	// replacing any object with the same name.
	UploadOrReplace(ctx context.Context, localPath, folderID, remoteName string) (UploadResult, error)
	// QueryCapacity reports the account's capacity and current usage.
	QueryCapacity(ctx context.Context) (Capacity, error)
	// Download writes the object identified by remoteID (as returned in
	// UploadResult) to localPath, replacing it, and returns the bytes written.
	Download(ctx context.Context, remoteID, localPath string) (int64, error)
}

// Verify checks an upload result against the local size and MD5 fingerprint.
// Multipart ETags (containing '-') are not content digests, so only the size
// is compared for them.
func Verify(result UploadResult, size int64, fingerprint string) error {
	if result.Size != size {
		return services.Wrap(services.ErrTransientIO, "storage", "verify",
			fmt.Sprintf("size mismatch for %s: remote %d, local %d", result.RemoteID, result.Size, size), nil)
	}
	checksum := strings.Trim(strings.ToLower(result.Checksum), `"`)
	if checksum == "" || strings.Contains(checksum, "-") || fingerprint == "" {
		return nil
	}
	if checksum != strings.ToLower(fingerprint) {
		return services.Wrap(services.ErrTransientIO, "storage", "verify",
			fmt.Sprintf("checksum mismatch for %s: remote %s, local %s", result.RemoteID, checksum, fingerprint), nil)
	}
	return nil
}

// ObjectKey joins a key prefix, a folder id and an object name with slashes.
func ObjectKey(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.Trim(part, "/"); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return strings.Join(cleaned, "/")
}

// Package fileutil holds the verified copy and disk usage helpers used by the
// local directory destination.
package fileutil

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"nightshift/internal/fingerprint"
)

// CopyResult describes a verified copy.
type CopyResult struct {
	Size int64
	MD5  string
}

// CopyFileVerified copies src to dst through a ".partial" sibling, re-reads
// the written bytes and compares their MD5 with the source stream before
// renaming into place. An existing dst is replaced atomically. The partial
// file is removed on any failure.
func CopyFileVerified(src, dst string) (CopyResult, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return CopyResult{}, fmt.Errorf("stat source: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return CopyResult{}, err
	}
	defer in.Close()

	partial := dst + ".partial"
	out, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return CopyResult{}, err
	}
	cleanup := func() { _ = os.Remove(partial) }

	srcHasher := md5.New()
	written, err := io.Copy(out, io.TeeReader(in, srcHasher))
	if err == nil {
		err = out.Sync()
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		cleanup()
		return CopyResult{}, err
	}

	if written != srcInfo.Size() {
		cleanup()
		return CopyResult{}, fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcInfo.Size(), written)
	}

	dstSum, err := fingerprint.File(partial)
	if err != nil {
		cleanup()
		return CopyResult{}, err
	}
	srcSum := hex.EncodeToString(srcHasher.Sum(nil))
	if dstSum != srcSum {
		cleanup()
		return CopyResult{}, fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}

	if err := os.Rename(partial, dst); err != nil {
		cleanup()
		return CopyResult{}, fmt.Errorf("rename into place: %w", err)
	}
	return CopyResult{Size: written, MD5: srcSum}, nil
}

// DirSize sums the sizes of regular files under root, ignoring partial copies.
func DirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || filepath.Ext(path) == ".partial" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total, err
}

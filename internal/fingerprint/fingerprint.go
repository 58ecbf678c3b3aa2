// Package fingerprint computes the content hash used for change detection.
//
// The hash covers file bytes only, so timestamp or permission changes never
// register as content changes. MD5 is used because a single-part S3 upload
// reports the same digest as its ETag, which lets uploads be verified
// without downloading them again.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// BlockSize is the read size used while streaming file contents.
const BlockSize = 4096

// File streams the file at path through MD5 and returns the hex digest.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Reader(f)
}

// Reader hashes everything read from r in BlockSize chunks. The read loop
// is explicit so sources implementing io.WriterTo cannot bypass the block
// size.
func Reader(r io.Reader) (string, error) {
	h := md5.New()
	buf := make([]byte, BlockSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("hash contents: %w", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

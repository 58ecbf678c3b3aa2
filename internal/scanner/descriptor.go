package scanner

import (
	"os"
	"sync"
	"time"

	"nightshift/internal/fingerprint"
	"nightshift/internal/services"
)

// Descriptor describes one candidate file seen by a scan.
type Descriptor struct {
	Path     string
	Size     int64
	ModTime  time.Time
	Category Category

	once        sync.Once
	fingerprint string
	err         error
}

// NewDescriptor stats path and builds a Descriptor for it. Missing or
// non-regular files are reported as ErrInvalidSource.
func NewDescriptor(path string) (*Descriptor, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, services.Wrap(services.ErrInvalidSource, "scanner", "stat", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, services.Wrap(services.ErrInvalidSource, "scanner", "stat", path+" is not a regular file", nil)
	}
	return &Descriptor{
		Path:     path,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Category: Categorize(path),
	}, nil
}

// Fingerprint returns the content hash, computing it on the first call.
func (d *Descriptor) Fingerprint() (string, error) {
	d.once.Do(func() {
		d.fingerprint, d.err = fingerprint.File(d.Path)
		if d.err != nil {
			d.err = services.Wrap(services.ErrInvalidSource, "scanner", "fingerprint", d.Path, d.err)
		}
	})
	return d.fingerprint, d.err
}

package testsupport

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"nightshift/internal/fingerprint"
	"nightshift/internal/services"
	"nightshift/internal/storage"
)

// FakeObject is an object held by FakeStorage.
type FakeObject struct {
	Size     int64
	Checksum string
	Source   string
	Data     []byte
}

// FakeStorage is an in-memory storage.Client with programmable failures.
type FakeStorage struct {
	mu sync.Mutex

	capacity  int64
	used      int64
	folders   map[string]int
	objects   map[string]FakeObject
	uploadErr []error
	failAll   error

	capacityErr   error
	downloadErr   error
	downloads     int
	capacityCalls int
	attempts      int
	badChecksum   bool
	beforeUpload  func(localPath string)
}

// NewFakeStorage returns an empty fake with the given capacity.
func NewFakeStorage(capacity int64) *FakeStorage {
	return &FakeStorage{
		capacity: capacity,
		folders:  make(map[string]int),
		objects:  make(map[string]FakeObject),
	}
}

// SetUsed sets the bytes reported as already used.
func (f *FakeStorage) SetUsed(used int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.used = used
}

// FailUploads queues errors returned by the next upload attempts, in order.
func (f *FakeStorage) FailUploads(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadErr = append(f.uploadErr, errs...)
}

// FailAllUploads makes every upload attempt return err until cleared with nil.
func (f *FakeStorage) FailAllUploads(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAll = err
}

// FailCapacity makes QueryCapacity return err.
func (f *FakeStorage) FailCapacity(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capacityErr = err
}

// FailDownloads makes every Download return err until cleared with nil.
func (f *FakeStorage) FailDownloads(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloadErr = err
}

// Downloads returns the number of successful Download calls.
func (f *FakeStorage) Downloads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloads
}

// SetObject replaces the stored bytes of remoteID, simulating remote drift.
func (f *FakeStorage) SetObject(remoteID string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj := f.objects[remoteID]
	obj.Data = append([]byte(nil), data...)
	obj.Size = int64(len(data))
	f.objects[remoteID] = obj
}

// CorruptChecksums makes uploads report a checksum that never matches.
func (f *FakeStorage) CorruptChecksums() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.badChecksum = true
}

// BeforeUpload registers a hook run at the start of every upload attempt.
func (f *FakeStorage) BeforeUpload(fn func(localPath string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeUpload = fn
}

// Objects returns a snapshot of stored objects keyed by remote id.
func (f *FakeStorage) Objects() map[string]FakeObject {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]FakeObject, len(f.objects))
	for k, v := range f.objects {
		out[k] = v
	}
	return out
}

// Attempts returns the number of upload attempts seen.
func (f *FakeStorage) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

// CapacityCalls returns the number of QueryCapacity calls seen.
func (f *FakeStorage) CapacityCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capacityCalls
}

// FolderCreations returns how often folder id was requested.
func (f *FakeStorage) FolderCreations(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.folders[id]
}

func (f *FakeStorage) CreateOrGetFolder(ctx context.Context, segments []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", services.Wrap(services.ErrTransientIO, "fake", "create folder", "", err)
	}
	id := storage.ObjectKey(segments...)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.folders[id]++
	return id, nil
}

func (f *FakeStorage) UploadOrReplace(ctx context.Context, localPath, folderID, remoteName string) (storage.UploadResult, error) {
	f.mu.Lock()
	hook := f.beforeUpload
	f.mu.Unlock()
	if hook != nil {
		hook(localPath)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if err := ctx.Err(); err != nil {
		return storage.UploadResult{}, services.Wrap(services.ErrTransientIO, "fake", "upload", "", err)
	}
	if f.failAll != nil {
		return storage.UploadResult{}, f.failAll
	}
	if len(f.uploadErr) > 0 {
		err := f.uploadErr[0]
		f.uploadErr = f.uploadErr[1:]
		if err != nil {
			return storage.UploadResult{}, err
		}
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return storage.UploadResult{}, services.Wrap(services.ErrInvalidSource, "fake", "upload", localPath, err)
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return storage.UploadResult{}, services.Wrap(services.ErrInvalidSource, "fake", "upload", localPath, err)
	}
	sum, err := fingerprint.Reader(bytes.NewReader(data))
	if err != nil {
		return storage.UploadResult{}, services.Wrap(services.ErrInvalidSource, "fake", "upload", localPath, err)
	}
	key := storage.ObjectKey(folderID, remoteName)
	if old, ok := f.objects[key]; ok {
		f.used -= old.Size
	}
	if f.used+info.Size() > f.capacity {
		return storage.UploadResult{}, services.Wrap(services.ErrCapacityExhausted, "fake", "upload", "quota exceeded", nil)
	}
	f.used += info.Size()
	f.objects[key] = FakeObject{Size: info.Size(), Checksum: sum, Source: localPath, Data: data}
	if f.badChecksum {
		sum = "00000000000000000000000000000000"
	}
	return storage.UploadResult{RemoteID: key, Size: info.Size(), Checksum: sum}, nil
}

func (f *FakeStorage) Download(ctx context.Context, remoteID, localPath string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, services.Wrap(services.ErrTransientIO, "fake", "download", "", err)
	}
	if f.downloadErr != nil {
		return 0, f.downloadErr
	}
	obj, ok := f.objects[remoteID]
	if !ok {
		return 0, services.Wrap(services.ErrInvalidSource, "fake", "download", "no object "+remoteID, nil)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return 0, err
	}
	if err := os.WriteFile(localPath, obj.Data, 0o644); err != nil {
		return 0, err
	}
	f.downloads++
	return int64(len(obj.Data)), nil
}

func (f *FakeStorage) QueryCapacity(ctx context.Context) (storage.Capacity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capacityCalls++
	if f.capacityErr != nil {
		return storage.Capacity{}, f.capacityErr
	}
	if err := ctx.Err(); err != nil {
		return storage.Capacity{}, err
	}
	return storage.Capacity{CapacityBytes: f.capacity, UsedBytes: f.used}, nil
}

// ErrFakeTransient is a ready-made transient upload failure.
var ErrFakeTransient = services.Wrap(services.ErrTransientIO, "fake", "upload", "connection reset", errors.New("connection reset by peer"))

var _ storage.Client = (*FakeStorage)(nil)

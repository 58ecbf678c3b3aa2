package testsupport

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// FakeS3 is an in-memory, path-style S3 endpoint covering the requests the
// minio and aws providers issue: PUT object, GET object (with an optional
// single byte range), HEAD object, HEAD bucket, GetBucketLocation and
// ListObjectsV2.
type FakeS3 struct {
	server *httptest.Server

	mu      sync.Mutex
	objects map[string]map[string][]byte
	fails   []fakeS3Failure
	puts    int
}

type fakeS3Failure struct {
	status int
	code   string
}

// NewFakeS3 starts the server and registers its shutdown.
func NewFakeS3(t testing.TB) *FakeS3 {
	t.Helper()
	f := &FakeS3{objects: make(map[string]map[string][]byte)}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

// URL returns the server base URL (scheme included).
func (f *FakeS3) URL() string { return f.server.URL }

// Endpoint returns host:port without a scheme.
func (f *FakeS3) Endpoint() string {
	u, _ := url.Parse(f.server.URL)
	return u.Host
}

// Object returns the stored bytes for bucket/key.
func (f *FakeS3) Object(bucket, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[bucket][key]
	return data, ok
}

// Keys returns the sorted keys stored in bucket.
func (f *FakeS3) Keys(bucket string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects[bucket]))
	for k := range f.objects[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Puts returns the number of successful PUT requests.
func (f *FakeS3) Puts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

// FailNextPut makes the next PUT answer with an S3 error document.
func (f *FakeS3) FailNextPut(status int, code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails = append(f.fails, fakeS3Failure{status: status, code: code})
}

func (f *FakeS3) serve(w http.ResponseWriter, r *http.Request) {
	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	query := r.URL.Query()
	switch {
	case r.Method == http.MethodPut && key != "":
		f.put(w, r, bucket, key)
	case r.Method == http.MethodGet && key != "":
		f.get(w, r, bucket, key)
	case r.Method == http.MethodHead && key != "":
		f.head(w, bucket, key)
	case r.Method == http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && key == "" && query.Has("location"):
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><LocationConstraint xmlns="http://s3.amazonaws.com/doc/2006-03-01/"></LocationConstraint>`)
	case r.Method == http.MethodGet && key == "" && query.Get("list-type") == "2":
		f.list(w, bucket, query.Get("prefix"))
	default:
		writeS3Error(w, http.StatusNotImplemented, "NotImplemented", r.URL.Path)
	}
}

func (f *FakeS3) put(w http.ResponseWriter, r *http.Request, bucket, key string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeS3Error(w, http.StatusBadRequest, "IncompleteBody", key)
		return
	}
	if strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") ||
		strings.Contains(r.Header.Get("Content-Encoding"), "aws-chunked") {
		body = decodeAWSChunked(body)
	}

	f.mu.Lock()
	if len(f.fails) > 0 {
		fail := f.fails[0]
		f.fails = f.fails[1:]
		f.mu.Unlock()
		writeS3Error(w, fail.status, fail.code, key)
		return
	}
	if f.objects[bucket] == nil {
		f.objects[bucket] = make(map[string][]byte)
	}
	f.objects[bucket][key] = body
	f.puts++
	f.mu.Unlock()

	sum := md5.Sum(body)
	w.Header().Set("ETag", `"`+hex.EncodeToString(sum[:])+`"`)
	w.WriteHeader(http.StatusOK)
}

func (f *FakeS3) head(w http.ResponseWriter, bucket, key string) {
	data, ok := f.Object(bucket, key)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	sum := md5.Sum(data)
	w.Header().Set("ETag", `"`+hex.EncodeToString(sum[:])+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
}

func (f *FakeS3) get(w http.ResponseWriter, r *http.Request, bucket, key string) {
	data, ok := f.Object(bucket, key)
	if !ok {
		writeS3Error(w, http.StatusNotFound, "NoSuchKey", key)
		return
	}
	sum := md5.Sum(data)
	w.Header().Set("ETag", `"`+hex.EncodeToString(sum[:])+`"`)
	w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Accept-Ranges", "bytes")

	start, end, ranged := parseByteRange(r.Header.Get("Range"), int64(len(data)))
	if !ranged {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}
	if start >= int64(len(data)) {
		writeS3Error(w, http.StatusRequestedRangeNotSatisfiable, "InvalidRange", key)
		return
	}
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = w.Write(data[start : end+1])
}

// parseByteRange understands "bytes=a-b" and "bytes=a-". The end is clamped
// to the object size.
func parseByteRange(header string, size int64) (int64, int64, bool) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, false
	}
	from, to, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(from, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	end := size - 1
	if to != "" {
		if end, err = strconv.ParseInt(to, 10, 64); err != nil {
			return 0, 0, false
		}
	}
	if end > size-1 {
		end = size - 1
	}
	return start, end, true
}

type fakeListEntry struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

type fakeListResult struct {
	XMLName     xml.Name        `xml:"http://s3.amazonaws.com/doc/2006-03-01/ ListBucketResult"`
	Name        string          `xml:"Name"`
	Prefix      string          `xml:"Prefix"`
	KeyCount    int             `xml:"KeyCount"`
	MaxKeys     int             `xml:"MaxKeys"`
	IsTruncated bool            `xml:"IsTruncated"`
	Contents    []fakeListEntry `xml:"Contents"`
}

func (f *FakeS3) list(w http.ResponseWriter, bucket, prefix string) {
	result := fakeListResult{Name: bucket, Prefix: prefix, MaxKeys: 1000}
	modified := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	for _, key := range f.Keys(bucket) {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		data, _ := f.Object(bucket, key)
		sum := md5.Sum(data)
		result.Contents = append(result.Contents, fakeListEntry{
			Key:          key,
			LastModified: modified,
			ETag:         `"` + hex.EncodeToString(sum[:]) + `"`,
			Size:         int64(len(data)),
			StorageClass: "STANDARD",
		})
	}
	result.KeyCount = len(result.Contents)
	w.Header().Set("Content-Type", "application/xml")
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(result)
}

func writeS3Error(w http.ResponseWriter, status int, code, resource string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message><Resource>%s</Resource><RequestId>fake</RequestId></Error>`,
		code, code, resource)
}

// decodeAWSChunked strips aws-chunked framing ("hex;sig\r\ndata\r\n" ...).
func decodeAWSChunked(data []byte) []byte {
	var out []byte
	for len(data) > 0 {
		line, rest, ok := bytes.Cut(data, []byte("\r\n"))
		if !ok {
			break
		}
		sizeHex, _, _ := bytes.Cut(line, []byte(";"))
		n, err := strconv.ParseInt(string(bytes.TrimSpace(sizeHex)), 16, 64)
		if err != nil || n == 0 || int64(len(rest)) < n {
			break
		}
		out = append(out, rest[:n]...)
		data = bytes.TrimPrefix(rest[n:], []byte("\r\n"))
	}
	return out
}

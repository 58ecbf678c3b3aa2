// Package scanner enumerates backup candidates under the configured source
// roots.
//
// Scan yields Descriptors lazily. Filters apply the extension allow-list, the
// exclude extensions, the exclude patterns and the maximum size. Files that
// fail a filter are skipped silently. Unreadable roots and entries are logged
// and skipped. Each Descriptor computes its content fingerprint on first use.
package scanner

// Package services defines the shared error taxonomy and context helpers used
// by every backup component.
//
// Key responsibilities:
//   - Sentinel error markers plus the Wrap helper so failures keep their
//     classification while crossing package boundaries.
//   - KindOf, which turns any error into the ErrorKind carried by upload
//     outcomes and persisted in the ledger.
//   - Context helpers that stamp run ids, trigger names, source paths and
//     correlation identifiers for logging.
//
// Only ErrConfiguration is fatal to process startup; every other kind is
// handled per file by the upload orchestrator.
package services

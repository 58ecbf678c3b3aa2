// Package preflight provides readiness checks for the filesystem paths,
// destinations and network nightshift depends on.
//
// These checks run in two contexts:
//   - The daemon logs RunAll at startup so a broken destination shows up
//     before the first nightly pass.
//   - The CLI "nightshift status" command prints the same results.
//
// Checks never modify anything; a failed check is reported, not fatal.
package preflight

// Package destinations tracks the storage accounts a run can place files on.
//
// A Pool queries every account's capacity once per run (Refresh) and then
// answers Select calls from that in-memory snapshot. Select reserves the
// requested bytes so concurrent uploads cannot oversubscribe one account;
// the reservation is committed after a successful upload or released after a
// failed one. Usage is never carried from one run to the next.
package destinations

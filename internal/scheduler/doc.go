// Package scheduler owns the run lifecycle.
//
// A single loop polls on the configured interval. Once the daily trigger
// time has passed and no scheduled session closed COMPLETED or NO_FILES for
// today, it runs a full pass: probe, refresh destination capacity, scan,
// then fan descriptors out to the orchestrator over a bounded worker pool.
// A failed probe closes the session as NETWORK_ERROR, which leaves the gate
// open; the next attempt waits one retry-drain interval. Between daily passes
// the loop drains the retry queue on its own cadence.
//
// Manual runs (Run, StartRun) share the same busy flag, so passes never
// overlap. They are recorded with the manual trigger and never close the
// daily gate.
package scheduler

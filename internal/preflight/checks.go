package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"nightshift/internal/destinations"
)

const destinationTimeout = 10 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	return checkDirectory(name, path, unix.R_OK|unix.W_OK|unix.X_OK, "read/write ok")
}

// CheckSourceRoot verifies that a source root exists and can be listed. Write
// access is not required unless auto-delete is enabled, which is checked per
// file at deletion time.
func CheckSourceRoot(path string) Result {
	return checkDirectory("Source root", path, unix.R_OK|unix.X_OK, "readable")
}

func checkDirectory(name, path string, mode uint32, ok string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, mode); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", path, ok)}
}

// CheckDestination asks one destination for its capacity.
// It uses a 10-second timeout and a single attempt (no retries).
func CheckDestination(ctx context.Context, m destinations.Member) Result {
	name := fmt.Sprintf("Destination %s", m.Name)
	if m.Client == nil {
		return Result{Name: name, Detail: "no client configured"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, destinationTimeout)
	defer cancel()

	capacity, err := m.Client.QueryCapacity(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	detail := fmt.Sprintf("%s free of %s (%s)",
		humanize.Bytes(uint64(capacity.Available())), humanize.Bytes(uint64(max(capacity.CapacityBytes, 0))), m.Provider)
	if capacity.Available() == 0 {
		return Result{Name: name, Detail: detail + "; full"}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckNetwork reports whether the reachability probe answers.
func CheckNetwork(ctx context.Context, probe Prober) Result {
	const name = "Network"
	if probe.IsConnected(ctx) {
		return Result{Name: name, Passed: true, Detail: "Reachable"}
	}
	return Result{Name: name, Detail: "probe URLs unreachable; uploads will be deferred"}
}

func summarizeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "capacity query timed out (destination unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "capacity query timed out (destination unreachable)"
	}
	return err.Error()
}

// Command nightshiftd runs the nightshift daemon in the foreground, for use
// under a service manager.
package main

import (
	"context"
	"log"

	"nightshift/internal/config"
	"nightshift/internal/daemonrun"
)

func main() {
	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{}); err != nil {
		log.Fatalf("nightshiftd: %v", err)
	}
}

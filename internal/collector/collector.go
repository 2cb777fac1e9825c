package collector

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Collect gathers what the local machine can report about itself. It
// attempts every source and returns partial results alongside any errors.
func Collect() (*Inventory, error) {
	hostname, _ := os.Hostname()

	inv := &Inventory{
		CollectedAt: time.Now(),
		Hostname:    hostname,
	}

	var errs []error

	sys, err := collectSystemInfo()
	if err != nil {
		errs = append(errs, fmt.Errorf("system: %w", err))
	}
	inv.System = sys

	nics, err := collectNetwork()
	if err != nil {
		errs = append(errs, fmt.Errorf("network: %w", err))
	}
	inv.Network = nics

	if len(errs) > 0 {
		return inv, fmt.Errorf("collection errors: %w", errors.Join(errs...))
	}
	return inv, nil
}

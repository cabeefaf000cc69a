// Package dispatch decides how much concurrency the codec and the awards
// aggregator may use and provides the bounded executor they fan work out to.
// It is the only package that looks at the host; callers receive a worker
// count and never branch on the environment themselves.
package dispatch

import (
	"os"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// constrainedWorkers is the fixed worker count used on CI runners and other
// restricted hosts.
const constrainedWorkers = 2

// constrainedMarkers are environment variables set by CI systems.
var constrainedMarkers = []string{"CI", "GITHUB_ACTIONS", "TRAVIS", "JENKINS", "JENKINS_URL"}

// Host is the view of the machine the policy works from.
type Host struct {
	Physical    int
	Logical     int
	Constrained bool
}

// Hyperthreaded reports whether the host exposes more logical than physical cores.
func (h Host) Hyperthreaded() bool {
	return h.Logical > h.Physical
}

// Purpose: Describe the current machine for worker sizing.
// Key aspects: Logical count honours the process CPU affinity; physical cores
// come from cpuid and are estimated from threads-per-core when unavailable.
// Upstream: NewPolicy callers (CLI wiring, package-level helpers).
// Downstream: runtime.NumCPU, cpuid.CPU, os.LookupEnv.
func Detect() Host {
	logical := runtime.NumCPU()
	if logical < 1 {
		logical = 1
	}
	physical := cpuid.CPU.PhysicalCores
	if physical <= 0 {
		if tpc := cpuid.CPU.ThreadsPerCore; tpc > 1 {
			physical = logical / tpc
		} else {
			physical = logical
		}
	}
	if physical > logical {
		// Affinity masks can hide cores that cpuid still reports.
		physical = logical
	}
	if physical < 1 {
		physical = 1
	}
	return Host{
		Physical:    physical,
		Logical:     logical,
		Constrained: constrainedEnv(os.LookupEnv),
	}
}

func constrainedEnv(lookup func(string) (string, bool)) bool {
	for _, key := range constrainedMarkers {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "false" || v == "0" {
			continue
		}
		return true
	}
	return false
}

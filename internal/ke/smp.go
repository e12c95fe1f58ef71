package ke

import (
	"time"

	"github.com/brennagh/mira/internal/constants"
	"golang.org/x/sys/unix"
)

// ProcessorHandle is the subset of ps.Processor that ke needs in order to
// bring a CPU up, freeze it for a panic, or poke it awake — an interface
// rather than a concrete type so this package never imports ps (ps
// imports ke, never the reverse).
type ProcessorHandle interface {
	Number() int
	Freeze()
	Notify(vector uint32)
}

// Topology tracks every processor known to the running kernel so that
// BroadcastFreeze/BroadcastIPI can reach them. It is the Go stand-in for
// HalpProcessorList/HalpProcessorCount.
type Topology struct {
	processors []ProcessorHandle
}

var topology Topology

// DiscoverCPUCount asks the OS scheduler affinity mask how many logical
// CPUs this process may actually use — the user-space analogue of walking
// the firmware's MADT/APIC table for usable CPUs. It is capped by maxCPUs
// when maxCPUs > 0.
func DiscoverCPUCount(maxCPUs int) (int, error) {
	var set unix.CPUSet
	n := 1
	if err := unix.SchedGetaffinity(0, &set); err == nil {
		if c := set.Count(); c > 0 {
			n = c
		}
	}
	if maxCPUs > 0 && n > maxCPUs {
		n = maxCPUs
	}
	return n, nil
}

// Register adds a processor to the topology so panic/notify broadcasts
// reach it. Called once per processor during boot/bring-up.
func Register(p ProcessorHandle) {
	topology.processors = append(topology.processors, p)
}

// ResetTopology clears all registered processors — used by tests that boot
// more than one simulated kernel in the same process.
func ResetTopology() {
	topology.processors = nil
}

// BroadcastFreeze halts every registered processor, the caller's own
// included, forever. It
// is used only by the panic path.
func BroadcastFreeze() {
	for _, p := range topology.processors {
		p.Freeze()
	}
}

// Notify sends a directed wake to a single processor, the one primitive
// that lets a CPU whose ready queue just gained an entry kick a sleeping
// peer.
func Notify(p ProcessorHandle, vector uint32) {
	p.Notify(vector)
}

// BroadcastIPI sends vector to every registered processor except exclude.
func BroadcastIPI(vector uint32, exclude ProcessorHandle) {
	for _, p := range topology.processors {
		if p != exclude {
			p.Notify(vector)
		}
	}
}

// StartupDelays exposes the bring-up pacing constants so ps/boot can
// sequence INIT-deassert / STARTUP retries without duplicating them.
var StartupDelays = struct {
	InitDeassert time.Duration
	StartupRetry time.Duration
}{
	InitDeassert: constants.InitDeassertWait,
	StartupRetry: constants.StartupRetryWait,
}

// Copyright (c) 2025 Arbor Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package ports

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ErrCapacityExceeded is returned when every offset in the pool is held.
var ErrCapacityExceeded = errors.New("all instance slots are allocated")

// BasePort maps a base port to the environment variable it is exposed as.
type BasePort struct {
	Port int
	Env  string
}

// Allocator owns the pool of integer offsets in [0, maxInstances).
// Concrete ports for an offset are a deterministic, injective function of
// the offset (base + offset*step), so no two live allocations can ever
// produce overlapping ports.
type Allocator struct {
	mu           sync.Mutex
	maxInstances int
	step         int
	base         []BasePort
	envTemplates map[string]string
	allocated    map[int]bool
}

// NewAllocator creates an allocator for maxInstances concurrent offsets.
func NewAllocator(maxInstances, step int, base []BasePort, envTemplates map[string]string) *Allocator {
	return &Allocator{
		maxInstances: maxInstances,
		step:         step,
		base:         base,
		envTemplates: envTemplates,
		allocated:    make(map[int]bool),
	}
}

// Allocate reserves the smallest currently-unused offset.
// Returns ErrCapacityExceeded when the pool is full; the caller must
// surface this rather than retry.
func (a *Allocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for offset := 0; offset < a.maxInstances; offset++ {
		if !a.allocated[offset] {
			a.allocated[offset] = true
			return offset, nil
		}
	}

	return 0, fmt.Errorf("%w (max %d concurrent instances)", ErrCapacityExceeded, a.maxInstances)
}

// Release frees a previously allocated offset. Releasing an offset that is
// not allocated is a no-op: stop paths and exit watchers may both attempt
// cleanup for the same process.
func (a *Allocator) Release(offset int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.allocated, offset)
}

// AllocatedCount returns the number of currently held offsets.
func (a *Allocator) AllocatedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.allocated)
}

// IsAllocated checks if a specific offset is currently held.
func (a *Allocator) IsAllocated(offset int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocated[offset]
}

// PortsFor returns the concrete ports derived from an offset, in ascending
// order. Pure function of the configured base ports and the offset.
func (a *Allocator) PortsFor(offset int) []int {
	ports := make([]int, 0, len(a.base))
	for _, bp := range a.base {
		ports = append(ports, bp.Port+offset*a.step)
	}
	sort.Ints(ports)
	return ports
}

// EnvFor returns the environment entries injected into a dev server spawned
// with the given offset: one variable per base port, every configured URL
// template with {basePort} placeholders substituted, and a color hint.
// Pure function of the allocator configuration and the offset.
func (a *Allocator) EnvFor(offset int) []string {
	env := make([]string, 0, len(a.base)+len(a.envTemplates)+1)
	for _, bp := range a.base {
		env = append(env, fmt.Sprintf("%s=%d", bp.Env, bp.Port+offset*a.step))
	}

	names := make([]string, 0, len(a.envTemplates))
	for name := range a.envTemplates {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		env = append(env, name+"="+a.expandTemplate(a.envTemplates[name], offset))
	}

	env = append(env, "FORCE_COLOR=1")
	return env
}

// expandTemplate replaces each "{<basePort>}" placeholder with the concrete
// port for the offset, e.g. "http://localhost:{3000}" -> "http://localhost:3010".
func (a *Allocator) expandTemplate(template string, offset int) string {
	out := template
	for _, bp := range a.base {
		placeholder := "{" + strconv.Itoa(bp.Port) + "}"
		concrete := strconv.Itoa(bp.Port + offset*a.step)
		out = strings.ReplaceAll(out, placeholder, concrete)
	}
	return out
}

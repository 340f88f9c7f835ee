// Package metrics defines the metric name constants the control plane
// would emit under an observability backend. Emission itself is out of
// scope (see SPEC_FULL.md's out-of-scope list); this package exists so components
// reference one canonical set of names rather than inlining strings,
// ported from the original admin service's metrics constants module.
package metrics

const MeterName = "boxed.control_plane"

const (
	RequestTotal   = "request.total"
	RequestSuccess = "request.success"
	RequestFailure = "request.failure"
	RequestLatency = "request.rt"

	SandboxCountTotal = "sandbox.count.total"
	SandboxCountImage = "sandbox.count.image"

	SystemCPU     = "system.cpu"
	SystemMemory  = "system.memory"
	SystemDisk    = "system.disk"
	SystemNetwork = "system.network"

	ResourceCPUTotal       = "resource.cpu.total"
	ResourceCPUAvailable   = "resource.cpu.available"
	ResourceMemTotal       = "resource.mem.total"
	ResourceMemAvailable   = "resource.mem.available"

	PoolAvailable = "pool.available"
	PoolInUse     = "pool.in_use"
)

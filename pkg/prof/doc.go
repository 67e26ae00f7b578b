// Package prof wraps [runtime/pprof] for the softcam daemon.
//
// Profiling is compiled in only with the "profile" build tag:
//
//	go build -tags profile ./cmd/softcam
//
// Without the tag every function is a stub. Functions that would produce
// output return [ErrDisabled] so callers can report that profiling was
// requested from a binary that cannot honour it.
//
// # Daemon Profiles
//
// [Start] begins a CPU profile and arranges a heap snapshot, driven by the
// profile.cpu and profile.heap configuration keys:
//
//	stop, err := prof.Start(cfg.Profile.CPU, cfg.Profile.Heap)
//	if err != nil { ... }
//	defer stop()
//
// # HTTP Profiling
//
// [Register] mounts the net/http/pprof handlers under /debug/pprof/ on a
// gorilla/mux router, typically the control gateway's.
//
// # Snapshot Profiles
//
// [Write] and [WriteTo] capture point-in-time profiles ([ProfileHeap],
// [ProfileGoroutine] and friends). [ProfileCPU] is rejected with
// [ErrInvalidProfile]; use [StartCPU] and [StopCPU].
package prof

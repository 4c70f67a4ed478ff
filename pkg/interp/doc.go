// Package interp hosts the warm interpreter instance owned by a worker
// process: an embedded ECMAScript runtime (goja) with a sandboxed filesystem
// API, per-call output capture, and a CommonJS-style module loader whose
// cache can be invalidated after input files are materialized.
//
// The runtime is single-threaded and cooperatively scheduled. There is no
// safe mid-execution interrupt; a stuck runtime is abandoned together with
// its process.
package interp

// Package session captures and restores an interpreter's mutable global
// namespace as an opaque blob, so callers can carry state across requests
// on the same session.
//
// Capture excludes reserved-prefixed names, the runtime's own installed
// globals, and values exposing read/write stream semantics. Function values
// round-trip by source text; everything else round-trips as JSON data.
package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/jkoenig/runbox/pkg/api"
	"github.com/jkoenig/runbox/pkg/debug"
	"github.com/jkoenig/runbox/pkg/interp"
)

// ReservedPrefix marks internal bookkeeping names that are never captured.
const ReservedPrefix = "__"

// entry is one serialized namespace binding.
type entry struct {
	// Kind is "value" for JSON-serializable data or "function" for a
	// binding restored by evaluating Source.
	Kind   string          `json:"kind"`
	Value  json.RawMessage `json:"value,omitempty"`
	Source string          `json:"source,omitempty"`
}

// blob is the serialized namespace: name → entry. Version guards against
// format drift across worker generations.
type blob struct {
	Version int              `json:"version"`
	Entries map[string]entry `json:"entries"`
}

const blobVersion = 1

// Capture serializes the captureable globals of the runtime into a
// SessionState with a fresh last-modified timestamp.
//
// It iterates a snapshot copy of the namespace names, never the live
// namespace, so bindings added while serializing (by getters, for example)
// cannot break iteration.
func Capture(rt *interp.Runtime) (*api.SessionState, error) {
	names := append([]string(nil), rt.GlobalNames()...)

	b := blob{Version: blobVersion, Entries: make(map[string]entry)}
	for _, name := range names {
		v := rt.Global(name)
		if !captureable(rt, name, v) {
			continue
		}

		e, err := encodeValue(v)
		if err != nil {
			return nil, api.WrapError(api.KindSessionCodec, err, "capturing %q", name)
		}
		b.Entries[name] = e
	}

	data, err := json.Marshal(b)
	if err != nil {
		return nil, api.WrapError(api.KindSessionCodec, err, "encoding session blob")
	}

	debug.Log("session", "captured namespace", "bindings", len(b.Entries), "blob_bytes", len(data))
	return &api.SessionState{
		Blob: data,
		Metadata: map[string]string{
			api.MetadataLastModified: time.Now().UTC().Format(time.RFC3339),
		},
	}, nil
}

// Restore deserializes a blob into the runtime's global namespace,
// overwriting on name collision. The caller is responsible for suppressing
// interpreter output around this call; Restore itself emits nothing.
func Restore(rt *interp.Runtime, data []byte) error {
	var b blob
	if err := json.Unmarshal(data, &b); err != nil {
		return api.WrapError(api.KindSessionCodec, err, "decoding session blob")
	}
	if b.Version != blobVersion {
		return api.NewError(api.KindSessionCodec, "unsupported session blob version %d", b.Version)
	}

	for name, e := range b.Entries {
		switch e.Kind {
		case "value":
			var v any
			if err := json.Unmarshal(e.Value, &v); err != nil {
				return api.WrapError(api.KindSessionCodec, err, "decoding %q", name)
			}
			if err := rt.SetGlobal(name, v); err != nil {
				return api.WrapError(api.KindSessionCodec, err, "restoring %q", name)
			}
		case "function":
			fn, err := rt.Run("(" + e.Source + ")")
			if err != nil {
				return api.WrapError(api.KindSessionCodec, err, "evaluating function %q", name)
			}
			if err := rt.SetGlobal(name, fn); err != nil {
				return api.WrapError(api.KindSessionCodec, err, "restoring function %q", name)
			}
		default:
			return api.NewError(api.KindSessionCodec, "unknown entry kind %q for %q", e.Kind, name)
		}
	}

	debug.Log("session", "restored namespace", "bindings", len(b.Entries))
	return nil
}

// captureable applies the exclusion rules: reserved prefix, baseline
// (built-in) globals, and stream-like values.
func captureable(rt *interp.Runtime, name string, v goja.Value) bool {
	if len(name) >= len(ReservedPrefix) && name[:len(ReservedPrefix)] == ReservedPrefix {
		return false
	}
	if rt.IsBaseline(name) {
		return false
	}
	if v == nil || goja.IsUndefined(v) {
		return false
	}
	if isStreamLike(v) {
		return false
	}
	return true
}

// isStreamLike is the capability check for stream semantics: the sandbox
// file-handle type, or any object with a callable read or write member.
// Evaluated once per candidate value during capture.
func isStreamLike(v goja.Value) bool {
	if interp.IsFileHandle(v) {
		return true
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return false
	}
	if _, callable := goja.AssertFunction(obj.Get("read")); callable {
		return true
	}
	if _, callable := goja.AssertFunction(obj.Get("write")); callable {
		return true
	}
	return false
}

// encodeValue serializes one binding. Functions are stored by source text so
// definitions round-trip; module exports referenced from globals serialize
// the same way as plain objects (by value for data, by source for functions).
func encodeValue(v goja.Value) (entry, error) {
	if _, callable := goja.AssertFunction(v); callable {
		return entry{Kind: "function", Source: v.String()}, nil
	}

	exported := v.Export()
	data, err := json.Marshal(exported)
	if err != nil {
		return entry{}, fmt.Errorf("value not serializable: %w", err)
	}
	return entry{Kind: "value", Value: data}, nil
}

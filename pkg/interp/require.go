package interp

import (
	"fmt"
	"path"
	"strings"

	"github.com/dop251/goja"
	"github.com/spf13/afero"
)

// moduleCache implements a CommonJS-style require over the workspace
// filesystem. Loaded modules are cached by resolved path until the cache is
// invalidated, which happens after input files are materialized so files
// that look like modules are picked up.
//
// The loader reports progress on stdout the way a package manager would;
// the worker strips these lines from user-visible output.
type moduleCache struct {
	rt      *Runtime
	entries map[string]goja.Value
	loading map[string]bool // cycle guard
}

func newModuleCache(rt *Runtime) *moduleCache {
	return &moduleCache{
		rt:      rt,
		entries: make(map[string]goja.Value),
		loading: make(map[string]bool),
	}
}

func (m *moduleCache) invalidate() {
	m.entries = make(map[string]goja.Value)
}

// resolvePath maps a require specifier to a workspace file path.
func (m *moduleCache) resolvePath(spec string) string {
	p := spec
	if !strings.HasSuffix(p, ".js") {
		p += ".js"
	}
	if !path.IsAbs(p) {
		p = path.Join(m.rt.workDir, p)
	}
	return path.Clean(p)
}

// require is bound as the global require function.
func (m *moduleCache) require(spec string) goja.Value {
	resolved := m.resolvePath(spec)

	if v, ok := m.entries[resolved]; ok {
		return v
	}
	if m.loading[resolved] {
		m.rt.throw("require %s: circular dependency", spec)
	}

	fmt.Fprintf(m.rt.stdout, "loading module %s\n", spec)

	src, err := afero.ReadFile(m.rt.fs, resolved)
	if err != nil {
		m.rt.throw("require %s: %v", spec, err)
	}

	m.loading[resolved] = true
	defer delete(m.loading, resolved)

	exports, err := m.evaluate(resolved, string(src))
	if err != nil {
		m.rt.throw("require %s: %v", spec, err)
	}

	m.entries[resolved] = exports
	fmt.Fprintf(m.rt.stdout, "module %s loaded from %s\n", spec, resolved)
	return exports
}

// evaluate runs the module source inside a function scope with a fresh
// module/exports pair and returns module.exports.
func (m *moduleCache) evaluate(resolved, src string) (goja.Value, error) {
	wrapped := "(function(module, exports) {\n" + src + "\n})"
	fnVal, err := m.rt.vm.RunScript(resolved, wrapped)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return nil, fmt.Errorf("module wrapper did not evaluate to a function")
	}

	module := m.rt.vm.NewObject()
	exports := m.rt.vm.NewObject()
	module.Set("exports", exports)

	if _, err := fn(goja.Undefined(), module, exports); err != nil {
		return nil, err
	}
	return module.Get("exports"), nil
}

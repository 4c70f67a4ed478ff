package interp

import (
	"fmt"
	"os"
	"path"

	"github.com/dop251/goja"
	"github.com/spf13/afero"
)

// installFS binds the sandboxed filesystem API as the global "fs" object.
// Every create and write routes through the installed FileHook; this is the
// hook-based detector of the change tracker.
func (r *Runtime) installFS() error {
	fsObj := r.vm.NewObject()

	bind := func(name string, fn any) error {
		if err := fsObj.Set(name, fn); err != nil {
			return fmt.Errorf("interp: installing fs.%s: %w", name, err)
		}
		return nil
	}

	if err := bind("writeFile", r.jsWriteFile); err != nil {
		return err
	}
	if err := bind("appendFile", r.jsAppendFile); err != nil {
		return err
	}
	if err := bind("readFile", r.jsReadFile); err != nil {
		return err
	}
	if err := bind("mkdir", r.jsMkdir); err != nil {
		return err
	}
	if err := bind("readdir", r.jsReaddir); err != nil {
		return err
	}
	if err := bind("exists", r.jsExists); err != nil {
		return err
	}
	if err := bind("open", r.jsOpen); err != nil {
		return err
	}

	return r.vm.Set("fs", fsObj)
}

// resolve maps a user-supplied path into the workspace. Relative paths are
// resolved against the work dir; the result is always cleaned and absolute.
func (r *Runtime) resolve(p string) string {
	if !path.IsAbs(p) {
		p = path.Join(r.workDir, p)
	}
	return path.Clean(p)
}

func parentDir(p string) string {
	d := path.Dir(p)
	if d == "." || d == "/" {
		return ""
	}
	return d
}

func (r *Runtime) throw(format string, args ...any) {
	panic(r.vm.ToValue(fmt.Sprintf(format, args...)))
}

func (r *Runtime) jsWriteFile(pathArg, data string) {
	abs := r.resolve(pathArg)
	existed, _ := afero.Exists(r.fs, abs)

	if dir := parentDir(abs); dir != "" {
		if err := r.fs.MkdirAll(dir, 0o755); err != nil {
			r.throw("writeFile %s: %v", pathArg, err)
		}
	}
	if err := afero.WriteFile(r.fs, abs, []byte(data), 0o644); err != nil {
		r.throw("writeFile %s: %v", pathArg, err)
	}

	if !existed {
		r.hook.FileCreated(abs)
	}
	if len(data) > 0 {
		r.hook.FileWritten(abs, len(data))
	}
}

func (r *Runtime) jsAppendFile(pathArg, data string) {
	abs := r.resolve(pathArg)
	existed, _ := afero.Exists(r.fs, abs)

	f, err := r.fs.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		r.throw("appendFile %s: %v", pathArg, err)
	}
	n, err := f.WriteString(data)
	f.Close()
	if err != nil {
		r.throw("appendFile %s: %v", pathArg, err)
	}

	if !existed {
		r.hook.FileCreated(abs)
	}
	if n > 0 {
		r.hook.FileWritten(abs, n)
	}
}

func (r *Runtime) jsReadFile(pathArg string) string {
	content, err := afero.ReadFile(r.fs, r.resolve(pathArg))
	if err != nil {
		r.throw("readFile %s: %v", pathArg, err)
	}
	return string(content)
}

func (r *Runtime) jsMkdir(pathArg string) {
	if err := r.fs.MkdirAll(r.resolve(pathArg), 0o755); err != nil {
		r.throw("mkdir %s: %v", pathArg, err)
	}
}

func (r *Runtime) jsReaddir(pathArg string) []string {
	entries, err := afero.ReadDir(r.fs, r.resolve(pathArg))
	if err != nil {
		r.throw("readdir %s: %v", pathArg, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func (r *Runtime) jsExists(pathArg string) bool {
	ok, _ := afero.Exists(r.fs, r.resolve(pathArg))
	return ok
}

// jsOpen returns a handle object with write/read/close members. Handles
// expose stream semantics and are therefore excluded from session capture.
func (r *Runtime) jsOpen(pathArg, mode string) *goja.Object {
	abs := r.resolve(pathArg)

	var flags int
	creating := false
	switch mode {
	case "r", "":
		flags = os.O_RDONLY
	case "w":
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		creating = true
	case "a":
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		creating = true
	default:
		r.throw("open %s: unsupported mode %q", pathArg, mode)
	}

	if creating {
		existed, _ := afero.Exists(r.fs, abs)
		creating = !existed
		if dir := parentDir(abs); dir != "" {
			if err := r.fs.MkdirAll(dir, 0o755); err != nil {
				r.throw("open %s: %v", pathArg, err)
			}
		}
	}

	f, err := r.fs.OpenFile(abs, flags, 0o644)
	if err != nil {
		r.throw("open %s: %v", pathArg, err)
	}
	if creating {
		r.hook.FileCreated(abs)
	}

	handle := r.vm.NewObject()
	handle.Set("path", abs)
	handle.Set("write", func(data string) int {
		n, err := f.WriteString(data)
		if err != nil {
			r.throw("write %s: %v", abs, err)
		}
		if n > 0 {
			r.hook.FileWritten(abs, n)
		}
		return n
	})
	handle.Set("read", func() string {
		content, err := afero.ReadAll(f)
		if err != nil {
			r.throw("read %s: %v", abs, err)
		}
		return string(content)
	})
	handle.Set("close", func() {
		f.Close()
	})
	return handle
}

// IsFileHandle reports whether a value is a handle produced by fs.open.
// Handles carry callable read and write members plus a path.
func IsFileHandle(v goja.Value) bool {
	obj, ok := v.(*goja.Object)
	if !ok {
		return false
	}
	if p := obj.Get("path"); p == nil || goja.IsUndefined(p) {
		return false
	}
	_, hasWrite := goja.AssertFunction(obj.Get("write"))
	_, hasRead := goja.AssertFunction(obj.Get("read"))
	return hasWrite && hasRead
}

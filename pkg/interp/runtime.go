package interp

import (
	"fmt"
	"io"
	"time"

	"github.com/dop251/goja"
	"github.com/spf13/afero"

	"github.com/jkoenig/runbox/pkg/debug"
)

// FileHook receives notifications from the sandboxed filesystem API while
// user code runs. Implementations must be cheap; they are called on every
// tracked primitive.
type FileHook interface {
	// FileCreated is called when a path is opened for creation.
	FileCreated(path string)

	// FileWritten is called after a write of n bytes; n is always positive.
	FileWritten(path string, n int)
}

// nopHook is installed whenever no execution is in flight.
type nopHook struct{}

func (nopHook) FileCreated(string)      {}
func (nopHook) FileWritten(string, int) {}

// Options configures a Runtime.
type Options struct {
	// Workspace is the filesystem the sandboxed fs API operates on. When
	// nil, an in-memory filesystem is used.
	Workspace afero.Fs

	// WorkDir is the directory relative paths resolve against.
	// Defaults to "/workspace".
	WorkDir string

	// NetworkEnabled is exported to the runtime as the reserved global
	// __network_enabled; the core does not interpret it.
	NetworkEnabled bool
}

// Runtime wraps one warm goja interpreter with its workspace filesystem,
// output sinks and module cache. A Runtime is not safe for concurrent use;
// the worker's request loop is strictly sequential.
type Runtime struct {
	vm      *goja.Runtime
	fs      afero.Fs
	workDir string

	stdout io.Writer
	stderr io.Writer

	hook    FileHook
	modules *moduleCache

	// baseline holds the global names present after setup. Names in the
	// baseline are the runtime's own surface and are never captured into
	// session state.
	baseline map[string]bool

	started time.Time
}

// New creates a warm Runtime with the sandboxed API installed.
func New(opts Options) (*Runtime, error) {
	ws := opts.Workspace
	if ws == nil {
		ws = afero.NewMemMapFs()
	}
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = "/workspace"
	}
	if err := ws.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("interp: creating workdir: %w", err)
	}

	r := &Runtime{
		vm:      goja.New(),
		fs:      ws,
		workDir: workDir,
		stdout:  io.Discard,
		stderr:  io.Discard,
		hook:    nopHook{},
		started: time.Now(),
	}
	r.modules = newModuleCache(r)

	if err := r.installConsole(); err != nil {
		return nil, err
	}
	if err := r.installFS(); err != nil {
		return nil, err
	}
	if err := r.vm.Set("require", r.modules.require); err != nil {
		return nil, fmt.Errorf("interp: installing require: %w", err)
	}
	if err := r.vm.Set("__network_enabled", opts.NetworkEnabled); err != nil {
		return nil, fmt.Errorf("interp: setting network flag: %w", err)
	}

	r.baseline = make(map[string]bool)
	for _, name := range r.GlobalNames() {
		r.baseline[name] = true
	}
	debug.Log("interp", "runtime ready", "workdir", workDir, "baseline_globals", len(r.baseline))
	return r, nil
}

// SetOutput directs console output to the given sinks for subsequent runs.
// Per-call buffers avoid cross-request leakage.
func (r *Runtime) SetOutput(stdout, stderr io.Writer) {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	r.stdout = stdout
	r.stderr = stderr
}

// SwapStdout replaces the stdout sink and returns a function restoring the
// previous one. Used to suppress diagnostic output from machinery that is
// not user code, such as session restore.
func (r *Runtime) SwapStdout(w io.Writer) (restore func()) {
	prev := r.stdout
	if w == nil {
		w = io.Discard
	}
	r.stdout = w
	return func() { r.stdout = prev }
}

// SetHook installs the file hook for the next run. Passing nil removes any
// installed hook.
func (r *Runtime) SetHook(h FileHook) {
	if h == nil {
		h = nopHook{}
	}
	r.hook = h
}

// Run evaluates code and returns the final expression value. A thrown
// exception is returned as an error; the runtime remains usable afterwards.
func (r *Runtime) Run(code string) (goja.Value, error) {
	v, err := r.vm.RunString(code)
	if err != nil {
		var ex *goja.Exception
		if ok := asException(err, &ex); ok {
			return nil, fmt.Errorf("interp: uncaught exception: %s", ex.Value().String())
		}
		return nil, fmt.Errorf("interp: %w", err)
	}
	return v, nil
}

func asException(err error, target **goja.Exception) bool {
	ex, ok := err.(*goja.Exception)
	if ok {
		*target = ex
	}
	return ok
}

// WriteFile materializes one input file into the workspace, creating parent
// directories as needed. Materialization is not an observed change; the hook
// is not consulted.
func (r *Runtime) WriteFile(path string, content []byte) error {
	abs := r.resolve(path)
	if dir := parentDir(abs); dir != "" {
		if err := r.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("interp: creating %s: %w", dir, err)
		}
	}
	if err := afero.WriteFile(r.fs, abs, content, 0o644); err != nil {
		return fmt.Errorf("interp: writing %s: %w", abs, err)
	}
	return nil
}

// InvalidateModules clears the require cache so newly materialized files
// that look like modules are recognized on the next require call.
func (r *Runtime) InvalidateModules() {
	r.modules.invalidate()
}

// GlobalNames returns the enumerable own names of the global object.
func (r *Runtime) GlobalNames() []string {
	return r.vm.GlobalObject().Keys()
}

// IsBaseline reports whether a global name belongs to the runtime's own
// installed surface rather than to user code.
func (r *Runtime) IsBaseline(name string) bool {
	return r.baseline[name]
}

// Global returns the value bound to a global name.
func (r *Runtime) Global(name string) goja.Value {
	return r.vm.GlobalObject().Get(name)
}

// SetGlobal binds a value to a global name, overwriting any collision.
func (r *Runtime) SetGlobal(name string, value any) error {
	return r.vm.Set(name, value)
}

// VM exposes the underlying goja runtime for value construction and
// evaluation by the session codec.
func (r *Runtime) VM() *goja.Runtime { return r.vm }

// Fs returns the workspace filesystem for snapshotting.
func (r *Runtime) Fs() afero.Fs { return r.fs }

// WorkDir returns the directory relative paths resolve against.
func (r *Runtime) WorkDir() string { return r.workDir }

// Uptime returns how long the runtime has been warm.
func (r *Runtime) Uptime() time.Duration { return time.Since(r.started) }

// installConsole binds console.log / console.error to the current sinks.
// The sinks are read at call time so SetOutput/SwapStdout take effect
// without reinstalling.
func (r *Runtime) installConsole() error {
	console := r.vm.NewObject()

	logTo := func(sink func() io.Writer) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			out := sink()
			for i, arg := range call.Arguments {
				if i > 0 {
					io.WriteString(out, " ")
				}
				io.WriteString(out, arg.String())
			}
			io.WriteString(out, "\n")
			return goja.Undefined()
		}
	}

	if err := console.Set("log", logTo(func() io.Writer { return r.stdout })); err != nil {
		return fmt.Errorf("interp: installing console.log: %w", err)
	}
	if err := console.Set("error", logTo(func() io.Writer { return r.stderr })); err != nil {
		return fmt.Errorf("interp: installing console.error: %w", err)
	}
	if err := r.vm.Set("console", console); err != nil {
		return fmt.Errorf("interp: installing console: %w", err)
	}
	return nil
}

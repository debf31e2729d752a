// Package modload loads and unloads external command modules.
//
// A module is a named unit of code that contributes builtins to the shell.
// The Loader keeps exactly one Module record per distinct name and reference
// counts it: the initial load holds one reference, and every registered
// builtin that belongs to the module holds another. When the count reaches
// zero the module's unload-notify routine fires exactly once and the backing
// image is released.
//
// The actual mapping of a name to runnable code is behind the Backend
// interface so the loader's lifetime rules are testable without touching the
// filesystem. The production backend (ExecBackend) resolves a module to a
// directory containing a module.yaml manifest and an entrypoint executable.
package modload

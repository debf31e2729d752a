package modload

import "context"

// BuiltinDecl is one builtin a module declares in its manifest.
type BuiltinDecl struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
}

// Image is a mapped module as produced by a Backend.
type Image interface {
	// Name is the canonical module name from the manifest.
	Name() string
	// Path is where the module was resolved from, for display.
	Path() string
	// Entrypoint is the executable that serves the module's builtins.
	Entrypoint() string
	// Builtins lists the builtins the module declares.
	Builtins() []BuiltinDecl
}

// Backend maps module names to images and releases them again.
type Backend interface {
	Load(ctx context.Context, name string) (Image, error)
	Unload(img Image) error
}

package cmd

// Options holds the shared command-line options for the gallerist CLI.
type Options struct {
	Manifest   string // Manifest path override
	PayloadDir string // Payload output directory override
	Verbosity  int
	NoColor    bool
}

// Option is a functional option for configuring Options.
type Option func(*Options)

// NewOptions creates a new Options with defaults and applies any provided options.
func NewOptions(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithManifest sets the manifest path.
func WithManifest(path string) Option {
	return func(o *Options) {
		o.Manifest = path
	}
}

// WithVerbosity sets the verbosity level.
func WithVerbosity(v int) Option {
	return func(o *Options) {
		o.Verbosity = v
	}
}

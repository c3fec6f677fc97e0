package config

import "context"

// Loader reads configuration files into the model.
type Loader interface {
	// Load reads every file found under paths. Directories are walked.
	Load(ctx context.Context, paths ...string) (*Model, error)
}

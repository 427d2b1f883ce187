package config

// Source names the layer a resolved value came from.
type Source string

const (
	// SourceDefault is a built-in default from the schema.
	SourceDefault Source = "default"

	// SourceGlobal is the per-user file under ~/.config.
	SourceGlobal Source = "global"

	// SourceLocal is the per-repository file at the git root.
	SourceLocal Source = "local"

	// SourceEnv is a prefixed environment variable.
	SourceEnv Source = "env"
)

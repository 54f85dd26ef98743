package config

// ExecutionConfig configures the built-in file and shell tools.
type ExecutionConfig struct {
	// BaseDir scopes the file tools. Paths resolving outside it are
	// rejected with a permission failure.
	BaseDir string `yaml:"base_dir"`

	// AllowedBinaries whitelists commands the shell tool may run.
	AllowedBinaries []string `yaml:"allowed_binaries"`

	// DefaultTimeout bounds a single shell command.
	DefaultTimeout string `yaml:"default_timeout"`

	// AllowedEnvVars are the only variables passed through to commands.
	AllowedEnvVars []string `yaml:"allowed_env_vars"`
}

// DefaultExecutionConfig returns the default tool execution settings.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		BaseDir: ".",
		AllowedBinaries: []string{
			"go", "git", "grep", "ls", "cat", "mkdir", "cp", "mv",
			"python", "python3", "make",
		},
		DefaultTimeout: "30s",
		AllowedEnvVars: []string{"PATH", "HOME", "LANG"},
	}
}

// Package configs embeds the configuration templates written by
// 'forge config init'.
package configs

import _ "embed"

// ProjectConfigTemplate is written to .forge.yaml in the project root.
// It holds the settings worth versioning with the project.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string

// UserConfigTemplate is written to the user config path by
// 'forge config init --user'. It holds the machine settings: the Ollama
// host and models, worker counts and the log level.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

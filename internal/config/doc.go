// Package config loads daemon configuration and keeps the live rule set
// in step with the rule file.
//
// Configuration is layered: built-in defaults, then the YAML file (unknown
// keys rejected), then POSTURE_* environment variables. Command-line flags
// are applied last by the CLI.
package config

// Package config loads and validates push-node configuration from YAML.
//
// Loading pipeline: Load (read + env expansion) → applyDefaults → Validate.
// Use LoadAndValidate unless a step needs to be skipped.
package config

// Package config loads codesearch configuration with viper.
//
// Sources, lowest precedence first: built-in Defaults, a YAML file
// (codesearch.yaml in the working directory or ~/.codesearch, or an
// explicit path), a .env file, and CODESEARCH_* environment variables
// where dots in keys become underscores (CODESEARCH_INDEX_NPROBE).
//
// Check reports settings that cannot work; Validate returns warnings for
// settings that work but are probably not intended.
package config

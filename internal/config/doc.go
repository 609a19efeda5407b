// Package config loads the gateway's YAML configuration.
//
// Values may reference environment variables as ${VAR}; they are expanded
// before parsing so credentials never have to live in the file.
package config

// Package config defines the format-agnostic settings model of the server
// and the Loader interface for reading it from a settings file.
//
// Settings are layered, lowest precedence first: Default(), a settings file
// read by a Loader (see the hcl package), a .env file plus MELLON_*
// environment variables (ApplyEnv), and finally command-line flags applied
// by the app package.
package config

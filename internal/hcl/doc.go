// Package hcl provides the HCL implementation of config.Loader. It parses
// a settings file with hclparse, decodes it with gohcl and overlays the
// result onto a config.Settings.
package hcl

// Package configs embeds the configuration template written by
// `kbindex init`.
//
// To change the template, edit kbindex.example.yaml and rebuild. Keep it in
// step with the defaults in internal/config NewConfig().
package configs

import _ "embed"

// ConfigTemplate is the commented kbindex.yaml created by `kbindex init`.
//
//go:embed kbindex.example.yaml
var ConfigTemplate string

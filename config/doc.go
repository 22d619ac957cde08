// Package config loads memflow configuration from defaults, an optional
// YAML file, and environment overrides, in that precedence order.
//
// Components never read process state themselves; the loaded Config is
// passed explicitly into each constructor.
package config

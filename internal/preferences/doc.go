// Package preferences stores user preferences in a TOML or YAML file.
//
// Keys are dotted paths into nested tables. A handful of keys are known
// and carry defaults and a fixed type; appServer.binaryPath overrides
// where the supervisor looks for the app-server executable.
package preferences

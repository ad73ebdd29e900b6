// Package constants defines shared configuration constants.
package constants

// ConfigFile is the project configuration file looked up next to the
// declaration source.
const ConfigFile = "zoltan.yaml"

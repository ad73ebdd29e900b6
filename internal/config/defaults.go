package config

import "github.com/coral-mesh/zoltan/internal/constants"

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		DataModel: constants.DataModelLLP64,
		Workers:   constants.DefaultWorkers,
		Output: OutputConfig{
			DWARF:     constants.DefaultDWARFOutput,
			GoPackage: constants.DefaultGoPackage,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

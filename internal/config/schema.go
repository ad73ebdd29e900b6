// Package config provides configuration loading and management.
package config

// Config is the project configuration, usually stored in zoltan.yaml next to
// the declaration source.
type Config struct {
	// Frontend selects the declaration parser: cdecl or manifest. Empty means
	// detect from the source file extension.
	Frontend string `yaml:"frontend,omitempty" env:"ZOLTAN_FRONTEND"`

	// DataModel selects C type sizes for the frontends: llp64, lp64 or ilp32.
	DataModel string `yaml:"data_model,omitempty" env:"ZOLTAN_DATA_MODEL"`

	// EagerTypeExport emits every type of the source, not only those
	// reachable from resolved symbols.
	EagerTypeExport bool `yaml:"eager_type_export,omitempty" env:"ZOLTAN_EAGER_TYPE_EXPORT"`

	// StripNamespaces drops "ns::" qualifiers from emitted names.
	StripNamespaces bool `yaml:"strip_namespaces,omitempty" env:"ZOLTAN_STRIP_NAMESPACES"`

	// Workers bounds concurrent section scans and symbol resolution.
	Workers int `yaml:"workers,omitempty" env:"ZOLTAN_WORKERS"`

	Scan   ScanConfig   `yaml:"scan,omitempty"`
	Output OutputConfig `yaml:"output,omitempty"`
	Log    LogConfig    `yaml:"log,omitempty"`
}

// ScanConfig selects the sections searched for patterns.
type ScanConfig struct {
	// Sections lists section names to scan. Empty means every executable section.
	Sections []string `yaml:"sections,omitempty" env:"ZOLTAN_SCAN_SECTIONS"`
	// AllSections scans every file-backed section, including data.
	AllSections bool `yaml:"all_sections,omitempty" env:"ZOLTAN_SCAN_ALL_SECTIONS"`
}

// OutputConfig names the generated artifacts. Empty paths disable an output,
// except DWARF which falls back to its default.
type OutputConfig struct {
	DWARF     string `yaml:"dwarf,omitempty" env:"ZOLTAN_OUTPUT_DWARF"`
	CHeader   string `yaml:"c_header,omitempty" env:"ZOLTAN_OUTPUT_C_HEADER"`
	Rust      string `yaml:"rust,omitempty" env:"ZOLTAN_OUTPUT_RUST"`
	Go        string `yaml:"go,omitempty" env:"ZOLTAN_OUTPUT_GO"`
	GoPackage string `yaml:"go_package,omitempty" env:"ZOLTAN_OUTPUT_GO_PACKAGE"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level,omitempty" env:"ZOLTAN_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty,omitempty" env:"ZOLTAN_LOG_PRETTY"`
}

// Package constants defines shared configuration constants and defaults.
package constants

// Frontends.
const (
	// FrontendCDecl parses annotated C declarations.
	FrontendCDecl = "cdecl"

	// FrontendManifest parses YAML declaration manifests.
	FrontendManifest = "manifest"
)

// Data models used to lay out C types.
const (
	// DataModelLLP64 is the Windows data model: 32-bit long, 64-bit pointers.
	DataModelLLP64 = "llp64"

	// DataModelLP64 is the Unix data model: 64-bit long and pointers.
	DataModelLP64 = "lp64"

	// DataModelILP32 is the 32-bit data model: 32-bit int, long and pointers.
	DataModelILP32 = "ilp32"
)

// Limits.
const (
	// DefaultWorkers bounds section scans and symbol resolution when the
	// configuration leaves workers at zero.
	DefaultWorkers = 8

	// MaxWorkers is the largest worker count accepted by the validator.
	MaxWorkers = 256

	// MaxSourceSize is the largest declaration source accepted (16MB).
	MaxSourceSize = 16 << 20
)

// Output defaults.
const (
	// DefaultDWARFOutput is the debug object written by generate.
	DefaultDWARFOutput = "zoltan.o"

	// DefaultGoPackage is the package clause of the Go header.
	DefaultGoPackage = "offsets"
)

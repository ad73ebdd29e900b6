// Package frontend selects the declaration parser for a source file.
package frontend

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/zoltan/internal/constants"
	"github.com/coral-mesh/zoltan/internal/frontend/cdecl"
	"github.com/coral-mesh/zoltan/internal/frontend/ctype"
	"github.com/coral-mesh/zoltan/internal/frontend/manifest"
	"github.com/coral-mesh/zoltan/pkg/decl"
)

// Detect picks a frontend name from the source file extension.
func Detect(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".h", ".hh", ".hpp", ".hxx", ".c", ".cc", ".cpp":
		return constants.FrontendCDecl, nil
	case ".yaml", ".yml":
		return constants.FrontendManifest, nil
	default:
		return "", fmt.Errorf("cannot detect the frontend for %q, set frontend in the configuration", path)
	}
}

// New returns the frontend called name for the data model called dataModel.
// An empty name is detected from path.
func New(name, path, dataModel string, logger zerolog.Logger) (decl.Frontend, error) {
	if name == "" {
		var err error
		if name, err = Detect(path); err != nil {
			return nil, err
		}
	}
	model, err := ctype.ModelByName(dataModel)
	if err != nil {
		return nil, err
	}

	switch name {
	case constants.FrontendCDecl:
		return cdecl.New(model, logger), nil
	case constants.FrontendManifest:
		return manifest.New(model, logger), nil
	default:
		return nil, fmt.Errorf("unknown frontend %q", name)
	}
}

package cad

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ReadFile parses a drawing, choosing the reader by extension: .json for
// the entity stream, .dxf, or .shp.
func ReadFile(path string) (*Drawing, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		f, err := os.Open(path)
		if err != nil {
			return nil, &ParseError{File: path, Err: eris.Wrap(err, "open entity stream")}
		}
		defer f.Close() //nolint:errcheck
		return DecodeJSON(f, path)
	case ".dxf":
		return ReadDXF(path)
	case ".shp":
		return ReadShapefile(path)
	}
	return nil, &ParseError{File: path, Err: eris.Errorf("unsupported drawing format %q", filepath.Ext(path))}
}

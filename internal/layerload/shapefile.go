// Package layerload imports shapefiles into PostGIS tables that the overlay
// engine can query.
package layerload

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Dataset is a decoded shapefile: one text value (or nil) per column
// followed by the EWKB geometry.
type Dataset struct {
	Columns []string
	Rows    [][]any
	Skipped int
}

type shapeReader interface {
	Next() bool
	Shape() (int, shp.Shape)
	Attribute(n int) string
	Fields() []shp.Field
	Err() error
	Close() error
}

func openShapes(path string) (shapeReader, error) {
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		zr, err := shp.OpenZip(path)
		if err != nil {
			return nil, err
		}
		return zr, nil
	}
	r, err := shp.Open(path)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ReadShapefile decodes a .shp (with its .dbf) or a .zip holding a single
// shapefile. Records without a usable geometry are skipped. Attributes
// named in reserved are renamed so they cannot clash with generated columns.
func ReadShapefile(path string, srid int, reserved ...string) (*Dataset, error) {
	reader, err := openShapes(path)
	if err != nil {
		return nil, eris.Wrapf(err, "layerload: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	columns := columnNames(reader.Fields(), reserved)
	ds := &Dataset{Columns: columns}

	for reader.Next() {
		_, shape := reader.Shape()
		data, err := EncodeShape(shape, srid)
		if err != nil || data == nil {
			ds.Skipped++
			continue
		}

		row := make([]any, 0, len(columns)+1)
		for i := range columns {
			val := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			if val == "" {
				row = append(row, nil)
			} else {
				row = append(row, val)
			}
		}
		row = append(row, data)
		ds.Rows = append(ds.Rows, row)
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "layerload: read shapefile %s", path)
	}

	if ds.Skipped > 0 {
		zap.L().Debug("layerload: skipped shapefile records",
			zap.String("path", path),
			zap.Int("skipped", ds.Skipped),
		)
	}
	return ds, nil
}

// columnNames keeps DBF field names as written, filling blanks and
// suffixing duplicates or reserved names with _2, _3 and so on.
func columnNames(fields []shp.Field, reserved []string) []string {
	taken := make(map[string]bool, len(fields)+len(reserved))
	for _, r := range reserved {
		taken[strings.ToLower(r)] = true
	}

	out := make([]string, len(fields))
	for i, f := range fields {
		name := strings.TrimSpace(strings.TrimRight(f.String(), "\x00"))
		if name == "" {
			name = fmt.Sprintf("field_%d", i+1)
		}
		candidate := name
		for n := 2; taken[strings.ToLower(candidate)]; n++ {
			candidate = fmt.Sprintf("%s_%d", name, n)
		}
		taken[strings.ToLower(candidate)] = true
		out[i] = candidate
	}
	return out
}

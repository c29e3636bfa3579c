// Package boq reads bills of quantities from CSV, XLSX or JSON files.
package boq

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/takeoff/internal/fetcher"
	"github.com/sells-group/takeoff/internal/model"
	"github.com/sells-group/takeoff/internal/textutil"
)

// headerScanRows bounds how far down a sheet the header row is searched.
const headerScanRows = 30

// Options tunes reading.
type Options struct {
	Sheet string // XLSX sheet name; first sheet when empty
}

type column int

const (
	colIndex column = iota
	colDescription
	colUnit
	colQty
	colHeight
	colSides
	colThickness
	colDiscipline
)

var aliases = map[string]column{
	"item": colIndex, "items": colIndex, "index": colIndex, "n": colIndex, "no": colIndex,
	"nro": colIndex, "numero": colIndex, "nº": colIndex, "codigo": colIndex, "code": colIndex,

	"descripcion": colDescription, "description": colDescription, "designacion": colDescription,
	"partida": colDescription, "detalle": colDescription,

	"unidad": colUnit, "unit": colUnit, "un": colUnit, "ud": colUnit, "und": colUnit, "uom": colUnit,

	"cantidad": colQty, "cant": colQty, "qty": colQty, "quantity": colQty, "cubicacion": colQty,

	"altura": colHeight, "alto": colHeight, "height": colHeight,
	"caras": colSides, "sides": colSides,
	"espesor": colThickness, "thickness": colThickness,
	"especialidad": colDiscipline, "disciplina": colDiscipline, "discipline": colDiscipline,
}

// Read loads the BoQ at path, choosing the reader by extension.
func Read(ctx context.Context, path string, opts Options) ([]model.BoQLineItem, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return readJSON(path)
	case ".xlsx":
		rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{SheetName: opts.Sheet})
		if err != nil {
			return nil, eris.Wrapf(err, "boq: read %s", path)
		}
		return Parse(rows)
	case ".csv", ".txt", "":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "boq: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		rows, err := fetcher.ReadCSV(ctx, f, fetcher.CSVOptions{TrimSpace: true, LazyQuotes: true})
		if err != nil {
			return nil, eris.Wrapf(err, "boq: read %s", path)
		}
		return Parse(rows)
	}
	return nil, eris.Errorf("boq: unsupported file type %q", filepath.Ext(path))
}

func readJSON(path string) ([]model.BoQLineItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "boq: open %s", path)
	}
	var items []model.BoQLineItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, eris.Wrapf(err, "boq: decode %s", path)
	}
	for i := range items {
		if items[i].Index == 0 {
			items[i].Index = i + 1
		}
	}
	return items, nil
}

// Parse turns spreadsheet rows into line items. The header row is the first
// row naming a description column; rows above it are skipped. Indexes are
// 1-based positions among the returned items.
func Parse(rows [][]string) ([]model.BoQLineItem, error) {
	hdr, cols, err := findHeader(rows)
	if err != nil {
		return nil, err
	}

	var items []model.BoQLineItem
	for i := hdr + 1; i < len(rows); i++ {
		cells := rows[i]
		desc := strings.TrimSpace(cell(cells, cols, colDescription))
		if desc == "" {
			continue
		}
		it := model.BoQLineItem{
			Index:       len(items) + 1,
			Description: desc,
			Unit:        strings.TrimSpace(cell(cells, cols, colUnit)),
			Discipline:  strings.TrimSpace(cell(cells, cols, colDiscipline)),
		}
		it.ExpectedQty = number(cells, cols, colQty, i)
		it.HeightFactor = number(cells, cols, colHeight, i)
		it.SidesMultiplier = number(cells, cols, colSides, i)
		it.Thickness = number(cells, cols, colThickness, i)
		items = append(items, it)
	}
	return items, nil
}

func findHeader(rows [][]string) (int, map[column]int, error) {
	for i := 0; i < len(rows) && i < headerScanRows; i++ {
		cols := make(map[column]int)
		for j, name := range rows[i] {
			c, ok := aliases[textutil.Normalize(name)]
			if !ok {
				continue
			}
			if _, dup := cols[c]; !dup {
				cols[c] = j
			}
		}
		if _, ok := cols[colDescription]; ok {
			return i, cols, nil
		}
	}
	return 0, nil, eris.New("boq: no header row with a description column")
}

func cell(cells []string, cols map[column]int, c column) string {
	j, ok := cols[c]
	if !ok || j >= len(cells) {
		return ""
	}
	return cells[j]
}

func number(cells []string, cols map[column]int, c column, row int) *float64 {
	raw := cell(cells, cols, c)
	v, ok, err := ParseNumber(raw)
	if err != nil {
		zap.L().Warn("boq: unparseable number", zap.Int("row", row+1), zap.String("value", raw))
		return nil
	}
	if !ok {
		return nil
	}
	return &v
}

// ParseNumber parses locale-formatted numbers: "1.234,5", "1,234.5",
// "1234,5" and "1234.5" all work. With both separators present the last
// one is the decimal mark; a single separator occurring once is decimal,
// repeated it groups thousands. ok is false for an empty cell.
func ParseNumber(s string) (v float64, ok bool, err error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '$':
			return -1
		}
		return r
	}, s)
	if s == "" || s == "-" {
		return 0, false, nil
	}

	dot, comma := strings.LastIndexByte(s, '.'), strings.LastIndexByte(s, ',')
	switch {
	case dot >= 0 && comma >= 0:
		if comma > dot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case dot >= 0:
		if strings.Count(s, ".") > 1 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	v, err = strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, eris.Wrapf(err, "boq: parse number %q", s)
	}
	return v, true, nil
}

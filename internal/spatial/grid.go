// Package spatial indexes text labels by position and attaches nearby
// words to geometry items.
package spatial

import (
	"math"
	"sort"

	"github.com/sells-group/takeoff/internal/model"
)

// DefaultCellSize is the grid cell edge in meters.
const DefaultCellSize = 10.0

// Entry is one indexed text.
type Entry struct {
	Text     string
	Position model.Point
	seq      int
}

// Match is a query hit with its distance to the query point.
type Match struct {
	Entry
	Distance float64
}

type cell struct {
	x, y int64
}

// Grid buckets texts into square cells. Build it with Insert, then query it
// from any number of goroutines; Insert must not run concurrently with
// queries.
type Grid struct {
	size  float64
	cells map[cell][]Entry
	n     int
}

// NewGrid returns an empty grid. A non-positive cell size falls back to
// DefaultCellSize.
func NewGrid(cellSize float64) *Grid {
	if cellSize <= 0 || math.IsNaN(cellSize) || math.IsInf(cellSize, 0) {
		cellSize = DefaultCellSize
	}
	return &Grid{size: cellSize, cells: make(map[cell][]Entry)}
}

func (g *Grid) cellOf(p model.Point) cell {
	return cell{x: int64(math.Floor(p.X / g.size)), y: int64(math.Floor(p.Y / g.size))}
}

// Insert adds a text at position p.
func (g *Grid) Insert(text string, p model.Point) {
	c := g.cellOf(p)
	g.cells[c] = append(g.cells[c], Entry{Text: text, Position: p, seq: g.n})
	g.n++
}

// Len returns the number of indexed texts.
func (g *Grid) Len() int {
	return g.n
}

// QueryNearby returns every text within maxDist of p, closest first, ties
// in insertion order. Only the cells within ceil(maxDist/cellSize) of the
// query cell on each axis are scanned.
func (g *Grid) QueryNearby(p model.Point, maxDist float64) []Match {
	if maxDist < 0 || g.n == 0 {
		return nil
	}
	reach := int64(math.Ceil(maxDist / g.size))
	center := g.cellOf(p)

	var out []Match
	for dx := -reach; dx <= reach; dx++ {
		for dy := -reach; dy <= reach; dy++ {
			for _, e := range g.cells[cell{x: center.x + dx, y: center.y + dy}] {
				if d := p.Dist(e.Position); d <= maxDist {
					out = append(out, Match{Entry: e, Distance: d})
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].seq < out[j].seq
	})
	return out
}

package engine

import (
	"fmt"
	"strings"
)

// CountMismatch reports a polygon whose stored containment count disagrees
// with its graph degree.
type CountMismatch struct {
	PolygonID string
	Stored    int
	Graph     int
}

// CheckReport lists every divergence between the metadata tables and the
// containment graph. All slices are sorted.
type CheckReport struct {
	// ImagesMissingFromTable are graph image vertices without a table row.
	ImagesMissingFromTable []string
	// ImagesMissingFromGraph are image rows without a graph vertex.
	ImagesMissingFromGraph []string
	// PolygonsMissingFromTable are graph polygon vertices without a table row.
	PolygonsMissingFromTable []string
	// PolygonsMissingFromGraph are polygon rows without a graph vertex.
	PolygonsMissingFromGraph []string
	// CountMismatches are polygons whose stored count disagrees with the
	// graph. Only polygons present on both sides are compared.
	CountMismatches []CountMismatch
}

// OK reports whether the dataset is consistent.
func (r *CheckReport) OK() bool {
	return len(r.ImagesMissingFromTable) == 0 &&
		len(r.ImagesMissingFromGraph) == 0 &&
		len(r.PolygonsMissingFromTable) == 0 &&
		len(r.PolygonsMissingFromGraph) == 0 &&
		len(r.CountMismatches) == 0
}

// String summarizes the report in one line.
func (r *CheckReport) String() string {
	if r.OK() {
		return "consistent"
	}
	var parts []string
	if n := len(r.ImagesMissingFromTable); n > 0 {
		parts = append(parts, fmt.Sprintf("%d image vertices without table rows", n))
	}
	if n := len(r.ImagesMissingFromGraph); n > 0 {
		parts = append(parts, fmt.Sprintf("%d image rows without graph vertices", n))
	}
	if n := len(r.PolygonsMissingFromTable); n > 0 {
		parts = append(parts, fmt.Sprintf("%d polygon vertices without table rows", n))
	}
	if n := len(r.PolygonsMissingFromGraph); n > 0 {
		parts = append(parts, fmt.Sprintf("%d polygon rows without graph vertices", n))
	}
	if n := len(r.CountMismatches); n > 0 {
		parts = append(parts, fmt.Sprintf("%d containment count mismatches", n))
	}
	return "inconsistent: " + strings.Join(parts, ", ")
}

// Check compares the metadata tables against the containment graph and
// reports every divergence. A healthy dataset returns an empty report; a
// non-empty one means state was corrupted externally or a bug broke the
// mutation path invariants.
func (c *Coordinator) Check() *CheckReport {
	c.mu.RLock()
	defer c.mu.RUnlock()

	report := &CheckReport{}

	graphImages := c.graph.Images()
	tableImages := c.images.Names()
	report.ImagesMissingFromTable, report.ImagesMissingFromGraph = diffSorted(graphImages, tableImages)

	graphPolygons := c.graph.Polygons()
	tablePolygons := c.polygons.IDs()
	report.PolygonsMissingFromTable, report.PolygonsMissingFromGraph = diffSorted(graphPolygons, tablePolygons)

	for _, id := range tablePolygons {
		stored, ok := c.polygons.ImgCount(id)
		if !ok {
			continue
		}
		degree, err := c.graph.ContainmentCount(id)
		if err != nil {
			// Missing vertex is already reported above.
			continue
		}
		if stored != degree {
			report.CountMismatches = append(report.CountMismatches, CountMismatch{
				PolygonID: id,
				Stored:    stored,
				Graph:     degree,
			})
		}
	}
	return report
}

// diffSorted returns the elements only in a and only in b. Both inputs must
// be sorted; both outputs are.
func diffSorted(a, b []string) (onlyA, onlyB []string) {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			i++
			j++
		case a[i] < b[j]:
			onlyA = append(onlyA, a[i])
			i++
		default:
			onlyB = append(onlyB, b[j])
			j++
		}
	}
	onlyA = append(onlyA, a[i:]...)
	onlyB = append(onlyB, b[j:]...)
	return onlyA, onlyB
}

package ai

import (
	"math"
	"sort"
)

// RotatedIoU returns the intersection over union of two oriented boxes
func RotatedIoU(a, b Detection) float64 {
	areaA, areaB := a.Area(), b.Area()
	if areaA <= 0 || areaB <= 0 {
		return 0
	}

	ca, cb := a.Corners(), b.Corners()
	inter := polygonArea(clipPolygon(ca[:], cb[:]))
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// NMS applies per-class non-maximum suppression on oriented boxes. The
// result is ordered by descending confidence.
func NMS(dets []Detection, iouThreshold float64) []Detection {
	if len(dets) == 0 {
		return nil
	}

	sorted := append([]Detection(nil), dets...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	keep := make([]Detection, 0, len(sorted))
	suppressed := make([]bool, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		keep = append(keep, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] || sorted[j].ClassID != sorted[i].ClassID {
				continue
			}
			if RotatedIoU(sorted[i], sorted[j]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return keep
}

// clipPolygon clips subject against the convex polygon clip
// (Sutherland-Hodgman). Both polygons must share the same winding.
func clipPolygon(subject, clip []Point) []Point {
	out := subject
	orientation := signedArea(clip)
	for i := range clip {
		if len(out) == 0 {
			return nil
		}
		a, b := clip[i], clip[(i+1)%len(clip)]
		in := out
		out = make([]Point, 0, len(in)+2)

		for j := range in {
			cur, prev := in[j], in[(j+len(in)-1)%len(in)]
			curIn := inside(a, b, cur, orientation)
			prevIn := inside(a, b, prev, orientation)

			switch {
			case curIn && prevIn:
				out = append(out, cur)
			case curIn && !prevIn:
				out = append(out, intersect(prev, cur, a, b), cur)
			case !curIn && prevIn:
				out = append(out, intersect(prev, cur, a, b))
			}
		}
	}
	return out
}

func inside(a, b, p Point, orientation float64) bool {
	cross := (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
	if orientation < 0 {
		cross = -cross
	}
	return cross >= -1e-9
}

// intersect returns the point where segment p1-p2 crosses the line a-b
func intersect(p1, p2, a, b Point) Point {
	dx, dy := p2.X-p1.X, p2.Y-p1.Y
	ex, ey := b.X-a.X, b.Y-a.Y
	denom := dx*ey - dy*ex
	if math.Abs(denom) < 1e-12 {
		return p2
	}
	t := ((a.X-p1.X)*ey - (a.Y-p1.Y)*ex) / denom
	return Point{p1.X + t*dx, p1.Y + t*dy}
}

func signedArea(poly []Point) float64 {
	var s float64
	for i := range poly {
		j := (i + 1) % len(poly)
		s += poly[i].X*poly[j].Y - poly[j].X*poly[i].Y
	}
	return s / 2
}

func polygonArea(poly []Point) float64 {
	if len(poly) < 3 {
		return 0
	}
	return math.Abs(signedArea(poly))
}

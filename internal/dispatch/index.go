package dispatch

import (
	"fmt"
	"math"
	"sort"

	"github.com/dhconnelly/rtreego"
)

const (
	indexTolerance   = 1e-6
	indexMinChildren = 4
	indexMaxChildren = 16

	// boundsMargin widens the prefilter box so floating point error never prunes a branch
	// sitting exactly on the radius.
	boundsMargin = 1e-9
)

type indexedBranch struct {
	branch BranchLocation
	order  int
	rect   *rtreego.Rect
}

func (ib *indexedBranch) Bounds() *rtreego.Rect {
	return ib.rect
}

// Index is an R-tree over an immutable snapshot of active branches. It is safe for concurrent
// reads once built; rebuild it when the snapshot changes.
type Index struct {
	tree *rtreego.Rtree
	size int
}

// NewIndex indexes the active branches of the snapshot. Inactive branches are skipped.
func NewIndex(branches []BranchLocation) *Index {
	tree := rtreego.NewTree(2, indexMinChildren, indexMaxChildren)
	size := 0
	for i, b := range branches {
		if !b.IsActive {
			continue
		}
		p := rtreego.Point{b.Location.Latitude, b.Location.Longitude}
		tree.Insert(&indexedBranch{branch: b, order: i, rect: p.ToRect(indexTolerance)})
		size++
	}
	return &Index{tree: tree, size: size}
}

// Size returns the number of indexed branches.
func (idx *Index) Size() int {
	return idx.size
}

// WithinRadius returns the indexed branches no further than radiusKm from center, nearest first.
func (idx *Index) WithinRadius(center GeoPoint, radiusKm float64) ([]NearbyBranchResult, error) {
	if err := center.Validate(); err != nil {
		return nil, err
	}
	if math.IsNaN(radiusKm) || radiusKm <= 0 {
		return nil, fmt.Errorf("%w: radius must be positive", ErrInvalidArgument)
	}

	boxes, err := searchBounds(center, radiusKm)
	if err != nil {
		return nil, err
	}

	type hit struct {
		result NearbyBranchResult
		order  int
	}
	var hits []hit
	seen := make(map[int]struct{})
	for _, item := range idx.search(boxes) {
		ib, ok := item.(*indexedBranch)
		if !ok {
			continue
		}
		if _, dup := seen[ib.order]; dup {
			continue
		}
		seen[ib.order] = struct{}{}
		d := Distance(center, ib.branch.Location)
		if d > radiusKm {
			continue
		}
		hits = append(hits, hit{
			result: NearbyBranchResult{
				BranchID:   ib.branch.ID,
				Name:       ib.branch.Name,
				Phone:      ib.branch.Phone,
				Address:    ib.branch.Address,
				DistanceKm: d,
			},
			order: ib.order,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].result.DistanceKm != hits[j].result.DistanceKm {
			return hits[i].result.DistanceKm < hits[j].result.DistanceKm
		}
		return hits[i].order < hits[j].order
	})

	results := make([]NearbyBranchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, h.result)
	}
	return results, nil
}

func (idx *Index) search(boxes []*rtreego.Rect) []rtreego.Spatial {
	var out []rtreego.Spatial
	for _, box := range boxes {
		out = append(out, idx.tree.SearchIntersect(box)...)
	}
	return out
}

// searchBounds returns the lat/lon boxes covering every point within radiusKm of center on
// the sphere used by Distance. A box crossing the antimeridian is split in two.
func searchBounds(center GeoPoint, radiusKm float64) ([]*rtreego.Rect, error) {
	angular := radiusKm / earthRadiusKm
	latDeg := angular*180/math.Pi + boundsMargin

	minLat := center.Latitude - latDeg
	maxLat := center.Latitude + latDeg

	lonDeg := 180.0
	if minLat > -90 && maxLat < 90 && angular < math.Pi/2 {
		// Widest longitude spread of the spherical cap, reached off the centre parallel.
		if ratio := math.Sin(angular) / math.Cos(radians(center.Latitude)); ratio < 1 {
			lonDeg = math.Asin(ratio)*180/math.Pi + boundsMargin
		}
	}
	minLat = math.Max(-90, minLat)
	maxLat = math.Min(90, maxLat)

	if lonDeg >= 180 {
		box, err := newBox(minLat, maxLat, -180, 180)
		if err != nil {
			return nil, err
		}
		return []*rtreego.Rect{box}, nil
	}

	minLon := center.Longitude - lonDeg
	maxLon := center.Longitude + lonDeg
	var spans [][2]float64
	switch {
	case minLon < -180:
		spans = [][2]float64{{-180, maxLon}, {minLon + 360, 180}}
	case maxLon > 180:
		spans = [][2]float64{{minLon, 180}, {-180, maxLon - 360}}
	default:
		spans = [][2]float64{{minLon, maxLon}}
	}

	boxes := make([]*rtreego.Rect, 0, len(spans))
	for _, span := range spans {
		box, err := newBox(minLat, maxLat, span[0], span[1])
		if err != nil {
			return nil, err
		}
		boxes = append(boxes, box)
	}
	return boxes, nil
}

func newBox(minLat, maxLat, minLon, maxLon float64) (*rtreego.Rect, error) {
	return rtreego.NewRect(
		rtreego.Point{minLat, minLon},
		[]float64{math.Max(maxLat-minLat, indexTolerance), math.Max(maxLon-minLon, indexTolerance)},
	)
}

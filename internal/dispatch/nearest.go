package dispatch

import (
	"sort"

	"github.com/google/uuid"
)

// DefaultNearestCount is used by FindNearest when the caller passes a non-positive count.
const DefaultNearestCount = 5

// BranchLocation is the slice of a branch record that dispatch ranking needs.
type BranchLocation struct {
	ID       uuid.UUID
	Name     string
	Phone    string
	Address  string
	Location GeoPoint
	IsActive bool
}

// NearbyBranchResult is a ranked branch with its distance to the customer.
type NearbyBranchResult struct {
	BranchID   uuid.UUID `json:"branch_id"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone"`
	Address    string    `json:"address"`
	DistanceKm float64   `json:"distance_km"`
}

// FindNearest ranks the active branches by distance to customer and returns at most count of them.
// Branches at equal distance keep their input order.
func FindNearest(customer GeoPoint, branches []BranchLocation, count int) []NearbyBranchResult {
	if count <= 0 {
		count = DefaultNearestCount
	}

	results := make([]NearbyBranchResult, 0, len(branches))
	for _, b := range branches {
		if !b.IsActive {
			continue
		}
		results = append(results, NearbyBranchResult{
			BranchID:   b.ID,
			Name:       b.Name,
			Phone:      b.Phone,
			Address:    b.Address,
			DistanceKm: Distance(customer, b.Location),
		})
	}

	sortByDistance(results)

	if len(results) > count {
		results = results[:count]
	}
	return results
}

func sortByDistance(results []NearbyBranchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].DistanceKm < results[j].DistanceKm
	})
}

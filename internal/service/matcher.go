package service

import (
	"sort"

	"github.com/pothole-prioritizer/backend/internal/models"
	"github.com/pothole-prioritizer/backend/internal/utils"
)

// DefaultMatchRadiusMeters is the product's anti-duplicate radius: two
// submissions closer than this are presumed to describe the same pothole.
const DefaultMatchRadiusMeters = 25.0

type Candidate struct {
	Report         models.Report `json:"report"`
	DistanceMeters float64       `json:"distance_meters"`
}

// FindNearby filters reports down to open ones within radiusMeters of the
// candidate location, sorted ascending by distance with ties broken by the
// earliest CreatedAt. Pure query, no side effects.
func FindNearby(reports []models.Report, lat, lon, radiusMeters float64) []Candidate {
	var out []Candidate
	for _, r := range reports {
		if r.Status == models.StatusFixed {
			continue
		}
		d := utils.HaversineMeters(lat, lon, r.Latitude, r.Longitude)
		if d <= radiusMeters {
			out = append(out, Candidate{Report: r, DistanceMeters: d})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceMeters == out[j].DistanceMeters {
			return out[i].Report.CreatedAt.Before(out[j].Report.CreatedAt)
		}
		return out[i].DistanceMeters < out[j].DistanceMeters
	})
	return out
}

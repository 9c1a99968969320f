package domain

import (
	"fmt"

	"github.com/paulmach/orb"
)

// AreaCollection is the store key all reported areas live under.
const AreaCollection = "reportedAreas"

const featureType = "Feature"

// ReportedArea is a user-drawn polygon. Ring and Centroid are in [lng, lat] order.
type ReportedArea struct {
	ID          string
	Ring        orb.Ring
	Centroid    orb.Point
	CreatedAtMs int64
}

// AreaSet is a full snapshot of reported areas keyed by id.
type AreaSet map[string]ReportedArea

// Clone returns a deep copy so snapshot holders never share backing arrays.
func (s AreaSet) Clone() AreaSet {
	out := make(AreaSet, len(s))
	for id, a := range s {
		a.Ring = append(orb.Ring(nil), a.Ring...)
		out[id] = a
	}
	return out
}

// ValidateRing checks that ring has at least three distinct, in-range vertices.
func ValidateRing(ring orb.Ring) error {
	distinct := make(map[orb.Point]struct{}, len(ring))
	for i, p := range ring {
		if p[1] < -90 || p[1] > 90 {
			return fmt.Errorf("%w: vertex %d latitude must be between -90 and 90", ErrInvalidRing, i)
		}
		if p[0] < -180 || p[0] > 180 {
			return fmt.Errorf("%w: vertex %d longitude must be between -180 and 180", ErrInvalidRing, i)
		}
		distinct[p] = struct{}{}
	}
	if len(distinct) < 3 {
		return fmt.Errorf("%w: need at least 3 distinct vertices, got %d", ErrInvalidRing, len(distinct))
	}
	return nil
}

// Centroid is the component-wise mean of the ring vertices. A closing vertex
// equal to the first one is not counted twice.
func Centroid(ring orb.Ring) orb.Point {
	pts := ring
	if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	if len(pts) == 0 {
		return orb.Point{}
	}
	var sumLng, sumLat float64
	for _, p := range pts {
		sumLng += p[0]
		sumLat += p[1]
	}
	n := float64(len(pts))
	return orb.Point{sumLng / n, sumLat / n}
}

// AreaRecord is the persisted shape under reportedAreas/{id}. Field order and
// casing are shared with every other client of the store.
type AreaRecord struct {
	Coordinates orb.Ring       `json:"coordinates"`
	Center      orb.Point      `json:"center"`
	Timestamp   int64          `json:"timestamp"`
	Type        string         `json:"type"`
	Properties  AreaProperties `json:"properties"`
}

type AreaProperties struct {
	ID string `json:"id"`
}

func (a ReportedArea) Record() AreaRecord {
	return AreaRecord{
		Coordinates: a.Ring,
		Center:      a.Centroid,
		Timestamp:   a.CreatedAtMs,
		Type:        featureType,
		Properties:  AreaProperties{ID: a.ID},
	}
}

// Area converts a stored record back into a ReportedArea. The store key wins
// over properties.id, which older clients never wrote. The centroid is
// recomputed from the ring rather than read from center.
func (r AreaRecord) Area(key string) ReportedArea {
	id := key
	if id == "" {
		id = r.Properties.ID
	}
	return ReportedArea{
		ID:          id,
		Ring:        r.Coordinates,
		Centroid:    Centroid(r.Coordinates),
		CreatedAtMs: r.Timestamp,
	}
}

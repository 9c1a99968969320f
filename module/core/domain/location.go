package domain

import (
	"time"

	"github.com/paulmach/orb"
)

// Location is a single position sample from the platform location service.
type Location struct {
	Lat       float64   `json:"latitude"`
	Lon       float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// Point returns the sample in [lng, lat] order.
func (l Location) Point() orb.Point {
	return orb.Point{l.Lon, l.Lat}
}

func (l Location) TimestampMs() int64 {
	return l.Timestamp.UnixMilli()
}

package domain

// DefaultGeofenceRadius is the proximity radius in meters around an area centroid.
const DefaultGeofenceRadius = 100

type GeofenceEvent struct {
	AreaID            string  `json:"area_id"`
	DistanceMeters    float64 `json:"distance_meters"`
	SampleTimestampMs int64   `json:"sample_timestamp_ms"`
}

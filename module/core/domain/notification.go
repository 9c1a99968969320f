package domain

const (
	NotificationTitle = "Reported Area Nearby"
	NotificationBody  = "You are near a reported area. Please be cautious."
)

type Notification struct {
	Title          string  `json:"title"`
	Body           string  `json:"body"`
	AreaID         string  `json:"area_id"`
	DistanceMeters float64 `json:"distance_meters"`
	TimestampMs    int64   `json:"timestamp"`
}

func NewNotification(ev GeofenceEvent) *Notification {
	return &Notification{
		Title:          NotificationTitle,
		Body:           NotificationBody,
		AreaID:         ev.AreaID,
		DistanceMeters: ev.DistanceMeters,
		TimestampMs:    ev.SampleTimestampMs,
	}
}

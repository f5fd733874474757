package models

import "time"

// DashboardSummary aggregates the counters shown on the landing page.
type DashboardSummary struct {
	OpenHandoffNotes      int                       `json:"open_handoff_notes"`
	PendingFollowUps      int                       `json:"pending_follow_ups"`
	OpenDetections        int                       `json:"open_detections"`
	CriticalDetections    int                       `json:"critical_detections"`
	ReviewsToday          int                       `json:"reviews_today"`
	MaintenanceScheduled  int                       `json:"maintenance_scheduled"`
	MaintenanceInProgress int                       `json:"maintenance_in_progress"`
	NotesByPriority       map[string]int            `json:"notes_by_priority"`
	DetectionsBySeverity  map[string]int            `json:"detections_by_severity"`
	RecentDetections      []Detection               `json:"recent_detections"`
	GeneratedAt           time.Time                 `json:"generated_at"`
}

// DashboardStatusCount is a grouped counter row from an aggregation query.
type DashboardStatusCount struct {
	Key   string `db:"key" json:"key"`
	Count int    `db:"count" json:"count"`
}

// SystemMetricsSnapshot exposes instrumentation counters for operators.
type SystemMetricsSnapshot struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

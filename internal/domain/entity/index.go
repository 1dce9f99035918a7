package entity

// Index describes one discovered collection and its sub-collections, in source order.
type Index struct {
	Name           string   `json:"name"`
	Subcollections []string `json:"subcollections"`
}

// Plan is a prepared, enriched job list as written by a plan snapshot.
type Plan struct {
	RunID     string `json:"run_id"`
	Names     string `json:"names"`
	Jobs      []*Job `json:"jobs"`
	Total     int64  `json:"total"`
	CreatedAt int64  `json:"created_at"`
}

package domain

// Task represents a single to-do record.
type Task struct {
	ID   string `json:"_id"`
	Task string `json:"task"`
	Done bool   `json:"done"`
}

// UpdateAck is the storage acknowledgement of a mark-done update.
type UpdateAck struct {
	Acknowledged  bool  `json:"acknowledged"`
	MatchedCount  int64 `json:"matchedCount"`
	ModifiedCount int64 `json:"modifiedCount"`
	UpsertedCount int64 `json:"upsertedCount"`
}

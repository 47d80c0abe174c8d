package types

import "time"

// Snapshot anchors a dataset to one commit.
type Snapshot struct {
	CommitHash   string    `json:"commitHash"`
	CommitDate   time.Time `json:"commitDate"`
	CheckoutDate string    `json:"checkoutDate,omitempty"` // empty for latest
	IsLatest     bool      `json:"isLatest"`
	RunID        string    `json:"runId,omitempty"`
}

// Validate checks the snapshot is anchored to a commit.
func (s Snapshot) Validate() error {
	if s.CommitHash == "" {
		return ErrMissingCommitHash
	}
	if s.CommitDate.IsZero() {
		return ErrMissingCommitDate
	}
	return nil
}

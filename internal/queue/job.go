package queue

import (
	"encoding/json"
	"time"
)

// CallJob is the unit of work the dispatcher enqueues and the worker
// executes. The retry policy is copied onto the job at enqueue time so
// a later campaign edit does not change jobs already in flight.
type CallJob struct {
	JobID      string `json:"job_id"`
	ContactID  string `json:"contact_id"`
	CampaignID string `json:"campaign_id"`
	ScriptID   string `json:"script_id"`

	// Attempt starts at 1 and increments on each retry.
	Attempt     int `json:"attempt"`
	MaxAttempts int `json:"max_attempts"`

	// BackoffBase is the first retry delay; each further retry doubles it.
	BackoffBase time.Duration `json:"backoff_base"`
}

func (j CallJob) Marshal() ([]byte, error) {
	return json.Marshal(j)
}

func UnmarshalJob(b []byte) (CallJob, error) {
	var j CallJob
	err := json.Unmarshal(b, &j)
	return j, err
}

// NextBackoff is the delay before the given attempt number runs:
// BackoffBase doubled per completed attempt.
func (j CallJob) NextBackoff() time.Duration {
	d := j.BackoffBase
	for i := 1; i < j.Attempt; i++ {
		d *= 2
	}
	return d
}

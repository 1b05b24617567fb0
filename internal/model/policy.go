package model

import "time"

// PolicyState is the adaptive weight vector for one context bucket.
// Weights are non-negative and sum to 1.0. Version supports optimistic
// concurrency on writes; updates to the same bucket are serialized via CAS.
type PolicyState struct {
	BucketKey        string             `json:"bucket_key"`
	Weights          map[string]float64 `json:"weights"`
	Trials           int                `json:"trials"`
	CumulativeReward float64            `json:"cumulative_reward"`
	Version          int64              `json:"version"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

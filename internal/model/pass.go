package model

import "time"

const (
	PassStatusSuccess = "success"
	PassStatusWarning = "warning"
	PassStatusError   = "error"
)

// PassResult 单个车商一次同步的结果，失败只影响本车商
type PassResult struct {
	DealerID       string    `json:"dealer_id"`
	PassID         string    `json:"pass_id"`
	Status         string    `json:"status"`
	Message        string    `json:"message"`
	Fetched        int       `json:"fetched"`
	Dropped        int       `json:"dropped"`
	Created        int       `json:"created"`
	Updated        int       `json:"updated"`
	PriceChanged   int       `json:"price_changed"`
	Removed        int       `json:"removed"`
	Reappeared     int       `json:"reappeared"`
	PlateChanged   int       `json:"plate_changed"`
	InferredPlates int       `json:"inferred_plates"`
	Active         int       `json:"active"`
	StartedAt      time.Time `json:"started_at"`
	DurationMS     int64     `json:"duration_ms"`
}

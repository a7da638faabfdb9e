package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for a client.
type QuotaNow struct {
	ReqCount uint32
	EpochID  uint64
}

// Quota defines the request limits enforced per client within a rolling
// epoch. EpochSeconds fixes the window length; a zero MaxRequestsPerEpoch
// disables the check.
type Quota struct {
	MaxRequestsPerEpoch uint32
	EpochSeconds        uint32
}

// Epoch maps a unix timestamp onto the quota window it belongs to.
func (q Quota) Epoch(unixSeconds int64) uint64 {
	window := q.EpochSeconds
	if window == 0 {
		window = 60
	}
	if unixSeconds < 0 {
		return 0
	}
	return uint64(unixSeconds) / uint64(window)
}

// CheckQuota verifies whether the additional requests fit within the quota
// for the current epoch. The returned QuotaNow reflects the updated counters
// when the quota is not exceeded; counters reset when the epoch rolls over.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerEpoch > 0 && next.ReqCount > q.MaxRequestsPerEpoch {
		return prev, ErrQuotaRequestsExceeded
	}

	return next, nil
}

package models

import (
	"time"

	"github.com/dmitrijs2005/zkdrop/internal/common"
)

// TTLClass is the caller-facing retention choice for an upload.
type TTLClass string

const (
	TTLOneHour    TTLClass = "1h"
	TTLOneDay     TTLClass = "24h"
	TTLSevenDays  TTLClass = "7d"
	TTLThirtyDays TTLClass = "30d"
	TTLNever      TTLClass = "never"
)

// NeverHorizon is the finite retention applied to TTLNever.
const NeverHorizon = 365 * 24 * time.Hour

var ttlDurations = map[TTLClass]time.Duration{
	TTLOneHour:    time.Hour,
	TTLOneDay:     24 * time.Hour,
	TTLSevenDays:  7 * 24 * time.Hour,
	TTLThirtyDays: 30 * 24 * time.Hour,
	TTLNever:      NeverHorizon,
}

// ParseTTLClass returns common.ErrInvalidTTL for anything but the known classes.
func ParseTTLClass(s string) (TTLClass, error) {
	c := TTLClass(s)
	if _, ok := ttlDurations[c]; !ok {
		return "", common.ErrInvalidTTL
	}
	return c, nil
}

// Duration is the retention period of the class, zero for unknown classes.
func (c TTLClass) Duration() time.Duration {
	return ttlDurations[c]
}

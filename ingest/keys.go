package ingest

import (
	"strconv"
	"time"
)

const fallbackKeyPrefix = "unknown_"

// keyer assigns message keys within one batch. Records without an id get
// unknown_<millis>, then unknown_<millis>_1, unknown_<millis>_2 and so on.
type keyer struct {
	now       func() time.Time
	base      string
	fallbacks int
}

func newKeyer(now func() time.Time) *keyer {
	return &keyer{now: now}
}

func (k *keyer) key(id string) string {
	if id != "" {
		return id
	}
	k.fallbacks++
	if k.fallbacks == 1 {
		k.base = fallbackKeyPrefix + strconv.FormatInt(k.now().UnixMilli(), 10)
		return k.base
	}
	return k.base + "_" + strconv.Itoa(k.fallbacks-1)
}

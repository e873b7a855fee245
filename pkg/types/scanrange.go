package types

import "tabletdb/pkg/dberrors"

// CompareMatches applies one of the five seek comparison modes to a
// candidate timestamp against a bound. It is the single comparator
// shared by every Get/Scan start-bound seek and end-bound check, in both
// the memory and disk table engines.
func CompareMatches(mode CompareMode, candTs, bound uint64) bool {
	switch mode {
	case Eq:
		return candTs == bound
	case Le:
		return candTs <= bound
	case Lt:
		return candTs < bound
	case Ge:
		return candTs >= bound
	case Gt:
		return candTs > bound
	default:
		return false
	}
}

// ScanRange is the full range predicate a Get/Scan carries: a start bound
// (St, StType), an end bound (Et, EtType), and the TTL-derived stop
// condition folded in from the table's schema, per the rule table both
// Get and Scan apply while walking a ts-descending series.
type ScanRange struct {
	St     uint64
	StType CompareMode
	Et     uint64
	EtType CompareMode

	HasTTL     bool
	TTLType    TTLType
	ExpireTime uint64 // absolute ms cutoff; 0 when the abs TTL is unset
	ExpireCnt  uint64 // step budget; 0 when the lat TTL is unset

	Limit        int
	MaxBytesSize int64
	RemoveDup    bool
}

// Normalize applies the et-promotion and Gt->Ge boundary-inclusion rules
// derived from the table's TTL policy, then rejects an invalid (st, et)
// pair. Callers must call this once before driving a ScanCollector.
func (r *ScanRange) Normalize() error {
	if r.HasTTL {
		if r.TTLType == AbsoluteTime || r.TTLType == AbsOrLat {
			if r.ExpireTime > r.Et {
				r.Et = r.ExpireTime
			}
		}
		if r.Et < r.ExpireTime && r.EtType == Gt {
			r.EtType = Ge
		}
	}
	if r.St > 0 && r.Et > 0 && r.St < r.Et {
		return dberrors.ErrStLessThanEt
	}
	return nil
}

// seekState classifies candTs against the start bound while walking a
// ts-descending series: skip means candTs precedes the matching region
// and is not counted as a step; emit means candTs itself belongs in the
// result set; stop means no candidate from here on (all smaller) can
// ever match again.
func (r *ScanRange) seekState(candTs uint64) (skip, emit, stop bool) {
	if r.St == 0 {
		return false, true, false
	}
	switch r.StType {
	case Ge, Gt:
		if CompareMatches(r.StType, candTs, r.St) {
			return false, true, false
		}
		return false, false, true
	case Eq:
		switch {
		case candTs == r.St:
			return false, true, false
		case candTs > r.St:
			return true, false, false
		default:
			return false, false, true
		}
	default: // Le, Lt: seek to st then ride the suffix to the end.
		if candTs > r.St {
			return true, false, false
		}
		return false, CompareMatches(r.StType, candTs, r.St), false
	}
}

func ttlStop(r *ScanRange, candTs, steps uint64) bool {
	absExpired := r.ExpireTime > 0 && candTs <= r.ExpireTime
	cntExpired := r.ExpireCnt > 0 && steps >= r.ExpireCnt
	switch r.TTLType {
	case AbsoluteTime:
		return absExpired
	case LatestTime:
		return cntExpired
	case AbsAndLat:
		return cntExpired && absExpired
	case AbsOrLat:
		return cntExpired || absExpired
	default:
		return false
	}
}

// ScanCollector drives the stop/abort/dedup rules uniformly for both
// storage engines' Scan implementations: callers walk their series
// newest-first and call Offer once per candidate.
type ScanCollector struct {
	r *ScanRange

	steps    uint64
	bytes    int64
	lastTs   uint64
	haveLast bool
	err      error
}

// NewScanCollector returns a collector bound to an already-Normalized r.
func NewScanCollector(r *ScanRange) *ScanCollector {
	return &ScanCollector{r: r}
}

// Offer presents the next candidate in descending-ts order. accept
// reports whether candTs/value belongs in the result set; cont reports
// whether the caller should keep walking the series. The caller is
// responsible for its own limit check once accept is true.
func (c *ScanCollector) Offer(candTs uint64, value []byte) (accept, cont bool) {
	r := c.r

	skip, emit, stop := r.seekState(candTs)
	if stop {
		return false, false
	}
	if skip {
		return false, true
	}

	c.steps++

	if r.HasTTL && ttlStop(r, candTs, c.steps) {
		return false, false
	}
	if r.Et > 0 && !CompareMatches(r.EtType, candTs, r.Et) {
		return false, false
	}
	if !emit {
		return false, true
	}
	if r.RemoveDup && c.haveLast && candTs == c.lastTs {
		return false, true
	}
	if r.MaxBytesSize > 0 {
		if c.bytes+int64(len(value)) > r.MaxBytesSize {
			c.err = dberrors.ErrReacheTheScanMaxBytesSize
			return false, false
		}
		c.bytes += int64(len(value))
	}

	c.lastTs, c.haveLast = candTs, true
	return true, true
}

// Err reports the abort reason, if Offer ever stopped the scan by
// failing rather than by exhausting the series.
func (c *ScanCollector) Err() error { return c.err }

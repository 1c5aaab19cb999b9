// Package quota bounds the total size of a log store. Once usage exceeds the
// high-water mark (the configured maximum), whole day files are evicted,
// oldest day first, until usage falls to the low-water mark (90% of the
// maximum).
package quota

// lowWaterRatio is the fraction of the maximum size to which usage is
// reduced once eviction has been triggered.
const lowWaterRatio = 0.9

// Limits are the size marks of a store.
type Limits struct {
	// Max is the high-water mark in bytes. A non-positive Max is unbounded.
	Max int64
}

// Exceeded returns whether |size| is over the high-water mark.
func (l Limits) Exceeded(size int64) bool {
	return l.Max > 0 && size > l.Max
}

// AboveLowWater returns whether |size| is still over the low-water mark.
func (l Limits) AboveLowWater(size int64) bool {
	return l.Max > 0 && float64(size) > float64(l.Max)*lowWaterRatio
}

// LowWater returns the low-water mark in bytes.
func (l Limits) LowWater() int64 {
	return int64(float64(l.Max) * lowWaterRatio)
}

package overview

import (
	"time"

	"barkeep/pkg/model"
)

// Period selects the resampling bucket width.
type Period int

const (
	Weekly Period = iota
	Monthly
)

// Bucket is one resampled OHLCV period.
type Bucket struct {
	End    time.Time // date of the last bar folded into the bucket
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Resample aggregates date-ordered daily bars into weekly or monthly
// buckets: open is the first known open, high the highest high, low the
// lowest low, close the last known close and volume the sum. A bucket
// left without a value for any price field is dropped rather than
// emitted with holes.
func Resample(bars []model.Bar, p Period) []Bucket {
	var out []Bucket
	var acc *bucketAcc
	curKey := 0

	flush := func() {
		if acc == nil {
			return
		}
		if b, ok := acc.finish(); ok {
			out = append(out, b)
		}
		acc = nil
	}

	for i := range bars {
		key := bucketKey(bars[i].Date, p)
		if acc == nil || key != curKey {
			flush()
			curKey = key
			acc = &bucketAcc{}
		}
		acc.add(bars[i])
	}
	flush()
	return out
}

// Closes returns the close of each bucket in order.
func Closes(buckets []Bucket) []float64 {
	out := make([]float64, len(buckets))
	for i, b := range buckets {
		out[i] = b.Close
	}
	return out
}

// bucketKey maps a date to its bucket. Weekly buckets follow ISO weeks
// (Monday through Sunday), monthly buckets the calendar month.
func bucketKey(d time.Time, p Period) int {
	if p == Monthly {
		return d.Year()*100 + int(d.Month())
	}
	year, week := d.ISOWeek()
	return year*100 + week
}

type bucketAcc struct {
	end    time.Time
	open   *float64
	high   *float64
	low    *float64
	close  *float64
	volume int64
}

func (a *bucketAcc) add(b model.Bar) {
	a.end = b.Date
	if a.open == nil && b.Open != nil {
		a.open = b.Open
	}
	if b.High != nil && (a.high == nil || *b.High > *a.high) {
		a.high = b.High
	}
	if b.Low != nil && (a.low == nil || *b.Low < *a.low) {
		a.low = b.Low
	}
	if b.Close != nil {
		a.close = b.Close
	}
	a.volume += b.Volume
}

func (a *bucketAcc) finish() (Bucket, bool) {
	if a.open == nil || a.high == nil || a.low == nil || a.close == nil {
		return Bucket{}, false
	}
	return Bucket{
		End:    a.end,
		Open:   *a.open,
		High:   *a.high,
		Low:    *a.low,
		Close:  *a.close,
		Volume: a.volume,
	}, true
}

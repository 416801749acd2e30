package sampling

import "math"

// scale is the fixed-point factor for accumulated values.
const scale = 1000

type channelID int

const (
	chTemperature channelID = iota
	chHumidity
	chAltitude
	chPressure
	chSignal
	numChannels
)

func (c channelID) String() string {
	return [...]string{"temperature", "humidity", "altitude", "pressure", "signal"}[c]
}

// channel accumulates fixed-point samples. min and max hold sentinels until
// the first add.
type channel struct {
	sum, min, max int64
	n             int
}

func newChannel() channel {
	return channel{min: math.MaxInt64, max: math.MinInt64}
}

// maxMagnitude bounds accepted samples so a full window of them still fits
// the fixed-point sum.
const maxMagnitude = 1e9

func toFixed(v float64) int64 {
	return int64(math.Round(v * scale))
}

// add accumulates v and reports whether it was accepted. NaN, infinities and
// absurd magnitudes are dropped before the int64 conversion.
func (c *channel) add(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > maxMagnitude {
		return false
	}
	f := toFixed(v)
	c.sum += f
	c.min = min(c.min, f)
	c.max = max(c.max, f)
	c.n++
	return true
}

// trimmedMean drops one minimum and one maximum observation and averages
// the rest. With three samples that leaves the middle one.
func (c channel) trimmedMean() (float64, bool) {
	if c.n < 3 {
		return 0, false
	}
	adjusted := c.sum - (c.min + c.max)
	return float64(adjusted) / float64(c.n-2) / scale, true
}

// window is the current accumulation. count is the number of ingests; a
// channel may have fewer when its input was unavailable.
type window struct {
	ch    [numChannels]channel
	count int
}

func (w *window) reset() {
	for i := range w.ch {
		w.ch[i] = newChannel()
	}
	w.count = 0
}

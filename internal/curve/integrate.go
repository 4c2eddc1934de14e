package curve

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/semsmon/semsmon/internal/models"
)

// Point is a single vendor curve reading: instantaneous power (or percent)
// at a local "HH:MM" time-of-day label.
type Point struct {
	X string  `json:"x"`
	Y float64 `json:"y"`
}

// ParseHM resolves a "HH:MM" label against a reference calendar day.
func ParseHM(day time.Time, hm string, loc *time.Location) (time.Time, bool) {
	parts := strings.SplitN(strings.TrimSpace(hm), ":", 2)
	if len(parts) != 2 {
		return time.Time{}, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return time.Time{}, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return time.Time{}, false
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, loc), true
}

// Integrate converts a power curve (watts at "HH:MM" labels) into interval
// energy samples, one per consecutive pair. The earlier point's power is held
// constant across the interval (left-Riemann); each sample is stamped with
// the end of its interval. Pairs with an unparsable label are skipped, and
// fewer than two points integrates to nothing.
func Integrate(points []Point, day time.Time, loc *time.Location) []models.EnergySample {
	var out []models.EnergySample
	if len(points) < 2 {
		return out
	}
	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		t0, ok := ParseHM(day, a.X, loc)
		if !ok {
			continue
		}
		t1, ok := ParseHM(day, b.X, loc)
		if !ok {
			continue
		}
		dtH := t1.Sub(t0).Hours()
		if dtH < 0 {
			dtH = 0
		}
		out = append(out, models.EnergySample{
			Timestamp: t1,
			KWh:       math.Abs(a.Y) * dtH / 1000,
		})
	}
	return out
}

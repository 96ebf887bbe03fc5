package usecase

import (
	"math/rand/v2"
	"time"
)

// categoryPace biases the base delay per message category: urgent business
// categories answer sooner, low-stakes ones later. Values are fractions of
// the floor-to-ceiling span.
var categoryPace = map[string]float64{
	"admissions":    0.25,
	"scholarship":   0.25,
	"payment":       0.15,
	"document":      0.40,
	"other":         0.60,
	"uncategorized": 0.50,
}

const defaultPace = 0.50

// DelayPolicy computes the humanized pre-send delay. Replies that arrive
// instantly and uniformly are a detectable automation signal, so the delay
// varies with category and priority and carries random jitter.
type DelayPolicy struct {
	floor   time.Duration
	ceiling time.Duration
}

func NewDelayPolicy(floor, ceiling time.Duration) *DelayPolicy {
	if ceiling < floor {
		ceiling = floor
	}
	return &DelayPolicy{floor: floor, ceiling: ceiling}
}

// DelayFor returns a duration within [floor, ceiling]. Priority 1 (most
// urgent) pulls toward the floor, priority 10 toward the ceiling, and the
// result is jittered by ±15% before clamping.
func (p *DelayPolicy) DelayFor(category string, priority int) time.Duration {
	pace, ok := categoryPace[category]
	if !ok {
		pace = defaultPace
	}
	if priority < 1 {
		priority = 1
	}
	if priority > 10 {
		priority = 10
	}
	urgency := float64(priority-1) / 9.0

	span := float64(p.ceiling - p.floor)
	base := float64(p.floor) + span*(pace+urgency)/2

	jitter := 0.85 + rand.Float64()*0.30
	d := time.Duration(base * jitter)

	if d < p.floor {
		d = p.floor
	}
	if d > p.ceiling {
		d = p.ceiling
	}
	return d
}

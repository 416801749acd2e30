package sensor

import (
	"context"
	"math"
	"sync"
)

// Sim produces a slow deterministic drift around a mild indoor climate.
type Sim struct {
	mu sync.Mutex
	n  int
}

func NewSim() *Sim { return &Sim{} }

func (s *Sim) Sense(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	phase := float64(s.n) / 10
	return Reading{
		TemperatureC: 21 + 0.5*math.Sin(phase),
		Humidity:     45 + 2*math.Cos(phase),
		PressureHPa:  1009 + 0.3*math.Sin(phase/3),
	}, nil
}

func (s *Sim) Close() error { return nil }

// Package builtins ships the strategies bundled with backscan. Each one
// doubles as a fixture for a distinct output shape: sma-cross emits a signal
// series, donchian-breakout explicit trades, volume-surge bare markers.
package builtins

import (
	"math"

	"backscan/internal/domain"
	"backscan/internal/strategy"
)

// Register adds every bundled strategy to the registry.
func Register(reg *strategy.Registry) error {
	for _, s := range []strategy.Strategy{
		NewSMACross(),
		NewDonchianBreakout(),
		NewVolumeSurge(),
	} {
		if err := reg.Register(s); err != nil {
			return err
		}
	}
	return nil
}

// overlayLine builds a chart overlay from a per-bar value series, skipping
// NaN warmup entries.
func overlayLine(name, color string, bars []domain.Bar, values []float64) domain.Overlay {
	o := domain.Overlay{Name: name, Color: color}
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		o.Points = append(o.Points, domain.OverlayPoint{Time: bars[i].Timestamp, Value: v})
	}
	return o
}

package builtins

import (
	"context"
	"fmt"

	"backscan/internal/domain"
	"backscan/internal/strategy"
)

const (
	volumeSurgeKey      = "volume-surge"
	defaultVolumeWindow = 20
	defaultVolumeRatio  = 3.0
)

// Compile-time interface checks.
var (
	_ strategy.Strategy  = (*VolumeSurge)(nil)
	_ strategy.Describer = (*VolumeSurge)(nil)
)

// VolumeSurge flags up bars whose volume is a multiple of the trailing
// average. It emits only sideless markers, so backtests of it rely on the
// engine's fixed-holding approximation.
type VolumeSurge struct{}

// NewVolumeSurge creates the surge detector. The trailing window and the
// required multiple are read per run from the "window" and "ratio"
// parameters.
func NewVolumeSurge() *VolumeSurge {
	return &VolumeSurge{}
}

// Key returns "volume-surge".
func (v *VolumeSurge) Key() string {
	return volumeSurgeKey
}

// Describe returns the catalog entry for the surge detector.
func (v *VolumeSurge) Describe() strategy.Definition {
	return strategy.Definition{
		Key:         volumeSurgeKey,
		Title:       "Volume Surge",
		Description: "Flag up days whose volume is a multiple of the trailing average.",
		Category:    "volume",
		Params: []strategy.ParamSpec{
			{Key: "window", Label: "Average window", Type: "int", Default: defaultVolumeWindow},
			{Key: "ratio", Label: "Surge ratio", Type: "float", Default: defaultVolumeRatio},
		},
		Preview:  true,
		Scan:     true,
		Backtest: true,
	}
}

// Run marks every up bar whose volume clears ratio times the trailing
// average volume.
func (v *VolumeSurge) Run(_ context.Context, rc strategy.RunContext) (*domain.RunResult, error) {
	window := rc.IntParam("window", defaultVolumeWindow)
	ratio := rc.FloatParam("ratio", defaultVolumeRatio)
	if window <= 0 || ratio <= 0 {
		return nil, fmt.Errorf("volume surge needs positive window and ratio, got %d/%g", window, ratio)
	}

	res := &domain.RunResult{StrategyName: volumeSurgeKey}
	bars := rc.Bars
	if len(bars) <= window {
		res.StatusMessage = fmt.Sprintf("need more than %d bars, have %d", window, len(bars))
		return res, nil
	}

	for i := window; i < len(bars); i++ {
		bar := bars[i]
		if bar.Close <= bar.Open {
			continue
		}
		var sum int64
		for _, b := range bars[i-window : i] {
			sum += b.Volume
		}
		avg := float64(sum) / float64(window)
		if avg <= 0 {
			continue
		}
		mult := float64(bar.Volume) / avg
		if mult < ratio {
			continue
		}
		res.Markers = append(res.Markers, domain.Marker{
			Time:     bar.Timestamp,
			Price:    bar.Close,
			Text:     fmt.Sprintf("VOL %.1fx", mult),
			Position: domain.MarkerInBar,
			Shape:    "circle",
			Color:    "#ff9800",
		})
	}
	return res, nil
}

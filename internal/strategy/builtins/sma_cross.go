package builtins

import (
	"context"
	"fmt"
	"math"

	"backscan/internal/domain"
	"backscan/internal/strategy"
)

const (
	smaCrossKey     = "sma-cross"
	defaultSMAShort = 10
	defaultSMALong  = 30
)

// Compile-time interface checks.
var (
	_ strategy.Strategy  = (*SMACross)(nil)
	_ strategy.Describer = (*SMACross)(nil)
)

// SMACross is a moving average crossover strategy. It emits a buy signal
// when the short SMA crosses above the long SMA and a sell signal when it
// crosses back below, plus matching chart markers and candidates for the
// buy crossings.
type SMACross struct{}

// NewSMACross creates the crossover strategy. Periods are read per run from
// the "short" and "long" parameters.
func NewSMACross() *SMACross {
	return &SMACross{}
}

// Key returns "sma-cross".
func (s *SMACross) Key() string {
	return smaCrossKey
}

// Describe returns the catalog entry for the crossover strategy.
func (s *SMACross) Describe() strategy.Definition {
	return strategy.Definition{
		Key:         smaCrossKey,
		Title:       "SMA Cross",
		Description: "Buy when the short simple moving average crosses above the long one, sell when it crosses back below.",
		Category:    "trend",
		Params: []strategy.ParamSpec{
			{Key: "short", Label: "Short period", Type: "int", Default: defaultSMAShort},
			{Key: "long", Label: "Long period", Type: "int", Default: defaultSMALong},
		},
		Preview:  true,
		Scan:     true,
		Backtest: true,
	}
}

// Run scans the bar series for crossovers and reports them as signals.
func (s *SMACross) Run(_ context.Context, rc strategy.RunContext) (*domain.RunResult, error) {
	short := rc.IntParam("short", defaultSMAShort)
	long := rc.IntParam("long", defaultSMALong)
	if short <= 0 || long <= short {
		return nil, fmt.Errorf("sma periods must satisfy 0 < short < long, got %d/%d", short, long)
	}

	res := &domain.RunResult{StrategyName: smaCrossKey}
	bars := rc.Bars
	if len(bars) <= long {
		res.StatusMessage = fmt.Sprintf("need more than %d bars, have %d", long, len(bars))
		return res, nil
	}

	shortMA := rollingMean(bars, short)
	longMA := rollingMean(bars, long)

	for i := 1; i < len(bars); i++ {
		if math.IsNaN(longMA[i-1]) || math.IsNaN(longMA[i]) {
			continue
		}
		bar := bars[i]
		spread := 0.0
		if longMA[i] != 0 {
			spread = (shortMA[i] - longMA[i]) / longMA[i] * 100
		}
		switch {
		case shortMA[i-1] <= longMA[i-1] && shortMA[i] > longMA[i]:
			res.Signals = append(res.Signals, domain.Signal{
				Time:  bar.Timestamp,
				Type:  domain.SignalBuy,
				Price: bar.Close,
				Score: spread,
			})
			res.Markers = append(res.Markers, domain.Marker{
				Time:     bar.Timestamp,
				Price:    bar.Close,
				Text:     "BUY",
				Position: domain.MarkerBelowBar,
				Shape:    "arrowUp",
				Color:    "#26a69a",
			})
			res.Candidates = append(res.Candidates, domain.Candidate{
				Time:  bar.Timestamp,
				Price: bar.Close,
				Score: spread,
				Note:  fmt.Sprintf("SMA%d crossed above SMA%d", short, long),
			})
		case shortMA[i-1] >= longMA[i-1] && shortMA[i] < longMA[i]:
			res.Signals = append(res.Signals, domain.Signal{
				Time:  bar.Timestamp,
				Type:  domain.SignalSell,
				Price: bar.Close,
				Score: spread,
			})
			res.Markers = append(res.Markers, domain.Marker{
				Time:     bar.Timestamp,
				Price:    bar.Close,
				Text:     "SELL",
				Position: domain.MarkerAboveBar,
				Shape:    "arrowDown",
				Color:    "#ef5350",
			})
		}
	}

	// Scans run over thousands of symbols; chart lines are only worth
	// building when someone will look at them.
	if rc.Mode != domain.ModeScan {
		res.Overlays = []domain.Overlay{
			overlayLine(fmt.Sprintf("SMA %d", short), "#2962ff", bars, shortMA),
			overlayLine(fmt.Sprintf("SMA %d", long), "#f57c00", bars, longMA),
		}
	}
	return res, nil
}

// rollingMean returns the simple moving average of the close price per bar.
// Entries before the window fills are NaN.
func rollingMean(bars []domain.Bar, window int) []float64 {
	out := make([]float64, len(bars))
	sum := 0.0
	for i, b := range bars {
		sum += b.Close
		if i >= window {
			sum -= bars[i-window].Close
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

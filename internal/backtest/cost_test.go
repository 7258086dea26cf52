package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyCostsIdentityAtZeroRates(t *testing.T) {
	f := ApplyCosts(10, 12, 100, 0, 0)
	assert.Equal(t, 10.0, f.EntryFill)
	assert.Equal(t, 12.0, f.ExitFill)
	assert.Equal(t, 0.0, f.TotalCost)
}

func TestApplyCosts(t *testing.T) {
	cases := []struct {
		name                 string
		entry, exit, size    float64
		commission, slippage float64
		wantEntry            float64
		wantExit             float64
		wantCost             float64
	}{
		{
			name:  "half slippage per leg",
			entry: 10, exit: 12, size: 1,
			commission: 0.0003, slippage: 0.002,
			wantEntry: 10.01, wantExit: 11.988, wantCost: 0.0065994,
		},
		{
			name:  "cost scales with size",
			entry: 10, exit: 12, size: 250,
			commission: 0.0003, slippage: 0.002,
			wantEntry: 10.01, wantExit: 11.988, wantCost: 1.64985,
		},
		{
			name:  "commission only",
			entry: 100, exit: 100, size: 10,
			commission: 0.001, slippage: 0,
			wantEntry: 100, wantExit: 100, wantCost: 2.0,
		},
		{
			name:  "slippage only",
			entry: 50, exit: 55, size: 1,
			commission: 0, slippage: 0.01,
			wantEntry: 50.25, wantExit: 54.725, wantCost: 0,
		},
		{
			name:  "zero size zero cost",
			entry: 10, exit: 12, size: 0,
			commission: 0.0003, slippage: 0.002,
			wantEntry: 10.01, wantExit: 11.988, wantCost: 0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := ApplyCosts(tc.entry, tc.exit, tc.size, tc.commission, tc.slippage)
			assert.InDelta(t, tc.wantEntry, f.EntryFill, 1e-9)
			assert.InDelta(t, tc.wantExit, f.ExitFill, 1e-9)
			assert.InDelta(t, tc.wantCost, f.TotalCost, 1e-9)
		})
	}
}

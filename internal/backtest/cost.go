package backtest

// Fill is the cost-adjusted execution of one proposal at a given size.
type Fill struct {
	EntryFill float64
	ExitFill  float64
	TotalCost float64
}

// ApplyCosts applies slippage and commission to raw proposal prices. Half
// the slippage is paid on each leg; commission is charged on both legs.
// Pure and total: zero rates yield identity pricing with zero cost, and no
// input is rejected.
func ApplyCosts(entryPrice, exitPrice, size, commissionRate, slippage float64) Fill {
	entryFill := entryPrice * (1 + slippage/2)
	exitFill := exitPrice * (1 - slippage/2)
	return Fill{
		EntryFill: entryFill,
		ExitFill:  exitFill,
		TotalCost: commissionRate * (entryFill + exitFill) * size,
	}
}

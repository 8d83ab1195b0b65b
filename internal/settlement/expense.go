package settlement

// AdjustForExpense shares a host's expense among the players who finished
// ahead, in proportion to their winnings, and credits the whole expense to
// the host.
//
// With no host or a zero expense the balances come back unchanged. The
// returned slice is always a copy; the grand total is preserved.
func AdjustForExpense(balances []Balance, hostID string, expense float64) ([]Balance, error) {
	if expense < 0 {
		return nil, ErrNegativeExpense
	}

	out := make([]Balance, len(balances))
	copy(out, balances)
	if hostID == "" || expense == 0 {
		return out, nil
	}

	var totalPositive float64
	gainers := 0
	for _, b := range balances {
		if b.Net > 0 {
			gainers++
			totalPositive += b.Net
		}
	}
	if gainers == 0 {
		return nil, ErrNoPositiveNetPlayers
	}
	if totalPositive <= 0 {
		return nil, ErrNonPositiveExpenseTotal
	}

	host := -1
	for k, b := range out {
		if b.ID == hostID {
			host = k
			break
		}
	}
	if host < 0 {
		return nil, ErrHostNotFound
	}

	// shares come from the unadjusted nets so a host who is also a gainer
	// pays its own share before being credited
	for k, b := range balances {
		if b.Net > 0 {
			out[k].Net -= expense * (b.Net / totalPositive)
		}
	}
	out[host].Net += expense
	return out, nil
}

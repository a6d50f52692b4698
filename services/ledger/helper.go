package ledger

// Allocation is the share of a debit drawn from one wallet bucket.
type Allocation struct {
	Bucket Bucket `json:"bucket"`
	Amount int64  `json:"amount"`
}

// allocateDebit draws family coins first, then reward coins. It returns nil
// when the wallet cannot cover amount.
func allocateDebit(w *CoinWallet, amount int64) []Allocation {
	if amount <= 0 || w.Balance() < amount {
		return nil
	}

	remaining := amount
	allocations := make([]Allocation, 0, 2)
	for _, b := range []Bucket{BucketFamily, BucketReward} {
		if remaining == 0 {
			break
		}
		take := min(w.bucket(b), remaining)
		if take == 0 {
			continue
		}
		allocations = append(allocations, Allocation{Bucket: b, Amount: take})
		remaining -= take
	}

	return allocations
}

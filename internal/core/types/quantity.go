package types

import "fmt"

// Quantity counts whole sale units of a drug.
// Batches are received in base units already converted with the drug's conversion factor,
// so every ledger counter shares this unit.
type Quantity int64

func (q Quantity) Int64() int64 { return int64(q) }

func (q Quantity) IsZero() bool { return q == 0 }

func (q Quantity) IsPositive() bool { return q > 0 }

func (q Quantity) IsNegative() bool { return q < 0 }

func (q Quantity) String() string { return fmt.Sprintf("%d", int64(q)) }

// Min returns the smaller of two quantities.
func Min(a, b Quantity) Quantity {
	if a < b {
		return a
	}
	return b
}

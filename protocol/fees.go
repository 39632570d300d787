package protocol

import (
	"errors"
	"fmt"
	"math/bits"
)

var (
	ErrAmountOverflow     = errors.New("amount overflow")
	ErrInvalidMonths      = errors.New("initial months must be >= 1")
	ErrTotalMismatch      = errors.New("total payment does not match fee components")
	ErrMissingProgramHash = errors.New("missing program hash")
)

// CostBreakdown is computed by the backend for one program and consumed once
// by the payment phase. All amounts are lamports.
//
// The rent for the deployed program is funded by the treasury pool, so
// TotalPayment excludes RentCost.
type CostBreakdown struct {
	ProgramSize   uint64      `json:"programSize"`
	RentCost      uint64      `json:"rentCost"`
	ServiceFee    uint64      `json:"serviceFee"`
	PlatformFee   uint64      `json:"platformFee"`
	MonthlyFee    uint64      `json:"monthlyFee"`
	InitialMonths uint64      `json:"initialMonths"`
	TotalPayment  uint64      `json:"totalPayment"`
	ProgramHash   ProgramHash `json:"programHash"`
}

// RewardPoolPayment = serviceFee + monthlyFee*initialMonths.
func (c CostBreakdown) RewardPoolPayment() (uint64, error) {
	hi, subscription := bits.Mul64(c.MonthlyFee, c.InitialMonths)
	if hi != 0 {
		return 0, ErrAmountOverflow
	}
	sum, carry := bits.Add64(c.ServiceFee, subscription, 0)
	if carry != 0 {
		return 0, ErrAmountOverflow
	}
	return sum, nil
}

func (c CostBreakdown) PlatformPoolPayment() uint64 {
	return c.PlatformFee
}

// ExpectedTotal recomputes the payer's total from the fee components.
func (c CostBreakdown) ExpectedTotal() (uint64, error) {
	reward, err := c.RewardPoolPayment()
	if err != nil {
		return 0, err
	}
	sum, carry := bits.Add64(reward, c.PlatformPoolPayment(), 0)
	if carry != 0 {
		return 0, ErrAmountOverflow
	}
	return sum, nil
}

func (c CostBreakdown) Validate() error {
	if c.InitialMonths < 1 {
		return ErrInvalidMonths
	}
	if c.ProgramHash.IsZero() {
		return ErrMissingProgramHash
	}
	want, err := c.ExpectedTotal()
	if err != nil {
		return err
	}
	if c.TotalPayment != want {
		return fmt.Errorf("%w: got %d, components sum to %d", ErrTotalMismatch, c.TotalPayment, want)
	}
	return nil
}

const LamportsPerSOL = 1_000_000_000

// FormatSOL renders lamports as a fixed 9-decimal SOL amount.
func FormatSOL(lamports uint64) string {
	return fmt.Sprintf("%d.%09d SOL", lamports/LamportsPerSOL, lamports%LamportsPerSOL)
}

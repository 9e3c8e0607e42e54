package payment

import (
	"fmt"
	"math"
)

// DefaultCommissionBps is the platform commission applied when no active
// commission setting matches (10.00%).
const DefaultCommissionBps int64 = 1000

// AdvanceShareBps is the share of the net amount released as advance (30%).
const AdvanceShareBps int64 = 3000

// Breakdown is the monetary split of an agreed amount. All values are paise
// integers; Display mirrors them as formatted strings for clients. The
// integers are authoritative.
type Breakdown struct {
	TotalPaise      int64            `json:"total_paise"`
	CommissionPaise int64            `json:"commission_paise"`
	NetPaise        int64            `json:"net_paise"`
	AdvancePaise    int64            `json:"advance_paise"`
	FinalPaise      int64            `json:"final_paise"`
	CommissionBps   int64            `json:"commission_bps"`
	Display         BreakdownDisplay `json:"display"`
}

// BreakdownDisplay carries formatted rupee strings derived from the paise
// values.
type BreakdownDisplay struct {
	Total      string `json:"total"`
	Commission string `json:"commission"`
	Net        string `json:"net"`
	Advance    string `json:"advance"`
	Final      string `json:"final"`
}

// ComputeBreakdown splits totalPaise using the given commission (basis
// points). Net is derived by subtraction so total = commission + net exactly;
// final is derived by subtraction so net = advance + final exactly.
func ComputeBreakdown(totalPaise, commissionBps int64) Breakdown {
	commission := roundHalfUpDiv(totalPaise*commissionBps, 10000)
	net := totalPaise - commission
	advance := roundHalfUpDiv(net*AdvanceShareBps, 10000)
	final := net - advance

	b := Breakdown{
		TotalPaise:      totalPaise,
		CommissionPaise: commission,
		NetPaise:        net,
		AdvancePaise:    advance,
		FinalPaise:      final,
		CommissionBps:   commissionBps,
	}
	b.Display = BreakdownDisplay{
		Total:      FormatPaise(b.TotalPaise),
		Commission: FormatPaise(b.CommissionPaise),
		Net:        FormatPaise(b.NetPaise),
		Advance:    FormatPaise(b.AdvancePaise),
		Final:      FormatPaise(b.FinalPaise),
	}
	return b
}

// RupeesToPaise converts a rupee amount from transport into paise with
// round-half-up.
func RupeesToPaise(rupees float64) int64 {
	return int64(math.Floor(rupees*100 + 0.5))
}

// FormatPaise renders a paise amount as a rupee string, e.g. "₹900.00".
func FormatPaise(paise int64) string {
	sign := ""
	if paise < 0 {
		sign = "-"
		paise = -paise
	}
	return fmt.Sprintf("%s₹%d.%02d", sign, paise/100, paise%100)
}

// roundHalfUpDiv divides num by den rounding half up, in pure integer math.
func roundHalfUpDiv(num, den int64) int64 {
	return (num + den/2) / den
}

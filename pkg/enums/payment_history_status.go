package enums

// PaymentHistoryStatus classifies a merchant balance movement.
type PaymentHistoryStatus string

const (
	PaymentHistoryIncome   PaymentHistoryStatus = "income"
	PaymentHistoryWithdraw PaymentHistoryStatus = "withdraw"
)

func (p PaymentHistoryStatus) IsValid() bool {
	return p == PaymentHistoryIncome || p == PaymentHistoryWithdraw
}

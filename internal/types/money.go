// README: Common money value object used across modules.
package types

import "fmt"

// DefaultCurrency is used whenever a fare is created without an explicit currency.
const DefaultCurrency = "TWD"

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func NewMoney(amount int64) Money {
	return Money{Amount: amount, Currency: DefaultCurrency}
}

func (m Money) IsZero() bool {
	return m.Amount == 0
}

func (m Money) String() string {
	cur := m.Currency
	if cur == "" {
		cur = DefaultCurrency
	}
	return fmt.Sprintf("%d %s", m.Amount, cur)
}

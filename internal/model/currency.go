package model

// Currency is a supported fiat currency code.
type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	JPY Currency = "JPY"
	AED Currency = "AED"
	SGD Currency = "SGD"
	CHF Currency = "CHF"
)

// SupportedCurrencies lists every currency a wallet may hold.
var SupportedCurrencies = []Currency{USD, EUR, JPY, AED, SGD, CHF}

// IsSupported reports whether c is in the supported set.
func (c Currency) IsSupported() bool {
	for _, s := range SupportedCurrencies {
		if c == s {
			return true
		}
	}
	return false
}

func (c Currency) String() string { return string(c) }

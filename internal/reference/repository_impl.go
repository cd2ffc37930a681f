// Package reference serves the static lookup catalogs the dashboard
// needs. Currencies are compiled in; they change rarely enough that a
// release is the right delivery vehicle.
package reference

import (
	"strings"

	"github.com/smallbiznis/partnerly/internal/reference/domain"
)

var currencies = []domain.Currency{
	{Code: "AUD", Name: "Australian Dollar", Symbol: "$", MinorUnit: 2},
	{Code: "BRL", Name: "Brazilian Real", Symbol: "R$", MinorUnit: 2},
	{Code: "CAD", Name: "Canadian Dollar", Symbol: "$", MinorUnit: 2},
	{Code: "CHF", Name: "Swiss Franc", Symbol: "CHF", MinorUnit: 2},
	{Code: "DKK", Name: "Danish Krone", Symbol: "kr", MinorUnit: 2},
	{Code: "EUR", Name: "Euro", Symbol: "\u20ac", MinorUnit: 2},
	{Code: "GBP", Name: "Pound Sterling", Symbol: "\u00a3", MinorUnit: 2},
	{Code: "IDR", Name: "Indonesian Rupiah", Symbol: "Rp", MinorUnit: 2},
	{Code: "INR", Name: "Indian Rupee", Symbol: "\u20b9", MinorUnit: 2},
	{Code: "JPY", Name: "Japanese Yen", Symbol: "\u00a5", MinorUnit: 0},
	{Code: "MXN", Name: "Mexican Peso", Symbol: "$", MinorUnit: 2},
	{Code: "NOK", Name: "Norwegian Krone", Symbol: "kr", MinorUnit: 2},
	{Code: "NZD", Name: "New Zealand Dollar", Symbol: "$", MinorUnit: 2},
	{Code: "PLN", Name: "Polish Zloty", Symbol: "z\u0142", MinorUnit: 2},
	{Code: "SEK", Name: "Swedish Krona", Symbol: "kr", MinorUnit: 2},
	{Code: "SGD", Name: "Singapore Dollar", Symbol: "$", MinorUnit: 2},
	{Code: "USD", Name: "US Dollar", Symbol: "$", MinorUnit: 2},
}

type repository struct {
	byCode map[string]domain.Currency
}

func NewRepository() domain.Repository {
	byCode := make(map[string]domain.Currency, len(currencies))
	for _, currency := range currencies {
		byCode[currency.Code] = currency
	}
	return &repository{byCode: byCode}
}

func (r *repository) ListCurrencies() []domain.Currency {
	out := make([]domain.Currency, len(currencies))
	copy(out, currencies)
	return out
}

func (r *repository) CurrencyByCode(code string) (domain.Currency, bool) {
	currency, ok := r.byCode[strings.ToUpper(strings.TrimSpace(code))]
	return currency, ok
}

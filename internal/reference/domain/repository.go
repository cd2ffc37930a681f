package domain

type Repository interface {
	ListCurrencies() []Currency
	CurrencyByCode(code string) (Currency, bool)
}

package repository

import "company-claims/backend/internal/company/domain"

// SampleCompanies are the development companies loaded by cmd/seed and by the server
// when it runs without a database.
func SampleCompanies() []*domain.Company {
	return []*domain.Company{
		{ID: "co-acme", Name: "Acme Corporation", KnownEmailDomain: "acme.com"},
		{ID: "co-globex", Name: "Globex", KnownEmailDomain: "globex.example"},
		{ID: "co-corner-shop", Name: "Corner Shop"},
	}
}

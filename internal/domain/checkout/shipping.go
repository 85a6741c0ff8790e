package checkout

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

type Address struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Company    string `json:"company,omitempty"`
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Province   string `json:"province,omitempty"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type ShippingMethod struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Price         decimal.Decimal `json:"price"`
	EstimatedDays int             `json:"estimatedDays,omitempty"`
}

type ShippingInformation struct {
	Address      Address        `json:"address"`
	Method       ShippingMethod `json:"method"`
	Instructions string         `json:"instructions,omitempty"`
}

// AvailableCountries are the destinations offered to customers.
var AvailableCountries = []string{"ES", "RO", "MD", "FR", "DE", "IT"}

var validCountries = map[string]bool{
	"ES": true, "RO": true, "MD": true, "FR": true,
	"DE": true, "IT": true, "US": true, "GB": true,
}

var postalCodePatterns = map[string]*regexp.Regexp{
	"ES": regexp.MustCompile(`^\d{5}$`),
	"RO": regexp.MustCompile(`^\d{6}$`),
	"MD": regexp.MustCompile(`^MD-?\d{4}$`),
	"FR": regexp.MustCompile(`^\d{5}$`),
	"DE": regexp.MustCompile(`^\d{5}$`),
	"IT": regexp.MustCompile(`^\d{5}$`),
	"US": regexp.MustCompile(`^\d{5}(-\d{4})?$`),
	"GB": regexp.MustCompile(`(?i)^[A-Z]{1,2}\d[A-Z\d]?\s?\d[A-Z]{2}$`),
}

var phonePattern = regexp.MustCompile(`^\+?[\d\s\-()]{7,15}$`)

// DefaultShippingMethods is offered when no other list is configured.
func DefaultShippingMethods() []ShippingMethod {
	return []ShippingMethod{
		{ID: "standard", Name: "Standard Shipping", Description: "Delivery in 5-7 business days", Price: decimal.RequireFromString("5.99"), EstimatedDays: 7},
		{ID: "express", Name: "Express Shipping", Description: "Delivery in 2-3 business days", Price: decimal.RequireFromString("12.99"), EstimatedDays: 3},
		{ID: "pickup", Name: "Store Pickup", Description: "Collect from our Chisinau warehouse", Price: decimal.Zero, EstimatedDays: 1},
	}
}

// Normalize trims every field and upper-cases country and postal code.
func (a Address) Normalize() Address {
	a.FirstName = strings.TrimSpace(a.FirstName)
	a.LastName = strings.TrimSpace(a.LastName)
	a.Company = strings.TrimSpace(a.Company)
	a.Street = strings.TrimSpace(a.Street)
	a.City = strings.TrimSpace(a.City)
	a.PostalCode = strings.ToUpper(strings.TrimSpace(a.PostalCode))
	a.Province = strings.TrimSpace(a.Province)
	a.Country = strings.ToUpper(strings.TrimSpace(a.Country))
	a.Phone = strings.TrimSpace(a.Phone)
	return a
}

func (a Address) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// IsValidPostalCode checks code against the pattern of country. Countries
// without a known pattern accept any code.
func IsValidPostalCode(code, country string) bool {
	pattern, ok := postalCodePatterns[strings.ToUpper(country)]
	if !ok {
		return true
	}
	return pattern.MatchString(code)
}

func IsValidCountry(country string) bool {
	return validCountries[strings.ToUpper(country)]
}

func IsValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

func lengthRule(field, label, value string, minLen, maxLen int) *FieldError {
	n := utf8.RuneCountInString(strings.TrimSpace(value))
	switch {
	case n == 0:
		return &FieldError{Field: field, Code: "REQUIRED", Message: label + " is required"}
	case n < minLen:
		return &FieldError{Field: field, Code: "TOO_SHORT", Message: label + " must be at least " + strconv.Itoa(minLen) + " characters"}
	case n > maxLen:
		return &FieldError{Field: field, Code: "TOO_LONG", Message: label + " must be less than " + strconv.Itoa(maxLen) + " characters"}
	}
	return nil
}

func maxLengthRule(field, label, value string, maxLen int) *FieldError {
	if utf8.RuneCountInString(value) > maxLen {
		return &FieldError{Field: field, Code: "TOO_LONG", Message: label + " must be less than " + strconv.Itoa(maxLen) + " characters"}
	}
	return nil
}

// ValidateAddress returns every rule a shipping address breaks.
func ValidateAddress(a Address) []FieldError {
	var errs []FieldError
	add := func(fe *FieldError) {
		if fe != nil {
			errs = append(errs, *fe)
		}
	}

	add(lengthRule("firstName", "First name", a.FirstName, 2, 50))
	add(lengthRule("lastName", "Last name", a.LastName, 2, 50))
	add(lengthRule("street", "Street address", a.Street, 5, 100))
	add(lengthRule("city", "City", a.City, 2, 50))

	switch {
	case strings.TrimSpace(a.PostalCode) == "":
		add(&FieldError{Field: "postalCode", Code: "REQUIRED", Message: "Postal code is required"})
	case !IsValidPostalCode(a.PostalCode, a.Country):
		add(&FieldError{Field: "postalCode", Code: "INVALID_FORMAT", Message: "Invalid postal code format for the selected country"})
	}

	switch {
	case strings.TrimSpace(a.Country) == "":
		add(&FieldError{Field: "country", Code: "REQUIRED", Message: "Country is required"})
	case !IsValidCountry(a.Country):
		add(&FieldError{Field: "country", Code: "INVALID_COUNTRY", Message: "Invalid country code"})
	}

	add(maxLengthRule("company", "Company name", a.Company, 100))
	add(maxLengthRule("province", "Province", a.Province, 50))

	if a.Phone != "" && !IsValidPhone(a.Phone) {
		add(&FieldError{Field: "phone", Code: "INVALID_FORMAT", Message: "Invalid phone number format"})
	}
	return errs
}

// ValidateShippingInformation validates the address, the method and the
// delivery instructions.
func ValidateShippingInformation(info ShippingInformation) []FieldError {
	errs := ValidateAddress(info.Address)

	if info.Method.ID == "" {
		errs = append(errs, FieldError{Field: "method.id", Code: "REQUIRED", Message: "Shipping method ID is required"})
	}
	if info.Method.Price.IsNegative() {
		errs = append(errs, FieldError{Field: "method.price", Code: "INVALID_PRICE", Message: "Invalid shipping method price"})
	}
	if fe := maxLengthRule("instructions", "Shipping instructions", info.Instructions, 500); fe != nil {
		errs = append(errs, *fe)
	}
	return errs
}

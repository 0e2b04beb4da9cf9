package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Hello, World!":            "hello-world",
		"  Go 1.23 release notes ": "go-1-23-release-notes",
		"Привет мир":               "item",
		"Café au lait":             "caf-au-lait",
		"---":                      "item",
		"a--b__c":                  "a-b-c",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), in)
	}
}

func TestSlugifyLimitsLength(t *testing.T) {
	long := ""
	for i := 0; i < 30; i++ {
		long += "word "
	}
	slug := Slugify(long)
	assert.LessOrEqual(t, len(slug), maxSlugLen)
	assert.NotEqual(t, '-', rune(slug[len(slug)-1]))
}

func TestInvoiceTotals(t *testing.T) {
	inv := &Invoice{
		TaxRateBP: 2000,
		Items: []InvoiceItem{
			{Description: "Design", Quantity: 3, UnitPriceCents: 15000},
			{Description: "Hosting", Quantity: 1, UnitPriceCents: 999},
		},
	}
	assert.Equal(t, int64(45999), inv.SubtotalCents())
	// 45999 * 0.2 = 9199.8
	assert.Equal(t, int64(9200), inv.TaxCents())
	assert.Equal(t, int64(55199), inv.TotalCents())
}

func TestInvoiceTaxRoundsHalfUp(t *testing.T) {
	inv := &Invoice{TaxRateBP: 500, Items: []InvoiceItem{{Quantity: 1, UnitPriceCents: 10}}}
	// 10 * 0.05 = 0.5
	assert.Equal(t, int64(1), inv.TaxCents())
	inv.Items[0].UnitPriceCents = 9
	// 0.45
	assert.Equal(t, int64(0), inv.TaxCents())
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "0.00", FormatCents(0))
	assert.Equal(t, "12.05", FormatCents(1205))
	assert.Equal(t, "-3.10", FormatCents(-310))
	assert.Equal(t, "INV-2026-0042", InvoiceNumber(2026, 42))
}

func TestPageNormalize(t *testing.T) {
	p := Page{Number: 0, Size: 1000}.Normalize()
	assert.Equal(t, Page{Number: 1, Size: MaxPageSize}, p)
	assert.Equal(t, 40, Page{Number: 3, Size: 20}.Offset())

	items := []int{1, 2, 3, 4, 5}
	assert.Equal(t, []int{3, 4}, Paginate(items, Page{Number: 2, Size: 2}))
	assert.Nil(t, Paginate(items, Page{Number: 4, Size: 2}))
}

func TestValidationError(t *testing.T) {
	v := NewValidationError()
	assert.NoError(t, v.Err())
	v.Add("email", "is required")
	v.Add("email", "ignored")
	v.Add("name", "is required")
	err := v.Err()
	assert.EqualError(t, err, "validation failed: email: is required, name: is required")
}

package models

import (
	"fmt"
	"time"
)

type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "draft"
	InvoiceSent      InvoiceStatus = "sent"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceOverdue   InvoiceStatus = "overdue"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceDraft, InvoiceSent, InvoicePaid, InvoiceOverdue, InvoiceCancelled:
		return true
	}
	return false
}

// Outstanding сообщает, ждёт ли счёт оплаты.
func (s InvoiceStatus) Outstanding() bool {
	return s == InvoiceSent || s == InvoiceOverdue
}

// MaxAmountCents bounds every line amount and the invoice subtotal.
const MaxAmountCents int64 = 1e13

// InvoiceItem представляет строку счёта. Цены хранятся в центах.
type InvoiceItem struct {
	Description    string `json:"description"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

func (i InvoiceItem) AmountCents() int64 {
	return int64(i.Quantity) * i.UnitPriceCents
}

// Invoice представляет счёт клиенту.
type Invoice struct {
	ID        string        `json:"id"`
	Number    string        `json:"number"`
	ClientID  string        `json:"client_id"`
	Status    InvoiceStatus `json:"status"`
	Currency  string        `json:"currency"`
	Items     []InvoiceItem `json:"items"`
	TaxRateBP int           `json:"tax_rate_bp"`
	Notes     string        `json:"notes"`
	IssuedAt  time.Time     `json:"issued_at"`
	DueAt     time.Time     `json:"due_at"`
	SentAt    *time.Time    `json:"sent_at,omitempty"`
	PaidAt    *time.Time    `json:"paid_at,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func (inv *Invoice) SubtotalCents() int64 {
	var total int64
	for _, item := range inv.Items {
		total += item.AmountCents()
	}
	return total
}

// TaxCents rounds half up to the nearest cent.
func (inv *Invoice) TaxCents() int64 {
	return (inv.SubtotalCents()*int64(inv.TaxRateBP) + 5000) / 10000
}

func (inv *Invoice) TotalCents() int64 {
	return inv.SubtotalCents() + inv.TaxCents()
}

// FormatCents renders an amount like "1234.50".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// InvoiceNumber builds numbers of the form INV-2026-0007.
func InvoiceNumber(year, seq int) string {
	return fmt.Sprintf("INV-%d-%04d", year, seq)
}

package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ZetoOfficial/portal-cms/internal/models"
)

// Клиентский кабинет: только свои счета, черновики не видны.

func (s *Server) portalInvoices(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	res, err := s.Invoices.ListForClient(r.Context(), user.ID, pageParam(r, models.DefaultPageSize))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) portalInvoice(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	inv, err := s.Invoices.GetForClient(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoiceView(inv))
}

// invoiceResponse adds the computed amounts to an invoice.
type invoiceResponse struct {
	*models.Invoice
	SubtotalCents int64 `json:"subtotal_cents"`
	TaxCents      int64 `json:"tax_cents"`
	TotalCents    int64 `json:"total_cents"`
}

func invoiceView(inv *models.Invoice) invoiceResponse {
	return invoiceResponse{
		Invoice:       inv,
		SubtotalCents: inv.SubtotalCents(),
		TaxCents:      inv.TaxCents(),
		TotalCents:    inv.TotalCents(),
	}
}

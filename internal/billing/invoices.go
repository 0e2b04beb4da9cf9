package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ZetoOfficial/portal-cms/internal/models"
	"github.com/ZetoOfficial/portal-cms/internal/settings"
	"github.com/ZetoOfficial/portal-cms/internal/storage"
)

const maxItems = 100

// ErrInvalidTransition is returned when the invoice status does not allow
// the requested action.
var ErrInvalidTransition = fmt.Errorf("%w: invalid invoice status transition", storage.ErrConflict)

type Store interface {
	CreateInvoice(ctx context.Context, inv *models.Invoice) error
	UpdateInvoice(ctx context.Context, inv *models.Invoice, from models.InvoiceStatus) error
	GetInvoiceByID(ctx context.Context, id string) (*models.Invoice, error)
	ListInvoices(ctx context.Context, f storage.InvoiceFilter) ([]models.Invoice, int, error)
	ListInvoicesDueBefore(ctx context.Context, status models.InvoiceStatus, t time.Time) ([]models.Invoice, error)
	NextInvoiceSeq(ctx context.Context, year int) (int, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

type Mailer interface {
	SendInvoice(ctx context.Context, client *models.User, inv *models.Invoice, link string) error
}

type Settings interface {
	Int(ctx context.Context, key string) int
	String(ctx context.Context, key string) string
}

type InvoiceInput struct {
	ClientID  string               `json:"client_id"`
	Currency  string               `json:"currency"`
	Items     []models.InvoiceItem `json:"items"`
	TaxRateBP *int                 `json:"tax_rate_bp"`
	Notes     string               `json:"notes"`
	IssuedAt  *time.Time           `json:"issued_at"`
	DueAt     *time.Time           `json:"due_at"`
}

// Service выставляет счета клиентам и ведёт их статусы.
type Service struct {
	store    Store
	mailer   Mailer
	settings Settings
	baseURL  string
	now      func() time.Time
}

func NewService(store Store, mailer Mailer, st Settings, baseURL string) *Service {
	return &Service{
		store:    store,
		mailer:   mailer,
		settings: st,
		baseURL:  strings.TrimRight(baseURL, "/"),
		now:      time.Now,
	}
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// build validates input and fills defaults from site settings.
func (s *Service) build(ctx context.Context, inv *models.Invoice, in InvoiceInput) error {
	verr := models.NewValidationError()

	client, err := s.store.GetUserByID(ctx, strings.TrimSpace(in.ClientID))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		verr.Add("client_id", "does not exist")
	case err != nil:
		return err
	case client.Role != models.RoleClient:
		verr.Add("client_id", "is not a client")
	}

	if len(in.Items) == 0 {
		verr.Add("items", "at least one item is required")
	}
	if len(in.Items) > maxItems {
		verr.Add("items", fmt.Sprintf("at most %d items", maxItems))
	}
	items := make([]models.InvoiceItem, 0, len(in.Items))
	var subtotal int64
	for i, item := range in.Items {
		item.Description = strings.TrimSpace(item.Description)
		field := fmt.Sprintf("items[%d]", i)
		switch {
		case item.Description == "":
			verr.Add(field, "description is required")
		case utf8.RuneCountInString(item.Description) > 500:
			verr.Add(field, "description must be at most 500 characters")
		case item.Quantity <= 0:
			verr.Add(field, "quantity must be positive")
		case item.UnitPriceCents < 0:
			verr.Add(field, "unit price must not be negative")
		case item.UnitPriceCents > models.MaxAmountCents/int64(item.Quantity):
			verr.Add(field, "amount is too large")
		default:
			subtotal += item.AmountCents()
		}
		items = append(items, item)
	}
	if subtotal > models.MaxAmountCents {
		verr.Add("items", "invoice total is too large")
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = s.settings.String(ctx, settings.InvoiceCurrency)
	}
	if len(currency) != 3 {
		verr.Add("currency", "must be a three letter code")
	}

	tax := s.settings.Int(ctx, settings.InvoiceTaxRateBP)
	if in.TaxRateBP != nil {
		tax = *in.TaxRateBP
	}
	if tax < 0 || tax > 10000 {
		verr.Add("tax_rate_bp", "must be between 0 and 10000")
	}

	issued := day(s.now())
	if in.IssuedAt != nil {
		issued = day(*in.IssuedAt)
	}
	due := issued.AddDate(0, 0, s.settings.Int(ctx, settings.InvoicePaymentTermsDays))
	if in.DueAt != nil {
		due = day(*in.DueAt)
	}
	if due.Before(issued) {
		verr.Add("due_at", "must not be before the issue date")
	}
	if err := verr.Err(); err != nil {
		return err
	}

	inv.ClientID = client.ID
	inv.Currency = currency
	inv.Items = items
	inv.TaxRateBP = tax
	inv.Notes = strings.TrimSpace(in.Notes)
	inv.IssuedAt = issued
	inv.DueAt = due
	return nil
}

// Create stores a draft and assigns the next number of the issue year.
func (s *Service) Create(ctx context.Context, in InvoiceInput) (*models.Invoice, error) {
	now := s.now().UTC()
	inv := &models.Invoice{ID: uuid.NewString(), Status: models.InvoiceDraft, CreatedAt: now, UpdatedAt: now}
	if err := s.build(ctx, inv, in); err != nil {
		return nil, err
	}
	seq, err := s.store.NextInvoiceSeq(ctx, inv.IssuedAt.Year())
	if err != nil {
		return nil, fmt.Errorf("next invoice number: %w", err)
	}
	inv.Number = models.InvoiceNumber(inv.IssuedAt.Year(), seq)
	if err := s.store.CreateInvoice(ctx, inv); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"id":        inv.ID,
		"number":    inv.Number,
		"client_id": inv.ClientID,
		"total":     models.FormatCents(inv.TotalCents()),
	}).Info("Создан счёт")
	return inv, nil
}

// Update edits a draft. Issued invoices are immutable.
func (s *Service) Update(ctx context.Context, id string, in InvoiceInput) (*models.Invoice, error) {
	inv, err := s.store.GetInvoiceByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != models.InvoiceDraft {
		return nil, fmt.Errorf("%w: invoice %s is %s", ErrInvalidTransition, inv.Number, inv.Status)
	}
	if err := s.build(ctx, inv, in); err != nil {
		return nil, err
	}
	inv.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateInvoice(ctx, inv, models.InvoiceDraft); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("%w: invoice %s is no longer a draft", ErrInvalidTransition, inv.Number)
		}
		return nil, err
	}
	return inv, nil
}

func (s *Service) transition(ctx context.Context, id string, to models.InvoiceStatus, from ...models.InvoiceStatus) (*models.Invoice, error) {
	inv, err := s.store.GetInvoiceByID(ctx, id)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, st := range from {
		if inv.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s invoice %s cannot become %s", ErrInvalidTransition, inv.Status, inv.Number, to)
	}
	now := s.now().UTC()
	switch to {
	case models.InvoiceSent:
		inv.SentAt = &now
	case models.InvoicePaid:
		inv.PaidAt = &now
	}
	prev := inv.Status
	inv.Status = to
	inv.UpdatedAt = now
	if err := s.store.UpdateInvoice(ctx, inv, prev); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("%w: invoice %s changed concurrently", ErrInvalidTransition, inv.Number)
		}
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"id": inv.ID, "number": inv.Number, "from": prev, "to": to}).Info("Статус счёта изменён")
	return inv, nil
}

// Send issues a draft and mails it to the client. A mail failure is
// logged; the invoice stays sent and can be re-sent by hand.
func (s *Service) Send(ctx context.Context, id string) (*models.Invoice, error) {
	inv, err := s.transition(ctx, id, models.InvoiceSent, models.InvoiceDraft)
	if err != nil {
		return nil, err
	}
	client, err := s.store.GetUserByID(ctx, inv.ClientID)
	if err != nil {
		logrus.WithFields(logrus.Fields{"id": inv.ID, "error": err}).Error("Клиент счёта не найден")
		return inv, nil
	}
	link := s.baseURL + "/portal/invoices/" + inv.ID
	if err := s.mailer.SendInvoice(ctx, client, inv, link); err != nil {
		logrus.WithFields(logrus.Fields{"id": inv.ID, "error": err}).Error("Не удалось отправить счёт клиенту")
	}
	return inv, nil
}

func (s *Service) MarkPaid(ctx context.Context, id string) (*models.Invoice, error) {
	return s.transition(ctx, id, models.InvoicePaid, models.InvoiceSent, models.InvoiceOverdue)
}

func (s *Service) Cancel(ctx context.Context, id string) (*models.Invoice, error) {
	return s.transition(ctx, id, models.InvoiceCancelled, models.InvoiceDraft, models.InvoiceSent, models.InvoiceOverdue)
}

// MarkOverdue flags every sent invoice whose due date is before now.
// Invoices that left the sent status after being listed are skipped.
func (s *Service) MarkOverdue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.ListInvoicesDueBefore(ctx, models.InvoiceSent, now)
	if err != nil {
		return 0, fmt.Errorf("list due invoices: %w", err)
	}
	n := 0
	for i := range due {
		inv := &due[i]
		inv.Status = models.InvoiceOverdue
		inv.UpdatedAt = now.UTC()
		err := s.store.UpdateInvoice(ctx, inv, models.InvoiceSent)
		if errors.Is(err, storage.ErrConflict) {
			logrus.WithField("number", inv.Number).Debug("Счёт уже не ожидает оплаты, пропускаем")
			continue
		}
		if err != nil {
			return n, fmt.Errorf("mark %s overdue: %w", inv.Number, err)
		}
		n++
	}
	if n > 0 {
		logrus.Infof("Просрочено счетов: %d", n)
	}
	return n, nil
}

// RunSweeper calls MarkOverdue every interval until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.MarkOverdue(ctx, s.now()); err != nil && ctx.Err() == nil {
				logrus.WithField("error", err).Error("Ошибка проверки просроченных счетов")
			}
		}
	}
}

func (s *Service) Get(ctx context.Context, id string) (*models.Invoice, error) {
	return s.store.GetInvoiceByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f storage.InvoiceFilter) (models.PageResult[models.Invoice], error) {
	if f.Status != "" && !f.Status.Valid() {
		verr := models.NewValidationError()
		verr.Add("status", "is not a valid status")
		return models.PageResult[models.Invoice]{}, verr
	}
	items, total, err := s.store.ListInvoices(ctx, f)
	if err != nil {
		return models.PageResult[models.Invoice]{}, fmt.Errorf("list invoices: %w", err)
	}
	return models.NewPageResult(items, total, f.Page), nil
}

// ListForClient shows a client their issued invoices; drafts stay hidden.
func (s *Service) ListForClient(ctx context.Context, clientID string, page models.Page) (models.PageResult[models.Invoice], error) {
	return s.List(ctx, storage.InvoiceFilter{ClientID: clientID, ExcludeDraft: true, Page: page})
}

// GetForClient reports foreign invoices and drafts as not found.
func (s *Service) GetForClient(ctx context.Context, clientID, id string) (*models.Invoice, error) {
	inv, err := s.store.GetInvoiceByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.ClientID != clientID || inv.Status == models.InvoiceDraft {
		return nil, fmt.Errorf("invoice %s: %w", id, storage.ErrNotFound)
	}
	return inv, nil
}

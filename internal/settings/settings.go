package settings

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ZetoOfficial/portal-cms/internal/models"
)

//go:embed defaults.yaml
var defaultsYAML []byte

const (
	SiteName                    = "site_name"
	SiteTagline                 = "site_tagline"
	RegistrationOpen            = "registration_open"
	CommentsEnabled             = "comments_enabled"
	CommentsAutoApproveVerified = "comments_auto_approve_verified"
	ArticlesPerPage             = "articles_per_page"
	InvoicePaymentTermsDays     = "invoice_payment_terms_days"
	InvoiceTaxRateBP            = "invoice_tax_rate_bp"
	InvoiceCurrency             = "invoice_currency"
	ContactEmail                = "contact_email"
)

type Kind int

const (
	KindString Kind = iota
	KindBool
	KindInt
)

// Known перечисляет допустимые ключи и их типы.
var Known = map[string]Kind{
	SiteName:                    KindString,
	SiteTagline:                 KindString,
	RegistrationOpen:            KindBool,
	CommentsEnabled:             KindBool,
	CommentsAutoApproveVerified: KindBool,
	ArticlesPerPage:             KindInt,
	InvoicePaymentTermsDays:     KindInt,
	InvoiceTaxRateBP:            KindInt,
	InvoiceCurrency:             KindString,
	ContactEmail:                KindString,
}

// Public keys are safe to show to anonymous visitors.
var Public = []string{SiteName, SiteTagline, RegistrationOpen, CommentsEnabled, ArticlesPerPage, ContactEmail}

type Store interface {
	GetSettings(ctx context.Context) (map[string]string, error)
	SaveSettings(ctx context.Context, values map[string]string) error
}

// Service отдаёт настройки сайта: значения из базы поверх значений по умолчанию.
type Service struct {
	store    Store
	defaults map[string]string

	mu    sync.RWMutex
	cache map[string]string

	// gen grows on every Update; a load that started earlier does not cache.
	gen uint64
}

// New loads the embedded defaults and, when file is set, overrides them with
// the values from that YAML file.
func New(store Store, file string) (*Service, error) {
	defaults, err := parse(defaultsYAML)
	if err != nil {
		return nil, fmt.Errorf("parse embedded defaults: %w", err)
	}
	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read settings file: %w", err)
		}
		overrides, err := parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		for k, v := range overrides {
			defaults[k] = v
		}
	}
	return &Service{store: store, defaults: defaults}, nil
}

func parse(raw []byte) (map[string]string, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(doc))
	verr := models.NewValidationError()
	for k, v := range doc {
		kind, ok := Known[k]
		if !ok {
			verr.Add(k, "unknown setting")
			continue
		}
		s := fmt.Sprint(v)
		if v == nil {
			s = ""
		}
		if err := check(kind, s); err != nil {
			verr.Add(k, err.Error())
			continue
		}
		out[k] = s
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func check(kind Kind, v string) error {
	switch kind {
	case KindBool:
		if _, err := strconv.ParseBool(v); err != nil {
			return fmt.Errorf("must be true or false")
		}
	case KindInt:
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("must be an integer")
		}
		if n < 0 {
			return fmt.Errorf("must not be negative")
		}
	}
	return nil
}

func (s *Service) load(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	cache, gen := s.cache, s.gen
	s.mu.RUnlock()
	if cache != nil {
		return cache, nil
	}

	stored, err := s.store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	merged := make(map[string]string, len(s.defaults))
	for k, v := range s.defaults {
		merged[k] = v
	}
	for k, v := range stored {
		kind, ok := Known[k]
		if !ok || check(kind, v) != nil {
			logrus.WithFields(logrus.Fields{"key": k, "value": v}).Warn("Пропущена некорректная настройка")
			continue
		}
		merged[k] = v
	}

	s.mu.Lock()
	if s.gen == gen {
		s.cache = merged
	}
	s.mu.Unlock()
	return merged, nil
}

// All returns a copy of every known setting.
func (s *Service) All(ctx context.Context) (map[string]string, error) {
	values, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out, nil
}

func (s *Service) PublicValues(ctx context.Context) (map[string]string, error) {
	values, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(Public))
	for _, k := range Public {
		out[k] = values[k]
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, key string) (string, error) {
	if _, ok := Known[key]; !ok {
		return "", fmt.Errorf("unknown setting %q", key)
	}
	values, err := s.load(ctx)
	if err != nil {
		return "", err
	}
	return values[key], nil
}

// String, Bool and Int fall back to the default value when the store is
// unavailable, logging the failure.
func (s *Service) String(ctx context.Context, key string) string {
	v, err := s.Get(ctx, key)
	if err != nil {
		logrus.WithFields(logrus.Fields{"key": key, "error": err}).Error("Не удалось прочитать настройку")
		return s.defaults[key]
	}
	return v
}

func (s *Service) Bool(ctx context.Context, key string) bool {
	b, _ := strconv.ParseBool(s.String(ctx, key))
	return b
}

func (s *Service) Int(ctx context.Context, key string) int {
	n, _ := strconv.Atoi(s.String(ctx, key))
	return n
}

// Update validates and stores the given values, then drops the cache.
func (s *Service) Update(ctx context.Context, values map[string]string) error {
	verr := models.NewValidationError()
	clean := make(map[string]string, len(values))
	for k, v := range values {
		kind, ok := Known[k]
		if !ok {
			verr.Add(k, "unknown setting")
			continue
		}
		v = strings.TrimSpace(v)
		if err := check(kind, v); err != nil {
			verr.Add(k, err.Error())
			continue
		}
		if kind == KindBool {
			b, _ := strconv.ParseBool(v)
			v = strconv.FormatBool(b)
		}
		clean[k] = v
	}
	if n, ok := clean[ArticlesPerPage]; ok {
		if per, _ := strconv.Atoi(n); per < 1 || per > models.MaxPageSize {
			verr.Add(ArticlesPerPage, fmt.Sprintf("must be between 1 and %d", models.MaxPageSize))
		}
	}
	if c, ok := clean[InvoiceCurrency]; ok && len(c) != 3 {
		verr.Add(InvoiceCurrency, "must be a three letter code")
	}
	if err := verr.Err(); err != nil {
		return err
	}
	if c, ok := clean[InvoiceCurrency]; ok {
		clean[InvoiceCurrency] = strings.ToUpper(c)
	}
	if len(clean) == 0 {
		return nil
	}

	if err := s.store.SaveSettings(ctx, clean); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	s.mu.Lock()
	s.cache = nil
	s.gen++
	s.mu.Unlock()

	keys := make([]string, 0, len(clean))
	for k := range clean {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	logrus.WithField("keys", strings.Join(keys, ",")).Info("Настройки обновлены")
	return nil
}

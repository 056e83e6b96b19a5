package campaign

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hongminglow/pipeline-crm/internal/mail"
	"github.com/hongminglow/pipeline-crm/internal/metrics"
	"github.com/hongminglow/pipeline-crm/internal/models"
)

var (
	// ErrNoRecipients means the filter matched no prospect with a client email.
	ErrNoRecipients = errors.New("no recipients")
	// ErrEmptyMessage means subject or body is blank.
	ErrEmptyMessage = errors.New("subject and message are required")
)

// Send outcomes.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// RecipientSource resolves prospects joined with their client address.
type RecipientSource interface {
	ListRecipients(ctx context.Context, filter models.ProspectFilter) ([]models.Recipient, error)
}

type Request struct {
	Filter  models.ProspectFilter
	Subject string
	Message string
}

// Result is the outcome for one recipient.
type Result struct {
	Email      string `json:"email"`
	ProspectID int64  `json:"prospect_id"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

type Report struct {
	Sent    int      `json:"sent"`
	Failed  int      `json:"failed"`
	Results []Result `json:"results"`
}

// Dispatcher sends one templated email per recipient concurrently.
type Dispatcher struct {
	source      RecipientSource
	mailer      mail.Mailer
	concurrency int
	logger      *zap.Logger
}

func NewDispatcher(source RecipientSource, mailer mail.Mailer, concurrency int, logger *zap.Logger) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{source: source, mailer: mailer, concurrency: concurrency, logger: logger}
}

// Recipients resolves the filter, dropping prospects without an email and
// repeated addresses. The first prospect for an address wins.
func (d *Dispatcher) Recipients(ctx context.Context, filter models.ProspectFilter) ([]models.Recipient, error) {
	all, err := d.source.ListRecipients(ctx, filter)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(all))
	out := make([]models.Recipient, 0, len(all))
	for _, r := range all {
		key := strings.ToLower(strings.TrimSpace(r.Email))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		r.Email = strings.TrimSpace(r.Email)
		out = append(out, r)
	}
	return out, nil
}

// Dispatch sends to every recipient. Individual failures are reported in the
// result list and never stop the other sends.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Report, error) {
	if strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.Message) == "" {
		return Report{}, ErrEmptyMessage
	}
	recipients, err := d.Recipients(ctx, req.Filter)
	if err != nil {
		return Report{}, err
	}
	if len(recipients) == 0 {
		return Report{}, ErrNoRecipients
	}

	results := make([]Result, len(recipients))
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, r := range recipients {
		g.Go(func() error {
			msg := mail.Message{
				To:      r.Email,
				Subject: Render(req.Subject, r),
				Body:    Render(req.Message, r),
			}
			res := Result{Email: r.Email, ProspectID: r.ProspectID, Status: StatusSent}
			if err := d.mailer.Send(ctx, msg); err != nil {
				res.Status = StatusFailed
				res.Error = err.Error()
				d.logger.Warn("campaign email failed", zap.String("email", r.Email), zap.Error(err))
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Results: results}
	for _, res := range results {
		if res.Status == StatusSent {
			report.Sent++
		} else {
			report.Failed++
		}
	}
	metrics.EmailsSent.WithLabelValues(StatusSent).Add(float64(report.Sent))
	metrics.EmailsSent.WithLabelValues(StatusFailed).Add(float64(report.Failed))
	d.logger.Info("campaign dispatched", zap.Int("sent", report.Sent), zap.Int("failed", report.Failed))
	return report, nil
}

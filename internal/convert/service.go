// Package convert promotes prospects to CRM leads and runs the post-commit
// side effects: admin notifications, email, and CRM mirroring.
package convert

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/prospector/internal/metrics"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/notify"
)

// Store is the subset of the store conversion needs.
type Store interface {
	GetProspect(ctx context.Context, id string) (*model.Prospect, error)
	ConvertProspect(ctx context.Context, id, owner string) (*model.Lead, bool, error)
	AssignProspect(ctx context.Context, id, userID string) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	ListUsersByRole(ctx context.Context, role string) ([]model.User, error)
}

// Notifier fans out events and runs best-effort background work.
type Notifier interface {
	NotifyAll(ctx context.Context, ev notify.Event)
	Go(ctx context.Context, name string, fn func(context.Context) error)
}

// Result is the outcome of Process. Created is false when the prospect had
// already been converted and the existing lead was returned.
type Result struct {
	Lead    *model.Lead `json:"lead"`
	Created bool        `json:"created"`
}

// Option configures a Service.
type Option func(*Service)

// WithMailer emails admins when a lead is created.
func WithMailer(m notify.Mailer) Option {
	return func(s *Service) { s.mailer = m }
}

// WithSinks mirrors created leads into external CRMs.
func WithSinks(sinks ...Sink) Option {
	return func(s *Service) { s.sinks = append(s.sinks, sinks...) }
}

// Service converts prospects into leads.
type Service struct {
	store    Store
	notifier Notifier
	mailer   notify.Mailer
	sinks    []Sink
	flight   singleflight.Group
	log      *zap.Logger
}

// NewService creates a conversion Service.
func NewService(st Store, n Notifier, opts ...Option) *Service {
	s := &Service{
		store:    st,
		notifier: n,
		log:      zap.L().With(zap.String("component", "convert")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process converts the prospect into a lead. Converting an already processed
// prospect returns its existing lead with Created=false. Concurrent calls for
// the same prospect share one store transaction.
func (s *Service) Process(ctx context.Context, caller model.Caller, prospectID string) (*Result, error) {
	if strings.TrimSpace(prospectID) == "" {
		return nil, model.Invalid("prospect_id", "is required")
	}

	v, err, _ := s.flight.Do(prospectID, func() (any, error) {
		return s.process(context.WithoutCancel(ctx), caller, prospectID)
	})
	if err != nil {
		return nil, err
	}
	res := v.(*Result)
	lead := *res.Lead
	return &Result{Lead: &lead, Created: res.Created}, nil
}

func (s *Service) process(ctx context.Context, caller model.Caller, prospectID string) (*Result, error) {
	lead, created, err := s.store.ConvertProspect(ctx, prospectID, caller.UserID)
	if err != nil {
		return nil, eris.Wrapf(err, "convert: process prospect %s", prospectID)
	}

	log := s.log.With(zap.String("prospect_id", prospectID), zap.String("lead_id", lead.ID))
	if !created {
		log.Debug("prospect already converted")
		return &Result{Lead: lead, Created: false}, nil
	}

	metrics.RecordLeadCreated()
	log.Info("lead created", zap.String("user_id", caller.UserID))
	s.afterCommit(ctx, *lead)

	return &Result{Lead: lead, Created: true}, nil
}

// afterCommit schedules the best-effort side effects of a new lead. None of
// them can fail the conversion.
func (s *Service) afterCommit(ctx context.Context, lead model.Lead) {
	if s.notifier == nil {
		return
	}

	s.notifier.NotifyAll(ctx, notify.Event{
		Type:    model.NotifyNewLead,
		Title:   "Nuevo lead",
		Message: fmt.Sprintf("%s se ha convertido en lead", lead.Name),
		Link:    "/prospects/" + lead.ProspectID,
	})

	if s.mailer != nil {
		s.notifier.Go(ctx, "lead_email", func(ctx context.Context) error {
			return s.emailAdmins(ctx, lead)
		})
	}

	for _, sink := range s.sinks {
		s.notifier.Go(ctx, "crm_"+sink.Name(), func(ctx context.Context) error {
			p, err := s.store.GetProspect(ctx, lead.ProspectID)
			if err != nil {
				return eris.Wrap(err, "convert: load prospect for crm sync")
			}
			if err := sink.Sync(ctx, lead, *p); err != nil {
				return eris.Wrapf(err, "convert: sync lead to %s", sink.Name())
			}
			return nil
		})
	}
}

// Assign sets the sales user responsible for a prospect. Only admins may
// assign.
func (s *Service) Assign(ctx context.Context, caller model.Caller, prospectID, userID string) error {
	if !caller.IsAdmin() {
		return eris.Wrap(model.ErrForbidden, "convert: assign requires admin")
	}
	if strings.TrimSpace(userID) == "" {
		return model.Invalid("user_id", "is required")
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return eris.Wrap(err, "convert: assign")
	}
	if err := s.store.AssignProspect(ctx, prospectID, userID); err != nil {
		return eris.Wrap(err, "convert: assign")
	}
	s.log.Info("prospect assigned",
		zap.String("prospect_id", prospectID),
		zap.String("user_id", userID),
		zap.String("by", caller.UserID),
	)
	return nil
}

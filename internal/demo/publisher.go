// Package demo generates, publishes and tracks personalized demo pages for
// prospects.
package demo

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/metrics"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/notify"
	"github.com/sells-group/prospector/internal/resilience"
	"github.com/sells-group/prospector/internal/store"
	"github.com/sells-group/prospector/pkg/anthropic"
)

const (
	maxCustomPrompt = 1000
	maxContactName  = 120
	maxContactMsg   = 2000
	defaultImages   = 6
)

// Notifier fans out demo events. Go runs a tracked task detached from the
// caller.
type Notifier interface {
	NotifyAll(ctx context.Context, ev notify.Event)
	NotifyOne(ctx context.Context, userID string, ev notify.Event)
	Go(ctx context.Context, name string, fn func(context.Context) error)
}

// PhotoSource resolves directory photo references to public URLs.
type PhotoSource interface {
	PhotoURI(ctx context.Context, photoName string, maxWidthPx int) (string, error)
}

// Config configures the publisher.
type Config struct {
	BaseURL   string
	Model     string
	MaxTokens int64
	MaxImages int
}

// Guards protects the upstream calls made while generating.
type Guards struct {
	AI     *resilience.Guard
	Photos *resilience.Guard
}

// Generated is returned by Generate.
type Generated struct {
	Demo      *model.DemoPublication `json:"demo"`
	Token     string                 `json:"token"`
	PublicURL string                 `json:"public_url"`
	AICopy    bool                   `json:"ai_copy"`
}

// ContactInput is the public contact form.
type ContactInput struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// Publisher owns demo publications.
type Publisher struct {
	store    store.Store
	ai       anthropic.Client
	photos   PhotoSource
	catalog  Catalog
	notifier Notifier
	guards   Guards
	cfg      Config
	now      func() time.Time
	newToken func() string
	log      *zap.Logger
}

// NewPublisher creates a Publisher. ai and photos may be nil.
func NewPublisher(st store.Store, ai anthropic.Client, photos PhotoSource, catalog Catalog, notifier Notifier, guards Guards, cfg Config) *Publisher {
	if guards.AI == nil {
		guards.AI = resilience.NewGuard("anthropic", resilience.GuardConfig{})
	}
	if guards.Photos == nil {
		guards.Photos = resilience.NewGuard("places_photos", resilience.GuardConfig{})
	}
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = defaultImages
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Publisher{
		store:    st,
		ai:       ai,
		photos:   photos,
		catalog:  catalog,
		notifier: notifier,
		guards:   guards,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		newToken: func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
		log:      zap.L().With(zap.String("component", "demo")),
	}
}

// PublicURL returns the public address of token.
func (p *Publisher) PublicURL(token string) string {
	return p.cfg.BaseURL + "/d/" + token
}

// Generate renders and publishes a new demo for a prospect. It never fails
// because of the AI copywriter; deterministic copy is used instead.
func (p *Publisher) Generate(ctx context.Context, caller model.Caller, prospectID, demoType, customPrompt string) (*Generated, error) {
	if demoType == "" {
		demoType = DefaultType
	}
	theme, ok := p.catalog[demoType]
	if !ok {
		return nil, model.Invalid("demo_type", "unknown demo type %q (valid: %s)", demoType, strings.Join(p.catalog.Types(), ", "))
	}
	if utf8.RuneCountInString(customPrompt) > maxCustomPrompt {
		return nil, model.Invalid("custom_prompt", "must be at most %d characters", maxCustomPrompt)
	}

	pr, err := p.store.GetProspect(ctx, prospectID)
	if err != nil {
		return nil, err
	}

	pageCopy, aiCopy := p.writeCopy(ctx, *pr, theme, customPrompt)
	images := p.images(ctx, *pr, theme, p.cfg.MaxImages)

	// Detached so an abandoned request still publishes what it generated.
	wctx := context.WithoutCancel(ctx)
	var d *model.DemoPublication
	for attempt := 0; ; attempt++ {
		token := p.newToken()
		html, err := render(pageData{
			Name:          pr.Name,
			Copy:          pageCopy,
			Theme:         theme,
			Images:        images,
			Reviews:       topReviews(pr.Reviews, 3),
			Address:       pr.Address,
			Phone:         pr.Phone,
			ContactAction: "/d/" + token + "/contact",
			AcceptAction:  "/d/" + token + "/accept",
		})
		if err != nil {
			return nil, eris.Wrap(err, "demo: render page")
		}
		d = &model.DemoPublication{
			ProspectID:      pr.ID,
			Token:           token,
			DemoType:        demoType,
			Title:           pageCopy.Headline,
			RenderedContent: html,
			CreatedBy:       caller.UserID,
			CreatedAt:       p.now(),
		}
		err = p.store.CreateDemo(wctx, d)
		if err == nil {
			break
		}
		if !errors.Is(err, model.ErrConflict) || attempt == 2 {
			return nil, eris.Wrap(err, "demo: create publication")
		}
	}

	p.log.Info("demo: published",
		zap.String("prospect_id", pr.ID),
		zap.String("demo_id", d.ID),
		zap.String("demo_type", demoType),
		zap.Bool("ai_copy", aiCopy),
		zap.Int("images", len(images)),
	)
	return &Generated{Demo: d, Token: d.Token, PublicURL: p.PublicURL(d.Token), AICopy: aiCopy}, nil
}

// Resolve returns a live demo. Revoked demos are not found.
func (p *Publisher) Resolve(ctx context.Context, token string) (*model.DemoPublication, error) {
	return p.store.GetDemoByToken(ctx, token)
}

// RecordView counts one view. The first view notifies the prospect's owner.
func (p *Publisher) RecordView(ctx context.Context, token string) (int64, error) {
	views, err := p.store.IncrementDemoViews(ctx, token)
	if err != nil {
		return 0, err
	}
	metrics.RecordDemoView()
	if views == 1 {
		p.notifyOwner(ctx, token, func(pr *model.Prospect) notify.Event {
			return notify.Event{
				Type:    model.NotifyDemoViewed,
				Title:   "Demo vista",
				Message: fmt.Sprintf("%s ha abierto su demo por primera vez", pr.Name),
				Link:    "/prospects/" + pr.ID,
			}
		})
	}
	return views, nil
}

// SubmitContact stores a visitor's message and notifies the prospect's owner.
func (p *Publisher) SubmitContact(ctx context.Context, token string, in ContactInput) (*model.ContactRequest, error) {
	in = ContactInput{
		Name:    strings.TrimSpace(in.Name),
		Email:   strings.TrimSpace(in.Email),
		Phone:   strings.TrimSpace(in.Phone),
		Message: strings.TrimSpace(in.Message),
	}
	if err := validateContact(in); err != nil {
		return nil, err
	}
	if _, err := p.store.GetDemoByToken(ctx, token); err != nil {
		return nil, err
	}

	c := &model.ContactRequest{
		DemoToken: token,
		Name:      in.Name,
		Email:     in.Email,
		Phone:     in.Phone,
		Message:   in.Message,
		CreatedAt: p.now(),
	}
	if err := p.store.AddContactRequest(context.WithoutCancel(ctx), c); err != nil {
		return nil, eris.Wrap(err, "demo: add contact request")
	}

	p.notifyOwner(ctx, token, func(pr *model.Prospect) notify.Event {
		return notify.Event{
			Type:    model.NotifyContactMessage,
			Title:   "Nuevo mensaje desde una demo",
			Message: fmt.Sprintf("%s escribió desde la demo de %s", in.Name, pr.Name),
			Link:    "/prospects/" + pr.ID,
		}
	})
	return c, nil
}

func validateContact(in ContactInput) error {
	if in.Name == "" {
		return model.Invalid("name", "is required")
	}
	if utf8.RuneCountInString(in.Name) > maxContactName {
		return model.Invalid("name", "must be at most %d characters", maxContactName)
	}
	if in.Email == "" && in.Phone == "" {
		return model.Invalid("email", "an email or a phone number is required")
	}
	if in.Email != "" {
		if _, err := mail.ParseAddress(in.Email); err != nil {
			return model.Invalid("email", "%q is not a valid address", in.Email)
		}
	}
	if utf8.RuneCountInString(in.Message) > maxContactMsg {
		return model.Invalid("message", "must be at most %d characters", maxContactMsg)
	}
	return nil
}

// Accept records the visitor's acceptance once and notifies the owner.
// It reports whether this call recorded it.
func (p *Publisher) Accept(ctx context.Context, token string) (bool, error) {
	first, err := p.store.AcceptDemo(ctx, token, p.now())
	if err != nil {
		return false, err
	}
	if first {
		p.notifyOwner(ctx, token, func(pr *model.Prospect) notify.Event {
			return notify.Event{
				Type:    model.NotifyDemoAccepted,
				Title:   "Demo aceptada",
				Message: fmt.Sprintf("%s ha aceptado la propuesta", pr.Name),
				Link:    "/prospects/" + pr.ID,
			}
		})
	}
	return first, nil
}

// Revoke takes a demo offline. Its contact history stays queryable.
func (p *Publisher) Revoke(ctx context.Context, demoID string) error {
	if err := p.store.RevokeDemo(ctx, demoID); err != nil {
		return err
	}
	p.log.Info("demo: revoked", zap.String("demo_id", demoID))
	return nil
}

// List returns a prospect's demos, newest first, including revoked ones.
func (p *Publisher) List(ctx context.Context, prospectID string) ([]model.DemoPublication, error) {
	if _, err := p.store.GetProspect(ctx, prospectID); err != nil {
		return nil, err
	}
	return p.store.ListDemos(ctx, prospectID)
}

// Contacts returns the contact history of a token, revoked or not.
func (p *Publisher) Contacts(ctx context.Context, token string) ([]model.ContactRequest, error) {
	return p.store.ListContactRequests(ctx, token)
}

// notifyOwner sends ev to the prospect's assignee, or to every admin when
// nobody is assigned. The owner lookup runs in the background; its failures
// are logged by the notifier.
func (p *Publisher) notifyOwner(ctx context.Context, token string, ev func(*model.Prospect) notify.Event) {
	if p.notifier == nil {
		return
	}
	p.notifier.Go(ctx, "demo_owner", func(ctx context.Context) error {
		d, err := p.store.GetDemoByToken(ctx, token)
		if err != nil {
			return eris.Wrapf(err, "demo: notify lookup token %s", token)
		}
		pr, err := p.store.GetProspect(ctx, d.ProspectID)
		if err != nil {
			return eris.Wrapf(err, "demo: notify lookup prospect %s", d.ProspectID)
		}
		if pr.AssignedUser != "" {
			p.notifier.NotifyOne(ctx, pr.AssignedUser, ev(pr))
			return nil
		}
		p.notifier.NotifyAll(ctx, ev(pr))
		return nil
	})
}

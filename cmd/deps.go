package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/config"
	"github.com/sells-group/prospector/internal/convert"
	"github.com/sells-group/prospector/internal/demo"
	"github.com/sells-group/prospector/internal/directory"
	"github.com/sells-group/prospector/internal/enrich"
	"github.com/sells-group/prospector/internal/notify"
	"github.com/sells-group/prospector/internal/resilience"
	"github.com/sells-group/prospector/internal/search"
	"github.com/sells-group/prospector/internal/store"
	"github.com/sells-group/prospector/pkg/anthropic"
	"github.com/sells-group/prospector/pkg/geocode"
	"github.com/sells-group/prospector/pkg/google"
	"github.com/sells-group/prospector/pkg/jina"
	"github.com/sells-group/prospector/pkg/notion"
	"github.com/sells-group/prospector/pkg/perplexity"
	"github.com/sells-group/prospector/pkg/salesforce"
)

const geocodeCacheTTL = 24 * time.Hour

// openStore opens the configured backend.
func openStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "postgres":
		pg, err := store.NewPostgres(ctx, c.Store.DatabaseURL, nil)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case "sqlite":
		lite, err := store.NewSQLite(c.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		return lite, nil
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", c.Store.Driver)
	}
}

// searchGuard bounds directory and geocoding calls.
func searchGuard(c *config.Config, service string) *resilience.Guard {
	return resilience.NewGuard(service, resilience.GuardConfig{
		Timeout:          c.Search.UpstreamTimeout(),
		MaxAttempts:      c.Enrich.MaxAttempts,
		FailureThreshold: c.Enrich.BreakerThreshold,
		Cooldown:         time.Duration(c.Enrich.BreakerCooldownSecs) * time.Second,
	})
}

// enrichGuard bounds AI and research calls, which run longer.
func enrichGuard(c *config.Config, service string) *resilience.Guard {
	return resilience.NewGuard(service, resilience.GuardConfig{
		Timeout:          time.Duration(c.Enrich.TimeoutSecs) * time.Second,
		MaxAttempts:      c.Enrich.MaxAttempts,
		FailureThreshold: c.Enrich.BreakerThreshold,
		Cooldown:         time.Duration(c.Enrich.BreakerCooldownSecs) * time.Second,
	})
}

// searchEnv wires the search side: directory, geocoder, estimator, manager.
type searchEnv struct {
	Places    google.Client
	Estimator *search.Estimator
	Manager   *search.Manager
}

func newSearchEnv(st store.Store, c *config.Config) *searchEnv {
	httpClient := &http.Client{Timeout: c.Search.UpstreamTimeout()}

	places := google.NewClient(c.Google.Key,
		google.WithBaseURL(c.Google.PlacesURL),
		google.WithHTTPClient(httpClient),
	)
	dir := directory.NewPlaces(places, searchGuard(c, "places"),
		directory.WithRateLimit(c.Search.PlacesRateLimit),
		directory.WithLanguage(c.Google.Language),
	)

	var geocoder geocode.Client
	if c.Google.Key != "" {
		geocoder = geocode.NewCached(geocode.NewClient(c.Google.Key,
			geocode.WithBaseURL(c.Google.GeocodeURL),
			geocode.WithHTTPClient(httpClient),
			geocode.WithLanguage(c.Google.Language),
		), geocodeCacheTTL)
	}
	locator := search.NewLocator(geocoder, searchGuard(c, "geocode"))

	return &searchEnv{
		Places:    places,
		Estimator: search.NewEstimator(st, dir, locator, c.Search),
		Manager:   search.NewManager(st, dir, locator, c.Search),
	}
}

func newAIClient(c *config.Config) anthropic.Client {
	return anthropic.NewClient(c.Anthropic.Key)
}

func newPipeline(st store.Store, ai anthropic.Client, c *config.Config) *enrich.Pipeline {
	var reader jina.Client
	if c.Jina.Key != "" {
		reader = jina.NewClient(c.Jina.Key, jina.WithBaseURL(c.Jina.BaseURL))
	}
	var research perplexity.Client
	if c.Perplexity.Key != "" {
		research = perplexity.NewClient(c.Perplexity.Key,
			perplexity.WithBaseURL(c.Perplexity.BaseURL),
			perplexity.WithModel(c.Perplexity.Model),
		)
	}
	return enrich.New(st, ai, reader, research,
		enrich.Guards{
			AI:       enrichGuard(c, "anthropic"),
			Reader:   searchGuard(c, "jina"),
			Research: enrichGuard(c, "perplexity"),
		},
		enrich.Config{
			QuickModel:     c.Anthropic.HaikuModel,
			DeepModel:      c.Anthropic.SonnetModel,
			QuickMaxTokens: int64(c.Enrich.QuickMaxTokens),
			DeepMaxTokens:  int64(c.Enrich.DeepMaxTokens),
		},
	)
}

func newDemoPublisher(st store.Store, ai anthropic.Client, photos demo.PhotoSource, fan *notify.Fanout, c *config.Config) (*demo.Publisher, error) {
	catalog, err := demo.LoadCatalog(c.Demo.ThemesFile)
	if err != nil {
		return nil, err
	}
	return demo.NewPublisher(st, ai, photos, catalog, fan,
		demo.Guards{
			AI:     enrichGuard(c, "anthropic"),
			Photos: searchGuard(c, "places_photos"),
		},
		demo.Config{
			BaseURL:   c.Demo.BaseURL,
			Model:     c.Anthropic.HaikuModel,
			MaxTokens: int64(c.Enrich.QuickMaxTokens),
		},
	), nil
}

// crmSinks builds the lead mirrors that are configured. A sink that fails to
// connect is skipped with a warning.
func crmSinks(c *config.Config) []convert.Sink {
	log := zap.L().With(zap.String("component", "crm"))
	var sinks []convert.Sink

	if c.Salesforce.ClientID != "" {
		sf, err := salesforce.Connect(salesforce.Creds{
			LoginURL: c.Salesforce.LoginURL,
			Username: c.Salesforce.Username,
			ClientID: c.Salesforce.ClientID,
			KeyPath:  c.Salesforce.KeyPath,
		}, salesforce.WithRateLimit(5))
		if err != nil {
			log.Warn("salesforce lead mirror disabled", zap.Error(err))
		} else {
			sinks = append(sinks, convert.NewSalesforceSink(sf, enrichGuard(c, "salesforce")))
		}
	}

	if c.Notion.Token != "" {
		sink, err := convert.NewNotionSink(notion.NewClient(c.Notion.Token), c.Notion.LeadDB, enrichGuard(c, "notion"))
		if err != nil {
			log.Warn("notion lead mirror disabled", zap.Error(err))
		} else {
			sinks = append(sinks, sink)
		}
	}
	return sinks
}

func newConverter(st store.Store, fan *notify.Fanout, c *config.Config) *convert.Service {
	opts := []convert.Option{convert.WithSinks(crmSinks(c)...)}
	if m := notify.NewSMTPMailer(c.SMTP); m != nil {
		opts = append(opts, convert.WithMailer(m))
	}
	return convert.NewService(st, fan, opts...)
}

package demo

import (
	"bytes"
	"context"
	_ "embed"
	"html/template"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/resilience"
)

//go:embed page.html.tmpl
var pageSource string

var pageTemplate = template.Must(template.New("page").Parse(pageSource))

// photoWidth is the width requested for prospect photos.
const photoWidth = 1200

// pageData feeds page.html.tmpl.
type pageData struct {
	Name          string
	Copy          Copy
	Theme         Theme
	Images        []string
	Reviews       []model.Review
	Address       string
	Phone         string
	ContactAction string
	AcceptAction  string
}

func render(d pageData) (string, error) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, d); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// images returns up to limit image URLs: the prospect's own photos first,
// then theme filler images.
func (p *Publisher) images(ctx context.Context, pr model.Prospect, theme Theme, limit int) []string {
	out := make([]string, 0, limit)
	pending := pr.Photos
	for len(out) < limit && len(pending) > 0 {
		batch := pending[:min(limit-len(out), len(pending))]
		pending = pending[len(batch):]
		out = append(out, p.resolvePhotos(ctx, batch)...)
	}
	for _, u := range theme.Images {
		if len(out) == limit {
			break
		}
		out = append(out, u)
	}
	return out
}

// resolvePhotos resolves refs concurrently and returns the usable URLs in
// their original order.
func (p *Publisher) resolvePhotos(ctx context.Context, refs []string) []string {
	urls := make([]string, len(refs))
	var g errgroup.Group
	for i, ref := range refs {
		g.Go(func() error {
			urls[i] = p.photoURL(ctx, ref)
			return nil
		})
	}
	_ = g.Wait()

	out := urls[:0]
	for _, u := range urls {
		if u != "" {
			out = append(out, u)
		}
	}
	return out
}

// photoURL turns a stored photo reference into a public URL. Absolute URLs
// pass through; directory resource names are resolved through the photo
// source. Failures skip the photo.
func (p *Publisher) photoURL(ctx context.Context, ref string) string {
	if u, err := url.Parse(ref); err == nil && (u.Scheme == "https" || u.Scheme == "http") {
		return ref
	}
	if p.photos == nil || !strings.HasPrefix(ref, "places/") {
		return ""
	}
	uri, err := resilience.Call(ctx, p.guards.Photos, func(ctx context.Context) (string, error) {
		return p.photos.PhotoURI(ctx, ref, photoWidth)
	})
	if err != nil {
		p.log.Debug("demo: photo skipped", zap.String("photo", ref), zap.Error(err))
		return ""
	}
	return uri
}

// topReviews picks up to n positive reviews with text.
func topReviews(reviews []model.Review, n int) []model.Review {
	var out []model.Review
	for _, r := range reviews {
		if len(out) == n {
			break
		}
		if r.Rating >= 4 && strings.TrimSpace(r.Text) != "" {
			out = append(out, r)
		}
	}
	return out
}

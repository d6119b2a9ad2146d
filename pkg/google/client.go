package google

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/resilience"
)

const defaultBaseURL = "https://places.googleapis.com/v1"

// MaxPageSize is the largest page Places Text Search returns.
const MaxPageSize = 20

var searchFieldMask = strings.Join([]string{
	"places.id",
	"places.displayName",
	"places.formattedAddress",
	"places.location",
	"places.primaryType",
	"places.primaryTypeDisplayName",
	"places.nationalPhoneNumber",
	"places.internationalPhoneNumber",
	"places.websiteUri",
	"places.rating",
	"places.userRatingCount",
	"places.photos",
	"places.reviews",
	"nextPageToken",
}, ",")

// Client performs Google Places API operations.
type Client interface {
	SearchText(ctx context.Context, req SearchTextRequest) (*SearchTextResponse, error)
	PhotoURI(ctx context.Context, photoName string, maxWidthPx int) (string, error)
}

// LatLng is a Places API coordinate.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Circle biases results towards an area.
type Circle struct {
	Center LatLng  `json:"center"`
	Radius float64 `json:"radius"`
}

// LocationBias wraps the bias circle.
type LocationBias struct {
	Circle Circle `json:"circle"`
}

// SearchTextRequest is the body of places:searchText.
type SearchTextRequest struct {
	TextQuery    string        `json:"textQuery"`
	LocationBias *LocationBias `json:"locationBias,omitempty"`
	PageSize     int           `json:"pageSize,omitempty"`
	PageToken    string        `json:"pageToken,omitempty"`
	LanguageCode string        `json:"languageCode,omitempty"`
}

// SearchTextResponse is one page of results.
type SearchTextResponse struct {
	Places        []Place `json:"places"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
}

// LocalizedText is a text value with its language.
type LocalizedText struct {
	Text         string `json:"text"`
	LanguageCode string `json:"languageCode,omitempty"`
}

// Photo references a place photo resource.
type Photo struct {
	Name     string `json:"name"`
	WidthPx  int    `json:"widthPx,omitempty"`
	HeightPx int    `json:"heightPx,omitempty"`
}

// AuthorAttribution names a review author.
type AuthorAttribution struct {
	DisplayName string `json:"displayName"`
}

// Review is a place review.
type Review struct {
	Rating                         float64           `json:"rating"`
	Text                           LocalizedText     `json:"text"`
	AuthorAttribution              AuthorAttribution `json:"authorAttribution"`
	RelativePublishTimeDescription string            `json:"relativePublishTimeDescription,omitempty"`
}

// Place represents a place returned by the API.
type Place struct {
	ID                       string         `json:"id"`
	DisplayName              LocalizedText  `json:"displayName"`
	FormattedAddress         string         `json:"formattedAddress"`
	Location                 LatLng         `json:"location"`
	PrimaryType              string         `json:"primaryType"`
	PrimaryTypeDisplayName   *LocalizedText `json:"primaryTypeDisplayName,omitempty"`
	NationalPhoneNumber      string         `json:"nationalPhoneNumber"`
	InternationalPhoneNumber string         `json:"internationalPhoneNumber"`
	WebsiteURI               string         `json:"websiteUri"`
	Rating                   float64        `json:"rating"`
	UserRatingCount          int            `json:"userRatingCount"`
	Photos                   []Photo        `json:"photos"`
	Reviews                  []Review       `json:"reviews"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Google Places API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) SearchText(ctx context.Context, in SearchTextRequest) (*SearchTextResponse, error) {
	if in.PageSize > MaxPageSize {
		in.PageSize = MaxPageSize
	}
	body, err := json.Marshal(in)
	if err != nil {
		return nil, eris.Wrap(err, "google: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/places:searchText", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "google: create request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", searchFieldMask)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "google: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "google: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("google: unexpected status %d: %s", resp.StatusCode, string(respBody))
		if resilience.RetryableStatus(resp.StatusCode) {
			return nil, resilience.Transient(err, resp.StatusCode)
		}
		return nil, err
	}

	var result SearchTextResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "google: unmarshal response")
	}

	return &result, nil
}

// photoMedia is the body returned by the media endpoint with skipHttpRedirect.
type photoMedia struct {
	Name     string `json:"name"`
	PhotoURI string `json:"photoUri"`
}

// PhotoURI resolves a place photo resource name to a short-lived public
// image URL that does not carry the API key.
func (c *httpClient) PhotoURI(ctx context.Context, photoName string, maxWidthPx int) (string, error) {
	q := url.Values{}
	q.Set("maxWidthPx", strconv.Itoa(maxWidthPx))
	q.Set("skipHttpRedirect", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+photoName+"/media?"+q.Encode(), nil)
	if err != nil {
		return "", eris.Wrap(err, "google: create photo request")
	}
	req.Header.Set("X-Goog-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "google: send photo request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "google: read photo response")
	}
	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("google: unexpected photo status %d: %s", resp.StatusCode, string(respBody))
		if resilience.RetryableStatus(resp.StatusCode) {
			return "", resilience.Transient(err, resp.StatusCode)
		}
		return "", err
	}

	var media photoMedia
	if err := json.Unmarshal(respBody, &media); err != nil {
		return "", eris.Wrap(err, "google: unmarshal photo response")
	}
	if media.PhotoURI == "" {
		return "", eris.Errorf("google: no photo uri for %s", photoName)
	}
	return media.PhotoURI, nil
}

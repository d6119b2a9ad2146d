package directory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/resilience"
	"github.com/sells-group/prospector/pkg/google"
	"github.com/sells-group/prospector/pkg/google/mocks"
)

var madrid = model.Coordinates{Lat: 40.4168, Lng: -3.7038}

func place(id string, lat, lng float64) google.Place {
	return google.Place{
		ID:          id,
		DisplayName: google.LocalizedText{Text: "Place " + id},
		Location:    google.LatLng{Latitude: lat, Longitude: lng},
		PrimaryType: "hair_salon",
	}
}

func testGuard() *resilience.Guard {
	return resilience.NewGuard("places", resilience.GuardConfig{Timeout: time.Second, MaxAttempts: 1})
}

func TestSearch_StopsAtLimitAndSkipsExcluded(t *testing.T) {
	api := mocks.NewMockClient(t)
	api.On("SearchText", mock.Anything, mock.MatchedBy(func(r google.SearchTextRequest) bool {
		return r.PageToken == "" && r.TextQuery == "peluqueria" && r.PageSize == google.MaxPageSize
	})).Return(&google.SearchTextResponse{
		Places: []google.Place{
			place("a", 40.4170, -3.7040),
			place("known", 40.4171, -3.7041),
			place("b", 40.4172, -3.7042),
		},
		NextPageToken: "p2",
	}, nil).Once()
	api.On("SearchText", mock.Anything, mock.MatchedBy(func(r google.SearchTextRequest) bool {
		return r.PageToken == "p2"
	})).Return(&google.SearchTextResponse{
		Places: []google.Place{place("c", 40.4173, -3.7043), place("d", 40.4174, -3.7044)},
	}, nil).Once()

	d := NewPlaces(api, testGuard())
	got, err := d.Search(context.Background(), Query{
		Text: "peluqueria", Center: madrid, Radius: 2000, Limit: 3,
		Exclude: map[string]bool{"known": true},
	})

	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].ExternalID)
	assert.Equal(t, "b", got[1].ExternalID)
	assert.Equal(t, "c", got[2].ExternalID)
}

func TestSearch_DropsResultsOutsideRadius(t *testing.T) {
	api := mocks.NewMockClient(t)
	api.On("SearchText", mock.Anything, mock.Anything).Return(&google.SearchTextResponse{
		Places: []google.Place{
			place("near", 40.4170, -3.7040),
			place("barcelona", 41.3874, 2.1686),
		},
	}, nil).Once()

	d := NewPlaces(api, testGuard())
	got, err := d.Search(context.Background(), Query{Text: "x", Center: madrid, Radius: 1000, Limit: 20})

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "near", got[0].ExternalID)
}

func TestSearch_ZeroLimitSkipsProvider(t *testing.T) {
	api := mocks.NewMockClient(t)
	d := NewPlaces(api, testGuard())

	got, err := d.Search(context.Background(), Query{Text: "x", Center: madrid, Radius: 1000})
	require.NoError(t, err)
	assert.Empty(t, got)
	api.AssertNotCalled(t, "SearchText", mock.Anything, mock.Anything)
}

func TestSearch_ContinuesPagingAfterCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	firstPage := make([]google.Place, 0, 20)
	for i := 0; i < 20; i++ {
		firstPage = append(firstPage, place(fmt.Sprintf("p1-%d", i), 40.4170, -3.7040))
	}
	api := mocks.NewMockClient(t)
	api.On("SearchText", mock.Anything, mock.MatchedBy(func(r google.SearchTextRequest) bool {
		return r.PageToken == ""
	})).Run(func(mock.Arguments) { cancel() }).
		Return(&google.SearchTextResponse{Places: firstPage, NextPageToken: "p2"}, nil).Once()
	api.On("SearchText", mock.Anything, mock.MatchedBy(func(r google.SearchTextRequest) bool {
		return r.PageToken == "p2"
	})).Return(&google.SearchTextResponse{
		Places: []google.Place{place("p2-0", 40.4171, -3.7041)},
	}, nil).Once()

	d := NewPlaces(api, testGuard(), WithRateLimit(1000))
	got, err := d.Search(ctx, Query{Text: "peluqueria", Center: madrid, Radius: 2000, Limit: 40})

	require.NoError(t, err)
	assert.Len(t, got, 21)
	assert.Error(t, ctx.Err())
}

func TestSearch_UpstreamFailure(t *testing.T) {
	api := mocks.NewMockClient(t)
	api.On("SearchText", mock.Anything, mock.Anything).Return(nil, errors.New("google: unexpected status 403")).Once()

	d := NewPlaces(api, testGuard())
	_, err := d.Search(context.Background(), Query{Text: "x", Center: madrid, Radius: 1000, Limit: 20})

	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrUpstreamUnavailable)
}

func TestEstimateCount_NotSupported(t *testing.T) {
	d := NewPlaces(mocks.NewMockClient(t), testGuard())
	n, ok, err := d.EstimateCount(context.Background(), Query{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, n)
}

func TestFromPlace(t *testing.T) {
	p := FromPlace(google.Place{
		ID:                       "ChIJ1",
		DisplayName:              google.LocalizedText{Text: "  Café Central "},
		FormattedAddress:         "Plaza del Ángel 10, Madrid",
		Location:                 google.LatLng{Latitude: 40.41, Longitude: -3.70},
		PrimaryType:              "cafe",
		PrimaryTypeDisplayName:   &google.LocalizedText{Text: "Cafetería"},
		InternationalPhoneNumber: "+34 913 69 41 43",
		WebsiteURI:               "https://www.instagram.com/cafecentral",
		Rating:                   4.4,
		UserRatingCount:          1800,
		Photos:                   []google.Photo{{Name: "places/ChIJ1/photos/x"}, {}},
		Reviews: []google.Review{{
			Rating:            5,
			Text:              google.LocalizedText{Text: "Jazz!"},
			AuthorAttribution: google.AuthorAttribution{DisplayName: "Luis"},
		}},
	})

	assert.Equal(t, "ChIJ1", p.ExternalID)
	assert.Equal(t, "Café Central", p.Name)
	assert.Equal(t, "Cafetería", p.Category)
	assert.Equal(t, "+34 913 69 41 43", p.Phone)
	assert.Equal(t, []string{"places/ChIJ1/photos/x"}, p.Photos)
	assert.Equal(t, "https://www.instagram.com/cafecentral", p.Social.Instagram)
	require.Len(t, p.Reviews, 1)
	assert.Equal(t, "Luis", p.Reviews[0].Author)
}

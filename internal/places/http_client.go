package places

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/example/food-rescue/internal/models"
)

// HTTPClient performs nearby searches against a Places-style JSON endpoint.
type HTTPClient struct {
	Endpoint     string
	Key          string
	RadiusMeters int
	client       *resty.Client
}

func NewHTTPClient(endpoint, key string) *HTTPClient {
	return &HTTPClient{
		Endpoint:     endpoint,
		Key:          key,
		RadiusMeters: 5000,
		client:       resty.New().SetTimeout(3 * time.Second),
	}
}

type searchResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		PlaceID          string `json:"place_id"`
		Name             string `json:"name"`
		Vicinity         string `json:"vicinity"`
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location *struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

func (h *HTTPClient) Nearby(ctx context.Context, loc models.Coord, keyword string) ([]Place, error) {
	resp, err := h.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"location": fmt.Sprintf("%f,%f", loc.Lat, loc.Lon),
			"radius":   strconv.Itoa(h.RadiusMeters),
			"keyword":  keyword,
			"key":      h.Key,
		}).
		Get(h.Endpoint)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("places status: %d", resp.StatusCode())
	}
	var out searchResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, err
	}
	if out.Status != "OK" && out.Status != "ZERO_RESULTS" {
		return nil, fmt.Errorf("places search %s: %s", out.Status, out.ErrorMessage)
	}
	places := make([]Place, 0, len(out.Results))
	for _, r := range out.Results {
		if r.PlaceID == "" || r.Geometry.Location == nil {
			continue
		}
		vicinity := r.Vicinity
		if vicinity == "" {
			vicinity = r.FormattedAddress
		}
		places = append(places, Place{
			PlaceID:  r.PlaceID,
			Name:     r.Name,
			Vicinity: vicinity,
			Loc:      models.Coord{Lat: r.Geometry.Location.Lat, Lon: r.Geometry.Location.Lng},
			MapsURL:  "https://www.google.com/maps/search/?api=1&query_place_id=" + r.PlaceID,
		})
	}
	return places, nil
}

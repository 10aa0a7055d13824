package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// NominatimGeocoder reverse-geocodes report coordinates against a Nominatim
// instance. Nominatim's usage policy caps request rate, hence MinInterval
// and the per-coordinate cache.
type NominatimGeocoder struct {
	BaseURL     string
	UserAgent   string
	MinInterval time.Duration
	Client      *http.Client

	mu        sync.Mutex
	lastReqAt time.Time
	cache     map[string]Region
}

type nominatimReverseItem struct {
	DisplayName string `json:"display_name"`
	Address     struct {
		State         string `json:"state"`
		StateDistrict string `json:"state_district"`
		County        string `json:"county"`
		City          string `json:"city"`
	} `json:"address"`
}

func (g *NominatimGeocoder) Reverse(ctx context.Context, lat, lon float64) (Region, error) {
	if g.Client == nil {
		g.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if g.BaseURL == "" {
		g.BaseURL = "https://nominatim.openstreetmap.org"
	}
	if g.UserAgent == "" {
		g.UserAgent = "pothole-prioritizer-backend"
	}
	if g.MinInterval <= 0 {
		g.MinInterval = time.Second
	}

	key := fmt.Sprintf("%.5f,%.5f", lat, lon)
	g.mu.Lock()
	if g.cache == nil {
		g.cache = map[string]Region{}
	}
	if cached, ok := g.cache[key]; ok {
		g.mu.Unlock()
		return cached, nil
	}
	// Re-check after sleeping: another caller may have claimed the slot
	// while the lock was released.
	for {
		sleepFor := time.Until(g.lastReqAt.Add(g.MinInterval))
		if sleepFor <= 0 {
			break
		}
		g.mu.Unlock()
		time.Sleep(sleepFor)
		g.mu.Lock()
	}
	g.lastReqAt = time.Now()
	g.mu.Unlock()

	endpoint := fmt.Sprintf("%s/reverse?lat=%f&lon=%f&format=json&zoom=10", g.BaseURL, lat, lon)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Region{}, err
	}
	req.Header.Set("User-Agent", g.UserAgent)

	resp, err := g.Client.Do(req)
	if err != nil {
		return Region{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Region{}, fmt.Errorf("nominatim http error: %s", resp.Status)
	}

	var item nominatimReverseItem
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return Region{}, err
	}
	region, err := parseReverseItem(item)
	if err != nil {
		return Region{}, err
	}

	g.mu.Lock()
	g.cache[key] = region
	g.mu.Unlock()
	return region, nil
}

func parseReverseItem(item nominatimReverseItem) (Region, error) {
	region := Region{
		State:       item.Address.State,
		DisplayName: item.DisplayName,
	}
	switch {
	case item.Address.StateDistrict != "":
		region.District = item.Address.StateDistrict
	case item.Address.County != "":
		region.District = item.Address.County
	default:
		region.District = item.Address.City
	}
	if region.State == "" && region.District == "" && region.DisplayName == "" {
		return Region{}, ErrNotFound
	}
	return region, nil
}

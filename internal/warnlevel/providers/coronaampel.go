package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"

	"github.com/i474232898/warnlevel-sync/internal/warnlevel"
)

// DefaultCoronaAmpelURL is the upstream municipal warning level export.
const DefaultCoronaAmpelURL = "https://corona-ampel.gv.at/sites/corona-ampel.gv.at/files/assets/Warnstufen_Corona_Ampel_Gemeinden_aktuell.json"

// maxPayloadBytes bounds the body read; the export is a few hundred KiB.
const maxPayloadBytes = 64 << 20

// CoronaAmpelProvider implements the warnlevel.Fetcher interface for the
// Corona-Ampel municipality export.
type CoronaAmpelProvider struct {
	name    string
	url     string
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
}

// NewCoronaAmpelProvider creates a provider reading from url. The request
// timeout is the client's Timeout.
func NewCoronaAmpelProvider(client *http.Client, url string) *CoronaAmpelProvider {
	if url == "" {
		url = DefaultCoronaAmpelURL
	}
	return &CoronaAmpelProvider{
		name:    "corona-ampel",
		url:     url,
		client:  client,
		circuit: newBreaker("corona-ampel"),
	}
}

func (p *CoronaAmpelProvider) Name() string {
	return p.name
}

// ampelDataSet is one dataset version of the feed.
type ampelDataSet struct {
	Stand      string        `json:"Stand"`
	Warnstufen []ampelRegion `json:"Warnstufen"`
}

type ampelRegion struct {
	GKZ       string `json:"GKZ"`
	Name      string `json:"Name"`
	Warnstufe string `json:"Warnstufe"`
}

// Fetch downloads the export and returns its current dataset. The feed is an
// array of dataset versions; element 0 is current and the rest are archives,
// which are discarded.
func (p *CoronaAmpelProvider) Fetch(ctx context.Context) (warnlevel.RawDataset, error) {
	buildRequest := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	resp, err := doRequest(ctx, p.client, p.circuit, buildRequest)
	if err != nil {
		return warnlevel.RawDataset{}, warnlevel.NewNetworkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		// A body cut short by the client timeout is a transport failure.
		return warnlevel.RawDataset{}, warnlevel.NewNetworkError(err)
	}

	return decodeDataset(body)
}

func decodeDataset(body []byte) (warnlevel.RawDataset, error) {
	var versions []ampelDataSet
	if err := json.Unmarshal(body, &versions); err != nil {
		return warnlevel.RawDataset{}, warnlevel.NewDecodeError(err)
	}
	if len(versions) == 0 {
		return warnlevel.RawDataset{}, warnlevel.NewDecodeError(errors.New("dataset array is empty"))
	}

	current := versions[0]

	publishedAt, err := time.Parse(time.RFC3339, current.Stand)
	if err != nil {
		return warnlevel.RawDataset{}, warnlevel.NewDecodeError(fmt.Errorf("invalid Stand %q: %w", current.Stand, err))
	}

	regions := make([]warnlevel.RawRegion, 0, len(current.Warnstufen))
	for _, r := range current.Warnstufen {
		regions = append(regions, warnlevel.RawRegion{
			ID:        r.GKZ,
			Name:      r.Name,
			LevelCode: r.Warnstufe,
		})
	}

	return warnlevel.RawDataset{
		PublishedAt: publishedAt.UTC(),
		Regions:     regions,
	}, nil
}

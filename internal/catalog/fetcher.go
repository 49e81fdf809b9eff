package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultSourceURL = "https://api.le-systeme-solaire.net/rest/bodies/" +
	"?filter[]=bodyType,eq,Dwarf%20Planet&filter[]=bodyType,eq,Planet&filter[]=bodyType,eq,Star&satisfy=any" +
	"&data=englishName,bodyType,semimajorAxis,perihelion,aphelion,eccentricity,inclination," +
	"argPeriapsis,longAscNode,mainAnomaly,mass,massValue,massExponent,vol,volValue,volExponent," +
	"density,gravity,meanRadius"

// maxBodyBytes caps a single response so a misbehaving source cannot exhaust memory.
const maxBodyBytes = 50 << 20

// Fetcher retrieves raw body payloads from the remote body service.
type Fetcher struct {
	sourceURL  string
	extraURLs  []string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher for the given source URL. Bodies listed by the
// optional extra URLs are appended to the primary payload; a failing extra
// source is logged and skipped.
func NewFetcher(sourceURL string, logger *slog.Logger, extraURLs ...string) *Fetcher {
	if sourceURL == "" {
		sourceURL = defaultSourceURL
	}
	return &Fetcher{
		sourceURL: sourceURL,
		extraURLs: extraURLs,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// SourceURL returns the configured source URL.
func (f *Fetcher) SourceURL() string {
	return f.sourceURL
}

// Fetch retrieves the primary payload and any extra payloads, returning a
// single {"bodies": [...]} document.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	primary, err := f.get(ctx, f.sourceURL)
	if err != nil {
		return nil, err
	}
	if len(f.extraURLs) == 0 {
		return primary, nil
	}

	var combined struct {
		Bodies []json.RawMessage `json:"bodies"`
	}
	if err := json.Unmarshal(primary, &combined); err != nil {
		return nil, fmt.Errorf("decoding payload from %s: %w", f.sourceURL, err)
	}

	for _, u := range f.extraURLs {
		data, err := f.get(ctx, u)
		if err != nil {
			f.logger.Warn("extra body source failed, skipping", "url", u, "error", err)
			continue
		}
		var extra struct {
			Bodies []json.RawMessage `json:"bodies"`
		}
		if err := json.Unmarshal(data, &extra); err != nil {
			f.logger.Warn("extra body source returned invalid JSON, skipping", "url", u, "error", err)
			continue
		}
		combined.Bodies = append(combined.Bodies, extra.Bodies...)
	}

	out, err := json.Marshal(combined)
	if err != nil {
		return nil, fmt.Errorf("encoding combined payload: %w", err)
	}
	return out, nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching body data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("response from %s exceeds %d byte limit", url, maxBodyBytes)
	}

	return body, nil
}

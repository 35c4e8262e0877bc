package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lsst-ts/ts-criopy-sub002/pkg/topiccache"
)

// Static errors
var (
	ErrArchiveResponse = errors.New("archive error")
)

// Client defines the methods for querying the archive
type Client interface {
	// SelectTimeSeries returns the rows of a series in the half-open
	// interval [start, end). A nil or empty fields slice selects all
	// fields. Returns an error wrapping topiccache.ErrSeriesNotFound
	// when the archive holds no series of that name.
	SelectTimeSeries(ctx context.Context, series string, fields []string, start, end time.Time) (*topiccache.Table, error)
	// HasSeries reports whether the archive knows the series
	HasSeries(ctx context.Context, series string) (bool, error)
	// Start initializes the client and verifies connectivity
	Start() error
	// Stop closes the client
	Stop() error
}

// client implements the Client interface against the InfluxDB HTTP API
type client struct {
	log          logrus.FieldLogger
	httpClient   *http.Client
	baseURL      string
	database     string
	username     string
	password     string
	debug        bool
	queryTimeout time.Duration

	measurements chan map[string]struct{}
}

// NewClient creates a new HTTP-based archive client
func NewClient(logger logrus.FieldLogger, cfg *Config) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.SetDefaults()

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     cfg.KeepAlive,
		DisableKeepAlives:   false,
	}

	c := &client{
		log:          logger.WithField("component", "archive-http"),
		httpClient:   &http.Client{Transport: transport},
		baseURL:      strings.TrimRight(cfg.URL, "/"),
		database:     cfg.Database,
		username:     cfg.Username,
		password:     cfg.Password,
		debug:        cfg.Debug,
		queryTimeout: cfg.QueryTimeout,
		measurements: make(chan map[string]struct{}, 1),
	}

	// The measurement set is loaded lazily on first use; the slot starts
	// out holding nil as the not-yet-loaded marker.
	c.measurements <- nil

	return c, nil
}

func (c *client) Start() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ping", http.NoBody)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to archive: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: ping returned HTTP %d", ErrArchiveResponse, resp.StatusCode)
	}

	c.log.Info("Connected to archive HTTP interface")

	return nil
}

func (c *client) Stop() error {
	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
	}

	c.log.Info("Closed archive HTTP client")

	return nil
}

func (c *client) SelectTimeSeries(ctx context.Context, series string, fields []string, start, end time.Time) (*topiccache.Table, error) {
	known, err := c.HasSeries(ctx, series)
	if err != nil {
		return nil, err
	}

	if !known {
		return nil, fmt.Errorf("%w: %s", topiccache.ErrSeriesNotFound, series)
	}

	projection := "*"
	if len(fields) > 0 {
		quoted := make([]string, len(fields))
		for i, f := range fields {
			quoted[i] = fmt.Sprintf("%q", f)
		}
		projection = strings.Join(quoted, ", ")
	}

	query := fmt.Sprintf("SELECT %s FROM %q WHERE time >= '%s' AND time < '%s'",
		projection,
		series,
		start.UTC().Format(time.RFC3339Nano),
		end.UTC().Format(time.RFC3339Nano),
	)

	response, err := c.execute(ctx, query)
	if err != nil {
		return nil, err
	}

	if len(response.Results) == 0 || len(response.Results[0].Series) == 0 {
		// In range but no rows; a valid empty table.
		return topiccache.NewTable(), nil
	}

	result := response.Results[0].Series[0]

	return tableFromSeries(c.log, result.Columns, result.Values)
}

// HasSeries checks the series name against the archive's measurement set.
// The set is fetched once and cached for the lifetime of the client; the
// archive never drops series while a replay session runs.
func (c *client) HasSeries(ctx context.Context, series string) (bool, error) {
	set := <-c.measurements

	if set == nil {
		loaded, err := c.loadMeasurements(ctx)
		if err != nil {
			c.measurements <- nil

			return false, err
		}

		set = loaded
	}

	c.measurements <- set

	_, ok := set[series]

	return ok, nil
}

func (c *client) loadMeasurements(ctx context.Context) (map[string]struct{}, error) {
	response, err := c.execute(ctx, "SHOW MEASUREMENTS")
	if err != nil {
		return nil, fmt.Errorf("failed to list measurements: %w", err)
	}

	set := make(map[string]struct{})

	for _, result := range response.Results {
		for _, series := range result.Series {
			for _, value := range series.Values {
				if len(value) == 0 {
					continue
				}
				if name, ok := value[0].(string); ok {
					set[name] = struct{}{}
				}
			}
		}
	}

	c.log.WithField("measurements", len(set)).Debug("Loaded archive measurement set")

	return set, nil
}

func (c *client) execute(ctx context.Context, query string) (*influxResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("db", c.database)
	params.Set("q", query)

	requestURL := c.baseURL + "/query?" + params.Encode()

	if c.debug {
		c.log.WithField("query", query).Debug("Executing archive query")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrArchiveResponse, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	response, err := parseResponse(body)
	if err != nil {
		return nil, err
	}

	return response, nil
}

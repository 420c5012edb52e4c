package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	appconfig "cascadeflow/config"
	profilechannel "cascadeflow/internal/channel/profile"
	metrics "cascadeflow/internal/metrics"
	ratemetrics "cascadeflow/internal/metrics/rate"
	"cascadeflow/internal/models"
	"cascadeflow/internal/symbols"
	"cascadeflow/logger"

	futures "github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"
)

// Binance_PROFILE_Reader polls the Binance futures 24hr ticker REST endpoint
// for the configured symbols. The responses drive the threshold engine's
// liquidity and volatility profiles, so a slow cadence is fine.
type Binance_PROFILE_Reader struct {
	config      *appconfig.Config
	channels    *profilechannel.Channels
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.RWMutex
	running     bool
	log         *logger.Log
	symbols     []string
	client      *http.Client
	futuresAPI  *futures.Client
	weightLimit int64
	limiter     *rate.Limiter
	interval    time.Duration
	baseURL     string
}

// Binance_PROFILE_NewReader creates a new profile poller.
func Binance_PROFILE_NewReader(cfg *appconfig.Config, ch *profilechannel.Channels) *Binance_PROFILE_Reader {
	venueSymbols := make([]string, 0, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		venueSymbols = append(venueSymbols, symbols.ForExchange("binance", sym))
	}
	return &Binance_PROFILE_Reader{
		config:     cfg,
		channels:   ch,
		wg:         &sync.WaitGroup{},
		log:        logger.GetLogger(),
		symbols:    venueSymbols,
		futuresAPI: futures.NewClient("", ""),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Binance_PROFILE_Start begins polling 24hr statistics for all configured
// symbols.
func (r *Binance_PROFILE_Reader) Binance_PROFILE_Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("binance profile reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	cfg := r.config.Feeds.Binance
	if !cfg.Profile {
		return fmt.Errorf("binance profile polling disabled via configuration")
	}
	if len(r.symbols) == 0 {
		return fmt.Errorf("no symbols configured for binance profile reader")
	}

	interval := cfg.ProfileInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	r.interval = interval

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 4
	}
	r.limiter = rate.NewLimiter(rate.Limit(rps), 1)

	baseURL := strings.TrimSpace(cfg.RestURL)
	if baseURL == "" {
		baseURL = "https://fapi.binance.com"
	}
	r.baseURL = strings.TrimRight(baseURL, "/")
	r.futuresAPI.BaseURL = r.baseURL

	if limit, err := ratemetrics.FetchRequestWeightLimit(ctx, r.futuresAPI); err == nil {
		r.weightLimit = limit
	} else {
		r.log.WithComponent("binance_profile_reader").WithError(err).Warn("failed to fetch request weight limit")
	}

	for _, sym := range r.symbols {
		symbol := strings.ToUpper(strings.TrimSpace(sym))
		if symbol == "" {
			continue
		}
		r.wg.Add(1)
		go r.pollSymbol(symbol)
	}

	r.log.WithComponent("binance_profile_reader").WithFields(logger.Fields{
		"symbols":  strings.Join(r.symbols, ","),
		"interval": interval.String(),
	}).Info("binance profile reader started")
	return nil
}

// Binance_PROFILE_Stop stops polling goroutines.
func (r *Binance_PROFILE_Reader) Binance_PROFILE_Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("binance_profile_reader").Info("stopping binance profile reader")
	r.wg.Wait()
	r.log.WithComponent("binance_profile_reader").Info("binance profile reader stopped")
}

type binanceTicker24hResp struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	QuoteVolume        string `json:"quoteVolume"`
	CloseTime          int64  `json:"closeTime"`
}

func (r *Binance_PROFILE_Reader) pollSymbol(symbol string) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.fetchOnce(symbol); err != nil {
			r.log.WithComponent("binance_profile_reader").WithFields(logger.Fields{
				"symbol": symbol,
			}).WithError(err).Debug("24hr ticker request failed")
		}

		select {
		case <-ticker.C:
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Binance_PROFILE_Reader) fetchOnce(symbol string) error {
	if err := r.limiter.Wait(r.ctx); err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/fapi/v1/ticker/24hr?symbol=%s", r.baseURL, symbol)
	req, err := http.NewRequestWithContext(r.ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if used, ok := ratemetrics.ReportUsedWeight(r.log, "binance_profile_reader", resp.Header, ""); ok && r.weightLimit > 0 && used > r.weightLimit*8/10 {
		r.log.WithComponent("binance_profile_reader").WithFields(logger.Fields{
			"used_weight":  used,
			"weight_limit": r.weightLimit,
		}).Warn("binance request weight approaching limit")
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	var payload binanceTicker24hResp
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode binance 24hr ticker response: %w", err)
	}

	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal profile payload: %w", err)
	}

	observed := time.Now().UTC()
	if payload.CloseTime > 0 {
		observed = time.UnixMilli(payload.CloseTime).UTC()
	}

	msg := models.RawProfileMessage{
		Exchange:          "binance",
		Symbol:            symbol,
		LastPrice:         parseFloat(payload.LastPrice),
		QuoteVolume24h:    parseFloat(payload.QuoteVolume),
		PriceChangePct24h: parseFloat(payload.PriceChangePercent),
		Timestamp:         observed,
		Payload:           rawPayload,
	}

	if r.channels.SendRaw(r.ctx, msg) {
		metrics.RecordStreamMessage("binance_profile", len(rawPayload))
	} else if r.ctx.Err() != nil {
		return r.ctx.Err()
	} else {
		metrics.EmitDropMetric(r.log, metrics.DropMetricProfileRaw, "binance", symbol, "raw")
	}
	return nil
}

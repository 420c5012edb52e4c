package writer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "cascadeflow/config"
	"cascadeflow/internal/metadata"
	"cascadeflow/internal/metrics"
	"cascadeflow/internal/models"
	"cascadeflow/logger"
)

// catalogTableName is the table the archive registers in the catalog.
const catalogTableName = "cascade_signals"

// statsInterval is the cadence at which the writer reports its counters.
const statsInterval = time.Minute

type signalMemFile struct {
	buffer *bytes.Buffer
}

func newSignalMemFile() *signalMemFile {
	return &signalMemFile{buffer: &bytes.Buffer{}}
}

func (m *signalMemFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *signalMemFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *signalMemFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *signalMemFile) Read([]byte) (int, error)                  { return 0, io.EOF }
func (m *signalMemFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *signalMemFile) Close() error                              { return nil }
func (m *signalMemFile) Bytes() []byte                             { return m.buffer.Bytes() }

// signalRecord defines the parquet schema for archived cascade signals.
type signalRecord struct {
	ID           string  `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	BatchID      string  `parquet:"name=batch_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol       string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	EventTime    int64   `parquet:"name=event_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Probability  float64 `parquet:"name=probability, type=DOUBLE"`
	Level        string  `parquet:"name=level, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timeframe    string  `parquet:"name=timeframe, type=BYTE_ARRAY, convertedtype=UTF8"`
	Velocity     float64 `parquet:"name=velocity, type=DOUBLE"`
	VolumeRate   float64 `parquet:"name=volume_rate, type=DOUBLE"`
	Acceleration float64 `parquet:"name=acceleration, type=DOUBLE"`
	AccelValid   bool    `parquet:"name=acceleration_available, type=BOOLEAN"`
	Correlation  float64 `parquet:"name=correlation, type=DOUBLE"`
	Factors      string  `parquet:"name=factors, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// SignalSource hands out independent signal subscriptions. The engine
// implements it.
type SignalSource interface {
	Subscribe(buffer int) (<-chan models.CascadeSignal, func())
}

// SignalWriter archives cascade signals to S3 as snappy-compressed parquet
// files. Signals are buffered per symbol and flushed when a buffer reaches
// the batch size, when the flush interval elapses, or on shutdown. The
// writer consumes its own engine subscription, so a slow or failing upload
// never touches the scoring path.
type SignalWriter struct {
	cfg           *appconfig.Config
	source        SignalSource
	s3Client      *s3.Client
	log           *logger.Log
	bucket        string
	prefix        string
	minLevel      models.SignalLevel
	batchSize     int
	flushInterval time.Duration
	catalog       *metadata.Tracker

	ctx         context.Context
	cancel      context.CancelFunc
	wg          *sync.WaitGroup
	running     bool
	mu          sync.Mutex
	signals     <-chan models.CascadeSignal
	unsubscribe func()
	buffer      map[string][]models.CascadeSignal
	lastFlush   map[string]time.Time
	flushTicker *time.Ticker

	batchesWritten int64
	filesWritten   int64
	bytesWritten   int64
	errorsCount    int64
}

// NewSignalWriter initializes the archive writer from config and prepares
// the S3 client. It fails when the archive is disabled or misconfigured so
// the caller can skip wiring it.
func NewSignalWriter(cfg *appconfig.Config, source SignalSource) (*SignalWriter, error) {
	log := logger.GetLogger()
	if !cfg.Archive.Enabled {
		return nil, fmt.Errorf("signal archive is disabled")
	}

	bucket, err := normalizeBucketName(cfg.Archive.S3.Bucket)
	if err != nil {
		return nil, err
	}

	minLevel, err := models.ParseLevel(cfg.Archive.MinLevel)
	if err != nil {
		return nil, fmt.Errorf("archive min level: %w", err)
	}

	ctx := context.Background()
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Archive.S3.Region)}
	if cfg.Archive.S3.AccessKeyID != "" && cfg.Archive.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Archive.S3.AccessKeyID,
				cfg.Archive.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Archive.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Archive.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Archive.S3.PathStyle
	})

	w := &SignalWriter{
		cfg:           cfg,
		source:        source,
		s3Client:      s3Client,
		log:           log,
		bucket:        bucket,
		prefix:        strings.Trim(cfg.Archive.S3.Prefix, "/"),
		minLevel:      minLevel,
		batchSize:     cfg.Archive.BatchSize,
		flushInterval: cfg.Archive.FlushInterval,
		wg:            &sync.WaitGroup{},
		buffer:        make(map[string][]models.CascadeSignal),
		lastFlush:     make(map[string]time.Time),
	}

	if cfg.Archive.Catalog {
		location := "s3://" + bucket
		if w.prefix != "" {
			location += "/" + w.prefix
		}
		w.catalog = metadata.NewTracker(location, catalogTableName)
	}

	log.WithComponent("signal_writer").WithFields(logger.Fields{
		"bucket":         bucket,
		"prefix":         w.prefix,
		"region":         cfg.Archive.S3.Region,
		"endpoint":       cfg.Archive.S3.Endpoint,
		"path_style":     cfg.Archive.S3.PathStyle,
		"min_level":      minLevel.String(),
		"batch_size":     w.batchSize,
		"flush_interval": w.flushInterval.String(),
		"catalog":        w.catalog != nil,
	}).Info("signal writer initialized")

	return w, nil
}

func normalizeBucketName(raw string) (string, error) {
	bucket := strings.TrimSpace(raw)
	if bucket == "" {
		return "", fmt.Errorf("s3 bucket not configured")
	}
	return bucket, nil
}

// Start subscribes to the signal source and launches the ingestion and
// flush workers.
func (w *SignalWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("signal writer already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.buffer = make(map[string][]models.CascadeSignal)
	w.lastFlush = make(map[string]time.Time)
	w.signals, w.unsubscribe = w.source.Subscribe(w.cfg.Archive.Buffer)
	tickerInterval := w.flushInterval
	if tickerInterval > time.Second {
		tickerInterval = time.Second
	}
	w.flushTicker = time.NewTicker(tickerInterval)
	w.mu.Unlock()

	w.log.WithComponent("signal_writer").WithFields(logger.Fields{
		"ticker_interval": tickerInterval.String(),
		"batch_size":      w.batchSize,
	}).Info("starting signal writer")

	w.wg.Add(1)
	go w.worker()

	w.wg.Add(1)
	go w.flushWorker()

	if w.catalog != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.publishCatalogEntry()
		}()
	}

	return nil
}

// Stop detaches from the signal source, drains the workers and flushes all
// buffered signals.
func (w *SignalWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	unsubscribe := w.unsubscribe
	cancel := w.cancel
	ticker := w.flushTicker
	w.unsubscribe = nil
	w.cancel = nil
	w.flushTicker = nil
	w.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	if ticker != nil {
		ticker.Stop()
	}

	w.wg.Wait()
	w.flushAll("stop")
	w.log.WithComponent("signal_writer").Info("signal writer stopped")
}

func (w *SignalWriter) worker() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case sig, ok := <-w.signals:
			if !ok {
				return
			}
			w.addSignal(sig)
		}
	}
}

func (w *SignalWriter) flushWorker() {
	defer w.wg.Done()
	// Stop clears the ticker field, so the worker holds its own reference.
	w.mu.Lock()
	flushTicker := w.flushTicker
	w.mu.Unlock()
	report := time.NewTicker(statsInterval)
	defer report.Stop()
	for {
		select {
		case <-w.ctx.Done():
			w.flushAll("context_cancelled")
			return
		case <-flushTicker.C:
			w.flushTimedOut()
		case <-report.C:
			w.reportStats()
		}
	}
}

func (w *SignalWriter) addSignal(sig models.CascadeSignal) {
	if sig.Level < w.minLevel || sig.Symbol == "" {
		return
	}

	w.mu.Lock()
	w.buffer[sig.Symbol] = append(w.buffer[sig.Symbol], sig)
	if _, ok := w.lastFlush[sig.Symbol]; !ok {
		w.lastFlush[sig.Symbol] = time.Now()
	}
	shouldFlush := w.batchSize > 0 && len(w.buffer[sig.Symbol]) >= w.batchSize
	w.mu.Unlock()

	if shouldFlush {
		w.flushSymbol(sig.Symbol)
	}
}

func (w *SignalWriter) flushTimedOut() {
	now := time.Now()
	w.mu.Lock()
	symbols := make([]string, 0, len(w.buffer))
	for symbol := range w.buffer {
		if len(w.buffer[symbol]) == 0 {
			continue
		}
		if now.Sub(w.lastFlush[symbol]) >= w.flushInterval {
			symbols = append(symbols, symbol)
		}
	}
	w.mu.Unlock()

	for _, symbol := range symbols {
		w.flushSymbol(symbol)
	}
}

func (w *SignalWriter) flushAll(reason string) {
	w.mu.Lock()
	symbols := make([]string, 0, len(w.buffer))
	for symbol := range w.buffer {
		if len(w.buffer[symbol]) > 0 {
			symbols = append(symbols, symbol)
		}
	}
	w.mu.Unlock()

	if len(symbols) == 0 {
		return
	}

	w.log.WithComponent("signal_writer").WithFields(logger.Fields{
		"flushed_buffers": len(symbols),
		"reason":          reason,
	}).Info("flushing signal buffers")

	for _, symbol := range symbols {
		w.flushSymbol(symbol)
	}
}

func (w *SignalWriter) flushSymbol(symbol string) {
	w.mu.Lock()
	entries := w.buffer[symbol]
	if len(entries) == 0 {
		w.mu.Unlock()
		return
	}
	delete(w.buffer, symbol)
	delete(w.lastFlush, symbol)
	w.mu.Unlock()

	batchID := uuid.NewString()
	flushStart := time.Now()

	var batchTimestamp time.Time
	for _, sig := range entries {
		if sig.Timestamp.After(batchTimestamp) {
			batchTimestamp = sig.Timestamp
		}
	}
	if batchTimestamp.IsZero() {
		batchTimestamp = time.Now().UTC()
	}

	data, err := w.createParquet(batchID, entries)
	if err != nil {
		atomic.AddInt64(&w.errorsCount, 1)
		metrics.IncArchiveBatch("encode_error")
		w.log.WithComponent("signal_writer").WithError(err).WithFields(logger.Fields{
			"symbol": symbol,
		}).Error("failed to encode signal batch")
		return
	}

	key := w.generateS3Key(symbol, batchTimestamp, batchID)
	if err := w.upload(key, data); err != nil {
		atomic.AddInt64(&w.errorsCount, 1)
		metrics.IncArchiveBatch("upload_error")
		w.log.WithComponent("signal_writer").WithError(err).WithFields(logger.Fields{
			"s3_key": key,
			"symbol": symbol,
		}).Error("failed to upload signal batch")
		return
	}

	atomic.AddInt64(&w.batchesWritten, 1)
	atomic.AddInt64(&w.filesWritten, 1)
	atomic.AddInt64(&w.bytesWritten, int64(len(data)))
	metrics.IncArchiveBatch("ok")
	metrics.AddArchivedSignals(len(entries))

	w.log.WithComponent("signal_writer").WithFields(logger.Fields{
		"s3_key":   key,
		"batch_id": batchID,
		"records":  len(entries),
		"bytes":    len(data),
	}).Info("signal batch uploaded")

	flushLog := w.log.WithComponent("signal_writer")
	logger.LogPerformanceEntry(flushLog, "signal_writer", "flush_symbol", time.Since(flushStart), logger.Fields{
		"symbol":  symbol,
		"records": len(entries),
	})
	logger.LogDataFlowEntry(flushLog, "signal_buffer", "s3", len(entries), "cascade_signals")

	if w.catalog != nil {
		w.commitCatalog(symbol, key, batchTimestamp, len(entries), len(data))
	}
}

// commitCatalog publishes the snapshot documents for one uploaded batch.
// Metadata failures are counted but never fail the batch; the data file
// already landed.
func (w *SignalWriter) commitCatalog(symbol, key string, ts time.Time, records, size int) {
	df := metadata.DataFile{
		Path:        fmt.Sprintf("s3://%s/%s", w.bucket, key),
		SizeBytes:   int64(size),
		RecordCount: int64(records),
		Partition: map[string]any{
			"date":   ts.UTC().Format("2006-01-02"),
			"symbol": strings.ToUpper(symbol),
		},
		Timestamp: ts,
	}

	objects, err := w.catalog.Commit(df)
	if err != nil {
		atomic.AddInt64(&w.errorsCount, 1)
		w.log.WithComponent("signal_writer").WithError(err).Warn("failed to render table metadata")
		return
	}

	for _, obj := range objects {
		if err := w.upload(w.metadataKey(obj.Key), obj.Body); err != nil {
			atomic.AddInt64(&w.errorsCount, 1)
			w.log.WithComponent("signal_writer").WithError(err).WithFields(logger.Fields{
				"s3_key": w.metadataKey(obj.Key),
			}).Warn("failed to upload table metadata")
		}
	}
}

func (w *SignalWriter) publishCatalogEntry() {
	obj, err := w.catalog.CatalogEntry()
	if err == nil {
		err = w.upload(w.metadataKey(obj.Key), obj.Body)
	}
	if err != nil {
		w.log.WithComponent("signal_writer").WithError(err).Warn("failed to publish catalog entry")
	}
}

// metadataKey roots a tracker-relative key under the archive prefix.
func (w *SignalWriter) metadataKey(rel string) string {
	if w.prefix == "" {
		return rel
	}
	return w.prefix + "/" + rel
}

func (w *SignalWriter) createParquet(batchID string, entries []models.CascadeSignal) ([]byte, error) {
	mf := newSignalMemFile()
	pw, err := writer.NewParquetWriter(mf, new(signalRecord), 1)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, sig := range entries {
		rec := signalRecord{
			ID:           sig.ID,
			BatchID:      batchID,
			Symbol:       strings.ToUpper(sig.Symbol),
			EventTime:    sig.Timestamp.UTC().UnixMilli(),
			Probability:  sig.Probability,
			Level:        sig.Level.String(),
			Timeframe:    sig.Timeframe,
			Velocity:     sig.Velocity,
			VolumeRate:   sig.VolumeRate,
			Acceleration: sig.Acceleration,
			AccelValid:   sig.AccelOK,
			Correlation:  sig.Correlation,
			Factors:      strings.Join(sig.ContributingFactors, ","),
		}
		if err := pw.Write(rec); err != nil {
			return nil, err
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, err
	}

	return mf.Bytes(), nil
}

func (w *SignalWriter) upload(key string, data []byte) error {
	if w.bucket == "" {
		return fmt.Errorf("s3 bucket not configured")
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}

	// Uploads triggered by shutdown still have to finish.
	ctx := context.WithoutCancel(w.ctx)
	_, err := w.s3Client.PutObject(ctx, input)
	return err
}

func (w *SignalWriter) generateS3Key(symbol string, ts time.Time, batchID string) string {
	ts = ts.UTC()
	symbol = strings.ToUpper(symbol)

	short := batchID
	if len(short) > 8 {
		short = short[:8]
	}

	var parts []string
	if w.prefix != "" {
		parts = append(parts, w.prefix)
	}
	parts = append(parts,
		fmt.Sprintf("date=%s", ts.Format("2006-01-02")),
		fmt.Sprintf("symbol=%s", symbol),
		fmt.Sprintf("signals_%s_%s_%s.parquet", symbol, ts.Format("20060102150405"), short),
	)
	return filepath.ToSlash(filepath.Join(parts...))
}

func (w *SignalWriter) reportStats() {
	w.mu.Lock()
	pending := 0
	for _, entries := range w.buffer {
		pending += len(entries)
	}
	w.mu.Unlock()

	metrics.ReportWriter(w.log, "signal_writer", metrics.WriterStats{
		BatchesWritten: atomic.LoadInt64(&w.batchesWritten),
		FilesWritten:   atomic.LoadInt64(&w.filesWritten),
		BytesWritten:   atomic.LoadInt64(&w.bytesWritten),
		ErrorsCount:    atomic.LoadInt64(&w.errorsCount),
		PendingSignals: pending,
	})
}

// Package writer archives collected latency samples as parquet, to S3 or a
// local directory.
package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	parquetwriter "github.com/xitongsys/parquet-go/writer"

	appconfig "dbnflow/config"
	"dbnflow/logger"
	"dbnflow/stats"
)

// LatencyRecord is the parquet row layout for one timestamp sample.
type LatencyRecord struct {
	TsEvent int64 `parquet:"name=ts_event, type=INT64"`
	TsRecv  int64 `parquet:"name=ts_recv, type=INT64"`
	TsOut   int64 `parquet:"name=ts_out, type=INT64"`
	TsLocal int64 `parquet:"name=ts_local, type=INT64"`
}

// memoryFileWriter implements the ParquetFile interface for in-memory
// writing.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	// Write-only usage; the parquet writer never seeks backwards here.
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

// StatsWriter archives latency samples. When S3 is enabled in config the
// parquet file is uploaded under a date-partitioned key; otherwise it is
// written to the configured local directory.
type StatsWriter struct {
	config   *appconfig.Config
	s3Client *s3.Client
	log      *logger.Log
}

// NewStatsWriter builds a writer from config, creating an S3 client when
// storage.s3 is enabled.
func NewStatsWriter(cfg *appconfig.Config) (*StatsWriter, error) {
	log := logger.GetLogger()

	w := &StatsWriter{
		config: cfg,
		log:    log,
	}

	if !cfg.Storage.S3.Enabled {
		log.WithComponent("stats_writer").Info("S3 storage disabled; archiving locally")
		return w, nil
	}

	ctx := context.Background()

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Storage.S3.Region),
	}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	w.s3Client = s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	log.WithComponent("stats_writer").WithFields(logger.Fields{
		"bucket":     cfg.Storage.S3.Bucket,
		"region":     cfg.Storage.S3.Region,
		"endpoint":   cfg.Storage.S3.Endpoint,
		"path_style": cfg.Storage.S3.PathStyle,
	}).Info("stats writer initialized")

	return w, nil
}

// Write archives the samples, returning the S3 key or local path written.
func (w *StatsWriter) Write(ctx context.Context, samples []stats.Sample) (string, error) {
	log := w.log.WithComponent("stats_writer").WithFields(logger.Fields{
		"sample_count": len(samples),
	})

	if len(samples) == 0 {
		log.Debug("no samples to archive")
		return "", nil
	}

	data, err := w.createParquetFile(samples)
	if err != nil {
		return "", err
	}

	name := w.objectName()

	if w.s3Client == nil {
		dir := w.config.Stats.Archive
		if dir == "" {
			dir = "."
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0644); err != nil {
			return "", fmt.Errorf("failed to write latency archive: %w", err)
		}
		log.WithFields(logger.Fields{"path": path, "file_size": len(data)}).Info("latency archive written")
		logger.IncrementArchiveWrite(int64(len(data)))
		return path, nil
	}

	key := w.objectKey(name)
	if err := w.uploadToS3(ctx, key, data); err != nil {
		return "", err
	}

	log.WithFields(logger.Fields{"s3_key": key, "file_size": len(data)}).Info("latency archive uploaded")
	logger.IncrementArchiveWrite(int64(len(data)))
	return key, nil
}

func (w *StatsWriter) objectName() string {
	ts := time.Now().UTC().Format("20060102150405")
	return fmt.Sprintf("latencies_%s_%s.parquet", ts, uuid.New().String())
}

func (w *StatsWriter) objectKey(name string) string {
	now := time.Now().UTC()
	parts := []string{}
	if w.config.Storage.S3.Prefix != "" {
		parts = append(parts, w.config.Storage.S3.Prefix)
	}
	parts = append(parts,
		fmt.Sprintf("date=%s", now.Format("2006-01-02")),
		name)
	return filepath.ToSlash(filepath.Join(parts...))
}

func (w *StatsWriter) createParquetFile(samples []stats.Sample) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := parquetwriter.NewParquetWriter(fw, new(LatencyRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch w.config.Storage.S3.Compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, s := range samples {
		record := LatencyRecord{
			TsEvent: int64(s.TsEvent),
			TsRecv:  int64(s.TsRecv),
			TsOut:   int64(s.TsOut),
			TsLocal: int64(s.TsLocal),
		}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}

	return fw.Bytes(), nil
}

func (w *StatsWriter) uploadToS3(ctx context.Context, key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":    "parquet",
			"dbnflow-version": w.config.Dbnflow.Version,
		},
	}

	if _, err := w.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", w.config.Storage.S3.Bucket, err)
	}
	return nil
}

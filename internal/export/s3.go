package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/config"
	"github.com/therealutkarshpriyadarshi/devops-assistant/pkg/types"
)

const defaultKeyTemplate = "{{.Year}}/{{.Month}}/{{.Day}}/{{.ID}}.json"

// PutObjectAPI is the part of the S3 client used by the exporter
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Exporter stores analyses as objects. With batching enabled several
// records share one newline-delimited JSON object.
type S3Exporter struct {
	statsRecorder

	cfg        config.S3ExportConfig
	client     PutObjectAPI
	compressor Compressor
	batcher    *Batcher
	closed     atomic.Bool
}

// NewS3Exporter creates an exporter using the default AWS credential chain
func NewS3Exporter(ctx context.Context, cfg config.S3ExportConfig) (*S3Exporter, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("no region specified")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	return NewS3ExporterWithClient(cfg, s3.NewFromConfig(awsCfg, opts...))
}

// NewS3ExporterWithClient creates an exporter writing through client
func NewS3ExporterWithClient(cfg config.S3ExportConfig, client PutObjectAPI) (*S3Exporter, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("no bucket specified")
	}

	compressor, err := GetCompressor(CompressionType(cfg.Compression))
	if err != nil {
		return nil, err
	}

	if cfg.KeyTemplate == "" {
		cfg.KeyTemplate = defaultKeyTemplate
	}

	s := &S3Exporter{
		cfg:        cfg,
		client:     client,
		compressor: compressor,
	}

	if cfg.BatchSize > 1 {
		s.batcher = NewBatcher(BatcherConfig{
			MaxBatchSize:  cfg.BatchSize,
			FlushInterval: cfg.FlushInterval,
		}, s.upload, nil)
	}

	return s, nil
}

// Export uploads the record, or queues it when batching
func (s *S3Exporter) Export(ctx context.Context, record *types.Analysis) error {
	if s.closed.Load() {
		return ErrClosed
	}

	if s.batcher != nil {
		return s.batcher.Add(ctx, record)
	}
	return s.upload(ctx, []*types.Analysis{record})
}

// upload writes records as one object named after the first record
func (s *S3Exporter) upload(ctx context.Context, records []*types.Analysis) error {
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			s.recordFailure(len(records), err)
			return fmt.Errorf("failed to marshal analysis: %w", err)
		}
	}

	data, err := s.compressor.Compress(buf.Bytes())
	if err != nil {
		s.recordFailure(len(records), err)
		return fmt.Errorf("failed to compress data: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(s.objectKey(records[0])),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	}
	if s.cfg.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(s.cfg.StorageClass)
	}
	if s.cfg.ServerSideEncryption != "" {
		input.ServerSideEncryption = s3types.ServerSideEncryption(s.cfg.ServerSideEncryption)
	}
	if enc := s.compressor.Encoding(); enc != "" {
		input.ContentEncoding = aws.String(enc)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		s.recordFailure(len(records), err)
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	s.recordSuccess(len(records), len(data))
	return nil
}

// objectKey expands the key template for a record
func (s *S3Exporter) objectKey(record *types.Analysis) string {
	ts := record.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC()

	replacer := strings.NewReplacer(
		"{{.Year}}", fmt.Sprintf("%04d", ts.Year()),
		"{{.Month}}", fmt.Sprintf("%02d", ts.Month()),
		"{{.Day}}", fmt.Sprintf("%02d", ts.Day()),
		"{{.Hour}}", fmt.Sprintf("%02d", ts.Hour()),
		"{{.Minute}}", fmt.Sprintf("%02d", ts.Minute()),
		"{{.Timestamp}}", fmt.Sprintf("%d", ts.Unix()),
		"{{.ID}}", record.ID,
		"{{.Source}}", record.Source,
	)

	return s.cfg.Prefix + replacer.Replace(s.cfg.KeyTemplate) + s.compressor.Extension()
}

// Close flushes any batched records
func (s *S3Exporter) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.batcher != nil {
		s.batcher.Stop()
	}
	return nil
}

// Name returns the exporter name
func (s *S3Exporter) Name() string {
	return "s3"
}

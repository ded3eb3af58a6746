package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/config"
	"github.com/therealutkarshpriyadarshi/devops-assistant/pkg/types"
)

// ElasticsearchExporter indexes each analysis as a document
type ElasticsearchExporter struct {
	statsRecorder

	index    string
	rotation string
	pipeline string
	client   *elasticsearch.Client
	closed   atomic.Bool
}

// NewElasticsearchExporter creates a client and verifies the cluster is reachable
func NewElasticsearchExporter(ctx context.Context, cfg config.ElasticsearchExportConfig) (*ElasticsearchExporter, error) {
	if len(cfg.Addresses) == 0 && cfg.CloudID == "" {
		return nil, fmt.Errorf("no addresses or cloud ID specified")
	}

	if cfg.Index == "" {
		return nil, fmt.Errorf("no index specified")
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		CloudID:   cfg.CloudID,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	res, err := client.Info(client.Info.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch returned error: %s", res.Status())
	}

	rotation := cfg.IndexRotation
	if rotation == "" {
		rotation = "daily"
	}

	return &ElasticsearchExporter{
		index:    cfg.Index,
		rotation: rotation,
		pipeline: cfg.Pipeline,
		client:   client,
	}, nil
}

// Export indexes one record using its id as the document id
func (e *ElasticsearchExporter) Export(ctx context.Context, record *types.Analysis) error {
	if e.closed.Load() {
		return ErrClosed
	}

	doc, err := json.Marshal(record)
	if err != nil {
		e.recordFailure(1, err)
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      e.indexName(record.Timestamp),
		DocumentID: record.ID,
		Body:       bytes.NewReader(doc),
		Refresh:    "false",
		Pipeline:   e.pipeline,
	}

	res, err := req.Do(ctx, e.client)
	if err != nil {
		e.recordFailure(1, err)
		return fmt.Errorf("failed to index document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		err := fmt.Errorf("elasticsearch returned error: %s", res.Status())
		e.recordFailure(1, err)
		return err
	}

	e.recordSuccess(1, len(doc))
	return nil
}

// indexName applies time-based rotation to the configured index
func (e *ElasticsearchExporter) indexName(timestamp time.Time) string {
	if e.rotation == "none" {
		return e.index
	}
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	timestamp = timestamp.UTC()

	if strings.Contains(e.index, "%{") {
		index := strings.ReplaceAll(e.index, "%{+YYYY.MM.dd}", timestamp.Format("2006.01.02"))
		index = strings.ReplaceAll(index, "%{+YYYY.MM}", timestamp.Format("2006.01"))
		return strings.ReplaceAll(index, "%{+YYYY}", timestamp.Format("2006"))
	}

	var suffix string
	switch e.rotation {
	case "weekly":
		year, week := timestamp.ISOWeek()
		suffix = fmt.Sprintf("%d.%02d", year, week)
	case "monthly":
		suffix = timestamp.Format("2006.01")
	case "yearly":
		suffix = timestamp.Format("2006")
	default:
		suffix = timestamp.Format("2006.01.02")
	}

	return fmt.Sprintf("%s-%s", e.index, suffix)
}

// Close marks the exporter closed; the HTTP client needs no teardown
func (e *ElasticsearchExporter) Close() error {
	e.closed.Store(true)
	return nil
}

// Name returns the exporter name
func (e *ElasticsearchExporter) Name() string {
	return "elasticsearch"
}

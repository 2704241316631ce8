package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"gridflow/internal/etl"
)

// ScraperExtractor pulls tabular data out of provider statistics pages. The
// configured selector picks the table; the header row names the fields and
// every body row becomes one record. Cell text is sanitized before use.
type ScraperExtractor struct {
	client    *http.Client
	sanitizer *bluemonday.Policy
}

func NewScraperExtractor() *ScraperExtractor {
	return &ScraperExtractor{
		client:    &http.Client{Timeout: 30 * time.Second},
		sanitizer: bluemonday.StrictPolicy(),
	}
}

func (s *ScraperExtractor) Type() etl.SourceType {
	return etl.SourceScraper
}

func (s *ScraperExtractor) Extract(ctx context.Context, src etl.DataSource) ([]*etl.DataRecord, error) {
	if src.Endpoint == "" {
		return nil, etl.NewConfigurationError("source %s has no endpoint", src.ID)
	}
	selector := src.Selector
	if selector == "" {
		selector = "table"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", src.ID, err)
	}
	req.Header.Set("User-Agent", "gridflow/1.0")
	for k, v := range src.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, etl.Transient("extract:"+src.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, etl.Transient("extract:"+src.ID, fmt.Errorf("upstream returned %s", resp.Status))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source %s returned %s", src.ID, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("source %s: parsing page: %w", src.ID, err)
	}

	table := doc.Find(selector).First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("source %s: selector %q matched nothing", src.ID, selector)
	}

	var fields []string
	table.Find("tr").First().Find("th, td").Each(func(_ int, cell *goquery.Selection) {
		fields = append(fields, s.cleanCell(cell.Text()))
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("source %s: table has no header row", src.ID)
	}

	var records []*etl.DataRecord
	table.Find("tr").Each(func(i int, tr *goquery.Selection) {
		if i == 0 {
			return
		}
		row := make(map[string]any, len(fields))
		tr.Find("td").Each(func(j int, td *goquery.Selection) {
			if j >= len(fields) {
				return
			}
			cell := s.cleanCell(td.Text())
			if cell == "" {
				return
			}
			if n, err := strconv.ParseFloat(strings.ReplaceAll(cell, ",", ""), 64); err == nil {
				row[fields[j]] = n
			} else {
				row[fields[j]] = cell
			}
		})
		if len(row) > 0 {
			records = append(records, etl.NewRecord(src.ID, src.Name, row))
		}
	})

	slog.Info("Scraper extractor finished", "source", src.ID, "records", len(records))
	return records, nil
}

func (s *ScraperExtractor) cleanCell(text string) string {
	return strings.TrimSpace(s.sanitizer.Sanitize(text))
}

// Package source yields shard-partitioned items for a scan.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leakscan/internal/fetcher"
	"github.com/sells-group/leakscan/internal/model"
)

// ErrShardNotFound is returned when no backend holds the requested shard.
var ErrShardNotFound = eris.New("source: shard not found")

// Supported shard encodings.
const (
	FormatJSON  = "json"
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
)

// Provider yields an ordered, shard-partitioned item space. ListShardIDs must
// return the same order on every call.
type Provider interface {
	ListShardIDs(ctx context.Context) ([]string, error)
	GetShard(ctx context.Context, shardID string) ([]model.Item, error)
}

// Mapping selects item fields from raw shard records.
type Mapping struct {
	IDField string
	// TextFields are joined by newline. Dotted paths reach nested objects.
	TextFields []string
}

func (m Mapping) withDefaults() Mapping {
	if m.IDField == "" {
		m.IDField = "id"
	}
	if len(m.TextFields) == 0 {
		m.TextFields = []string{"description"}
	}
	return m
}

// formatOf infers the encoding from a file name, falling back to def.
func formatOf(name, def string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		return FormatJSON
	case ".jsonl", ".ndjson":
		return FormatJSONL
	case ".csv":
		return FormatCSV
	}
	if def == "" {
		return FormatJSON
	}
	return def
}

// decodeShard parses a whole shard. Record order is preserved so offsets are
// stable across fetches.
func decodeShard(ctx context.Context, r io.Reader, format, shardID string, m Mapping) ([]model.Item, error) {
	m = m.withDefaults()
	switch format {
	case FormatJSON:
		recs, errCh := fetcher.DecodeJSONArray[map[string]any](ctx, r, fetcher.WithUseNumber())
		return collectJSON(recs, errCh, shardID, m)
	case FormatJSONL:
		recs, errCh := fetcher.DecodeJSONLines[map[string]any](ctx, r, fetcher.WithUseNumber())
		return collectJSON(recs, errCh, shardID, m)
	case FormatCSV:
		return collectCSV(ctx, r, shardID, m)
	default:
		return nil, eris.Errorf("source: unsupported format %q", format)
	}
}

func collectJSON(recs <-chan map[string]any, errCh <-chan error, shardID string, m Mapping) ([]model.Item, error) {
	var items []model.Item
	for rec := range recs {
		id := stringify(lookup(rec, m.IDField))
		texts := make([]string, 0, len(m.TextFields))
		for _, f := range m.TextFields {
			if s := stringify(lookup(rec, f)); s != "" {
				texts = append(texts, s)
			}
		}
		items = append(items, newItem(shardID, len(items), id, texts))
	}
	for err := range errCh {
		if err != nil {
			return nil, eris.Wrapf(err, "source: decode shard %s", shardID)
		}
	}
	return items, nil
}

func collectCSV(ctx context.Context, r io.Reader, shardID string, m Mapping) ([]model.Item, error) {
	headerCh := make(chan []string, 1)
	rows, errCh := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{
		HasHeader:  true,
		HeaderCh:   headerCh,
		LazyQuotes: true,
		TrimSpace:  true,
	})

	var raw [][]string
	for row := range rows {
		raw = append(raw, row)
	}
	for err := range errCh {
		if err != nil {
			return nil, eris.Wrapf(err, "source: decode shard %s", shardID)
		}
	}

	var header []string
	select {
	case header = <-headerCh:
	default:
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	items := make([]model.Item, 0, len(raw))
	for _, row := range raw {
		texts := make([]string, 0, len(m.TextFields))
		for _, f := range m.TextFields {
			if s := field(row, f); s != "" {
				texts = append(texts, s)
			}
		}
		items = append(items, newItem(shardID, len(items), field(row, m.IDField), texts))
	}
	return items, nil
}

func newItem(shardID string, offset int, id string, texts []string) model.Item {
	if id == "" {
		id = fmt.Sprintf("%s#%d", shardID, offset)
	}
	return model.Item{ID: id, Text: strings.Join(texts, "\n")}
}

// lookup resolves a dotted path through nested JSON objects.
func lookup(rec map[string]any, field string) any {
	var cur any = rec
	for _, part := range strings.Split(field, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[part]
	}
	return cur
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

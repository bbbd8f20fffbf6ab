package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leakscan/internal/fetcher"
	"github.com/sells-group/leakscan/internal/model"
)

// HTTPOptions configures an HTTPProvider.
type HTTPOptions struct {
	// BaseURLs are mirrors tried in order for every shard.
	BaseURLs []string
	// ShardIDs lists shards explicitly. When empty, ids are generated from
	// ShardPattern (a fmt verb such as "part-%04d.json") for 0..ShardCount-1.
	ShardIDs     []string
	ShardPattern string
	ShardCount   int
	// Format is used when a shard id carries no recognised extension.
	Format  string
	Mapping Mapping
}

// HTTPProvider downloads shards from one or more mirrors.
type HTTPProvider struct {
	opts    HTTPOptions
	fetcher fetcher.Fetcher
	log     *zap.Logger
}

// NewHTTPProvider creates an HTTPProvider.
func NewHTTPProvider(opts HTTPOptions, f fetcher.Fetcher) (*HTTPProvider, error) {
	if len(opts.BaseURLs) == 0 {
		return nil, eris.New("source: http provider needs at least one base url")
	}
	if len(opts.ShardIDs) == 0 && (opts.ShardPattern == "" || opts.ShardCount <= 0) {
		return nil, eris.New("source: http provider needs shard_ids or shard_pattern with shard_count")
	}
	return &HTTPProvider{
		opts:    opts,
		fetcher: f,
		log:     zap.L().With(zap.String("component", "source.http")),
	}, nil
}

func (p *HTTPProvider) ListShardIDs(_ context.Context) ([]string, error) {
	if len(p.opts.ShardIDs) > 0 {
		return append([]string(nil), p.opts.ShardIDs...), nil
	}
	ids := make([]string, p.opts.ShardCount)
	for i := range ids {
		ids[i] = fmt.Sprintf(p.opts.ShardPattern, i)
	}
	return ids, nil
}

// GetShard tries each mirror in order. It returns ErrShardNotFound only when
// every mirror answered 404.
func (p *HTTPProvider) GetShard(ctx context.Context, shardID string) ([]model.Item, error) {
	var (
		lastErr  error
		notFound int
	)
	for _, base := range p.opts.BaseURLs {
		url := strings.TrimRight(base, "/") + "/" + shardID
		items, err := p.fetch(ctx, url, shardID)
		if err == nil {
			return items, nil
		}
		if ctx.Err() != nil {
			return nil, eris.Wrapf(ctx.Err(), "source: get shard %s", shardID)
		}

		var se *fetcher.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			notFound++
		}
		lastErr = err
		p.log.Warn("mirror failed",
			zap.String("shard_id", shardID),
			zap.String("url", url),
			zap.Error(err),
		)
	}
	if notFound == len(p.opts.BaseURLs) {
		return nil, eris.Wrapf(ErrShardNotFound, "source: %s on %d mirrors", shardID, notFound)
	}
	return nil, eris.Wrapf(lastErr, "source: get shard %s", shardID)
}

func (p *HTTPProvider) fetch(ctx context.Context, url, shardID string) ([]model.Item, error) {
	body, err := p.fetcher.Download(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck
	return decodeShard(ctx, body, formatOf(shardID, p.opts.Format), shardID, p.opts.Mapping)
}

package source

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leakscan/internal/model"
)

// DirProvider serves shard files from a local directory. Each *.json,
// *.jsonl or *.csv file is one shard whose id is the file name without its
// extension; shards are ordered by id.
type DirProvider struct {
	dir     string
	mapping Mapping
}

// NewDirProvider creates a DirProvider rooted at dir.
func NewDirProvider(dir string, m Mapping) *DirProvider {
	return &DirProvider{dir: dir, mapping: m}
}

func (p *DirProvider) shardFiles() (map[string]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read dir %s", p.dir)
	}
	files := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		switch ext {
		case ".json", ".jsonl", ".ndjson", ".csv":
		default:
			continue
		}
		id := strings.TrimSuffix(name, filepath.Ext(name))
		if prev, dup := files[id]; dup {
			return nil, eris.Errorf("source: shard %s has two files: %s and %s", id, prev, name)
		}
		files[id] = name
	}
	return files, nil
}

func (p *DirProvider) ListShardIDs(_ context.Context) ([]string, error) {
	files, err := p.shardFiles()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(files))
	for id := range files {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (p *DirProvider) GetShard(ctx context.Context, shardID string) ([]model.Item, error) {
	files, err := p.shardFiles()
	if err != nil {
		return nil, err
	}
	name, ok := files[shardID]
	if !ok {
		return nil, eris.Wrapf(ErrShardNotFound, "source: %s in %s", shardID, p.dir)
	}

	f, err := os.Open(filepath.Join(p.dir, name))
	if err != nil {
		return nil, eris.Wrapf(err, "source: open shard %s", name)
	}
	defer f.Close() //nolint:errcheck

	return decodeShard(ctx, f, formatOf(name, ""), shardID, p.mapping)
}

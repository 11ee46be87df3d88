// Package badgerstore 基于 BadgerDB 的嵌入式图存储
//
// 键布局（\x00 分隔）：
//
//	n <repo> <nodeID>              -> 节点 JSON
//	e <repo> <src> <rel> <tgt>     -> 关系属性 JSON（可为空）
//	r <repo> <tgt> <rel> <src>     -> 反向索引
//	x <nodeID>                     -> 所属仓库 ID
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/qs3c/anal_graph_server/internal/graphstore"
)

const sep = "\x00"

// maxEnumeratedCycles 环枚举的硬上限，防止稠密图指数爆炸
const maxEnumeratedCycles = 10000

const defaultGCDiscardRatio = 0.5

type Config struct {
	Path       string
	InMemory   bool
	SyncWrites bool
}

type Store struct {
	db       *badger.DB
	inMemory bool
}

var _ graphstore.Store = (*Store)(nil)

func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger path is required for persistent graph store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create graph directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger graph store: %w", err)
	}
	return &Store{db: db, inMemory: cfg.InMemory}, nil
}

// OpenInMemory 测试与开发使用
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true})
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC 回收 value log，无可回收内容时不视为错误
func (s *Store) RunGC() error {
	if s.inMemory {
		return nil
	}
	err := s.db.RunValueLogGC(defaultGCDiscardRatio)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return err
	}
	return nil
}

// EnsureIndexes 键布局本身即索引
func (s *Store) EnsureIndexes(ctx context.Context) error {
	return ctx.Err()
}

type record struct {
	Label  string                 `json:"label"`
	File   *graphstore.FileNode   `json:"file,omitempty"`
	Entity *graphstore.EntityNode `json:"entity,omitempty"`
}

func repoStr(id int64) string {
	return strconv.FormatInt(id, 10)
}

func nodeKey(repo int64, id string) []byte {
	return []byte("n" + sep + repoStr(repo) + sep + id)
}

func nodePrefix(repo int64) []byte {
	return []byte("n" + sep + repoStr(repo) + sep)
}

func edgeKey(repo int64, src, rel, tgt string) []byte {
	return []byte("e" + sep + repoStr(repo) + sep + src + sep + rel + sep + tgt)
}

func edgePrefix(repo int64, src, rel string) []byte {
	return []byte("e" + sep + repoStr(repo) + sep + src + sep + rel + sep)
}

func repoEdgePrefix(repo int64) []byte {
	return []byte("e" + sep + repoStr(repo) + sep)
}

func reverseKey(repo int64, tgt, rel, src string) []byte {
	return []byte("r" + sep + repoStr(repo) + sep + tgt + sep + rel + sep + src)
}

func reversePrefix(repo int64, tgt, rel string) []byte {
	return []byte("r" + sep + repoStr(repo) + sep + tgt + sep + rel + sep)
}

func repoReversePrefix(repo int64) []byte {
	return []byte("r" + sep + repoStr(repo) + sep)
}

func indexKey(id string) []byte {
	return []byte("x" + sep + id)
}

func (s *Store) CreateFileNodes(ctx context.Context, files []graphstore.FileNode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for i := range files {
		f := files[i]
		if f.ID == "" {
			return fmt.Errorf("file node %q has empty id", f.Path)
		}
		val, err := json.Marshal(record{Label: graphstore.LabelFile, File: &f})
		if err != nil {
			return err
		}
		if err := wb.Set(nodeKey(f.RepositoryID, f.ID), val); err != nil {
			return err
		}
		if err := wb.Set(indexKey(f.ID), []byte(repoStr(f.RepositoryID))); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// CreateEntityNodes 创建实体节点以及 CONTAINS 关系，导出的实体额外建立 EXPORTS 关系
func (s *Store) CreateEntityNodes(ctx context.Context, fileID string, entities []graphstore.EntityNode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(entities) == 0 {
		return nil
	}
	for _, e := range entities {
		if !graphstore.IsEntityLabel(e.Label) {
			return fmt.Errorf("%w: %q", graphstore.ErrUnsupportedLabel, e.Label)
		}
	}

	repo, err := s.repositoryOf(fileID)
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for i := range entities {
		e := entities[i]
		e.RepositoryID = repo
		val, err := json.Marshal(record{Label: e.Label, Entity: &e})
		if err != nil {
			return err
		}
		if err := wb.Set(nodeKey(repo, e.ID), val); err != nil {
			return err
		}
		if err := wb.Set(indexKey(e.ID), []byte(repoStr(repo))); err != nil {
			return err
		}
		if err := setEdge(wb, repo, fileID, graphstore.RelContains, e.ID, nil); err != nil {
			return err
		}
		if e.Exported {
			if err := setEdge(wb, repo, fileID, graphstore.RelExports, e.ID, nil); err != nil {
				return err
			}
		}
	}
	return wb.Flush()
}

func (s *Store) CreateRelationship(ctx context.Context, edge graphstore.Edge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !graphstore.IsRelationship(edge.Type) {
		return fmt.Errorf("%w: %q", graphstore.ErrUnsupportedRelationship, edge.Type)
	}

	repo, err := s.repositoryOf(edge.Source)
	if err != nil {
		return err
	}
	if _, err := s.repositoryOf(edge.Target); err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	if err := setEdge(wb, repo, edge.Source, edge.Type, edge.Target, edge.Properties); err != nil {
		return err
	}
	return wb.Flush()
}

// CreateImportRelationships 批量创建 IMPORTS 关系，端点不存在的关系被跳过
func (s *Store) CreateImportRelationships(ctx context.Context, edges []graphstore.ImportEdge) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(edges) == 0 {
		return 0, nil
	}

	repos := make(map[string]int64)
	err := s.db.View(func(txn *badger.Txn) error {
		for _, e := range edges {
			for _, id := range []string{e.SourceFileID, e.TargetFileID} {
				if _, ok := repos[id]; ok {
					continue
				}
				repo, err := repositoryOfTxn(txn, id)
				if errors.Is(err, graphstore.ErrNodeNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				repos[id] = repo
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	created := 0
	for _, e := range edges {
		srcRepo, ok := repos[e.SourceFileID]
		if !ok {
			continue
		}
		if tgtRepo, ok := repos[e.TargetFileID]; !ok || tgtRepo != srcRepo {
			continue
		}
		props := map[string]any{"specifiers": nonNil(e.Specifiers)}
		if err := setEdge(wb, srcRepo, e.SourceFileID, graphstore.RelImports, e.TargetFileID, props); err != nil {
			return 0, err
		}
		created++
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}
	return created, nil
}

func setEdge(wb *badger.WriteBatch, repo int64, src, rel, tgt string, props map[string]any) error {
	var val []byte
	if len(props) > 0 {
		b, err := json.Marshal(props)
		if err != nil {
			return err
		}
		val = b
	}
	if err := wb.Set(edgeKey(repo, src, rel, tgt), val); err != nil {
		return err
	}
	return wb.Set(reverseKey(repo, tgt, rel, src), nil)
}

// DeleteRepository 删除仓库的全部节点与关系
func (s *Store) DeleteRepository(ctx context.Context, repositoryID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		np := nodePrefix(repositoryID)
		for it.Seek(np); it.ValidForPrefix(np); it.Next() {
			key := it.Item().KeyCopy(nil)
			keys = append(keys, key, indexKey(string(key[len(np):])))
		}
		for _, prefix := range [][]byte{repoEdgePrefix(repositoryID), repoReversePrefix(repositoryID)} {
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (s *Store) repositoryOf(id string) (int64, error) {
	var repo int64
	err := s.db.View(func(txn *badger.Txn) error {
		r, err := repositoryOfTxn(txn, id)
		repo = r
		return err
	})
	return repo, err
}

func repositoryOfTxn(txn *badger.Txn, id string) (int64, error) {
	item, err := txn.Get(indexKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, fmt.Errorf("%w: %s", graphstore.ErrNodeNotFound, id)
	}
	if err != nil {
		return 0, err
	}
	var repo int64
	err = item.Value(func(val []byte) error {
		r, err := strconv.ParseInt(string(val), 10, 64)
		repo = r
		return err
	})
	return repo, err
}

func loadRecord(txn *badger.Txn, repo int64, id string) (*record, error) {
	item, err := txn.Get(nodeKey(repo, id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", graphstore.ErrNodeNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var rec record
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, err
	}
	return &rec, nil
}

type neighbor struct {
	id    string
	props map[string]any
}

// outgoing 列出 src 的出边
func outgoing(txn *badger.Txn, repo int64, src, rel string) ([]neighbor, error) {
	prefix := edgePrefix(repo, src, rel)
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
	defer it.Close()

	var out []neighbor
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		n := neighbor{id: string(item.Key()[len(prefix):])}
		if err := item.Value(func(val []byte) error {
			props, err := decodeProps(val)
			n.props = props
			return err
		}); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// incoming 列出指向 tgt 的入边
func incoming(txn *badger.Txn, repo int64, tgt, rel string) ([]neighbor, error) {
	prefix := reversePrefix(repo, tgt, rel)
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()

	var sources []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		sources = append(sources, string(it.Item().Key()[len(prefix):]))
	}

	out := make([]neighbor, 0, len(sources))
	for _, src := range sources {
		n := neighbor{id: src}
		item, err := txn.Get(edgeKey(repo, src, rel, tgt))
		if err != nil {
			return nil, err
		}
		if err := item.Value(func(val []byte) error {
			props, err := decodeProps(val)
			n.props = props
			return err
		}); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func decodeProps(val []byte) (map[string]any, error) {
	if len(val) == 0 {
		return nil, nil
	}
	var props map[string]any
	if err := json.Unmarshal(val, &props); err != nil {
		return nil, err
	}
	return props, nil
}

func (s *Store) RepositoryFiles(ctx context.Context, repositoryID int64, q graphstore.FileQuery) ([]graphstore.FileSubgraph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result []graphstore.FileSubgraph
	err := s.db.View(func(txn *badger.Txn) error {
		var files []graphstore.FileNode
		prefix := nodePrefix(repositoryID)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				it.Close()
				return err
			}
			if rec.Label != graphstore.LabelFile || rec.File == nil {
				continue
			}
			if q.FileType != "" && rec.File.FileType != q.FileType {
				continue
			}
			files = append(files, *rec.File)
		}
		it.Close()

		sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
		files = paginate(files, q.Limit, q.Offset)

		result = make([]graphstore.FileSubgraph, 0, len(files))
		for _, f := range files {
			sg, err := subgraph(txn, repositoryID, f, true)
			if err != nil {
				return err
			}
			result = append(result, sg)
		}
		return nil
	})
	return result, err
}

func paginate(files []graphstore.FileNode, limit, offset int) []graphstore.FileNode {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(files) {
		return nil
	}
	files = files[offset:]
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files
}

func subgraph(txn *badger.Txn, repo int64, f graphstore.FileNode, withImports bool) (graphstore.FileSubgraph, error) {
	sg := graphstore.FileSubgraph{File: f}

	contains, err := outgoing(txn, repo, f.ID, graphstore.RelContains)
	if err != nil {
		return sg, err
	}
	for _, n := range contains {
		rec, err := loadRecord(txn, repo, n.id)
		if err != nil {
			return sg, err
		}
		if rec.Entity != nil {
			sg.Entities = append(sg.Entities, *rec.Entity)
		}
	}

	if withImports {
		imports, err := outgoing(txn, repo, f.ID, graphstore.RelImports)
		if err != nil {
			return sg, err
		}
		for _, n := range imports {
			sg.Imports = append(sg.Imports, graphstore.Edge{
				Source:     f.ID,
				Target:     n.id,
				Type:       graphstore.RelImports,
				Properties: n.props,
			})
		}
	}
	return sg, nil
}

// traverse 从 start 出发按 BFS 遍历 IMPORTS，返回可达节点（不含 start）及沿途的关系
func traverse(txn *badger.Txn, repo int64, start string, dir graphstore.Direction, depth int) ([]string, []graphstore.Edge, error) {
	dist := map[string]int{start: 0}
	queue := []string{start}
	var reached []string
	var edges []graphstore.Edge

	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		if depth != graphstore.UnboundedDepth && dist[u] >= depth {
			continue
		}

		var next []neighbor
		var err error
		if dir == graphstore.Incoming {
			next, err = incoming(txn, repo, u, graphstore.RelImports)
		} else {
			next, err = outgoing(txn, repo, u, graphstore.RelImports)
		}
		if err != nil {
			return nil, nil, err
		}

		for _, n := range next {
			edge := graphstore.Edge{Source: u, Target: n.id, Type: graphstore.RelImports, Properties: n.props}
			if dir == graphstore.Incoming {
				edge.Source, edge.Target = n.id, u
			}
			edges = append(edges, edge)

			if _, seen := dist[n.id]; seen {
				continue
			}
			dist[n.id] = dist[u] + 1
			queue = append(queue, n.id)
			reached = append(reached, n.id)
		}
	}
	return reached, edges, nil
}

func (s *Store) ReachableFiles(ctx context.Context, fileID string, dir graphstore.Direction, depth int) ([]graphstore.FileSubgraph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result []graphstore.FileSubgraph
	err := s.db.View(func(txn *badger.Txn) error {
		repo, err := repositoryOfTxn(txn, fileID)
		if err != nil {
			return err
		}
		reached, _, err := traverse(txn, repo, fileID, dir, depth)
		if err != nil {
			return err
		}
		for _, id := range reached {
			rec, err := loadRecord(txn, repo, id)
			if err != nil {
				return err
			}
			if rec.File == nil {
				continue
			}
			sg, err := subgraph(txn, repo, *rec.File, false)
			if err != nil {
				return err
			}
			result = append(result, sg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool { return result[i].File.Path < result[j].File.Path })
	return result, nil
}

func (s *Store) ReachableEdges(ctx context.Context, fileID string, dir graphstore.Direction, depth int) ([]graphstore.Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var edges []graphstore.Edge
	err := s.db.View(func(txn *badger.Txn) error {
		repo, err := repositoryOfTxn(txn, fileID)
		if err != nil {
			return err
		}
		_, edges, err = traverse(txn, repo, fileID, dir, depth)
		return err
	})
	return edges, err
}

// FindCycles 枚举简单环，每个环只从其最小节点出发枚举一次，按环长升序
func (s *Store) FindCycles(ctx context.Context, repositoryID int64, limit int) ([]graphstore.Cycle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	adj := make(map[string][]string)
	paths := make(map[string]string)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := repoEdgePrefix(repositoryID)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			parts := strings.Split(string(it.Item().Key()[len(prefix):]), sep)
			if len(parts) != 3 || parts[1] != graphstore.RelImports {
				continue
			}
			adj[parts[0]] = append(adj[parts[0]], parts[2])
		}
		it.Close()

		for id := range adj {
			rec, err := loadRecord(txn, repositoryID, id)
			if err != nil {
				continue
			}
			if rec.File != nil {
				paths[id] = rec.File.Path
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	nodes := make([]string, 0, len(adj))
	for id, targets := range adj {
		sort.Strings(targets)
		nodes = append(nodes, id)
	}
	sort.Strings(nodes)

	// 按环长逐层加深：短环先全部枚举完，凑够 limit 后不再进入更长的一层
	var cycles []graphstore.Cycle
	capped := false
	onPath := make(map[string]bool)
	var dfs func(start, u string, path []string, length int)
	dfs = func(start, u string, path []string, length int) {
		for _, v := range adj[u] {
			if capped {
				return
			}
			if v == start {
				if len(path) != length {
					continue
				}
				ids := append(append([]string(nil), path...), start)
				ps := make([]string, len(ids))
				for i, id := range ids {
					ps[i] = paths[id]
				}
				cycles = append(cycles, graphstore.Cycle{NodeIDs: ids, Paths: ps, Length: length})
				if len(cycles) >= maxEnumeratedCycles {
					capped = true
				}
				continue
			}
			if v < start || onPath[v] || len(path) >= length {
				continue
			}
			onPath[v] = true
			dfs(start, v, append(path, v), length)
			onPath[v] = false
		}
	}
	for length := 1; length <= graphstore.MaxCycleLength && !capped; length++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, start := range nodes {
			onPath[start] = true
			dfs(start, start, []string{start}, length)
			onPath[start] = false
		}
		if limit > 0 && len(cycles) >= limit {
			break
		}
	}
	if capped {
		log.Printf("BadgerStore: cycle enumeration for repository %d hit cap %d, results truncated", repositoryID, maxEnumeratedCycles)
	}

	return graphstore.NormalizeCycles(cycles, limit), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Package neo4jstore 基于 Neo4j 的图存储，所有查询均为参数化 Cypher
package neo4jstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/qs3c/anal_graph_server/config"
	"github.com/qs3c/anal_graph_server/internal/graphstore"
)

// maxScannedCycles 环检测最多读取的路径条数，去重前
const maxScannedCycles = 10000

// noLimit 未指定分页大小时使用
const noLimit = 1 << 30

type Store struct {
	driver   neo4j.DriverWithContext
	database string
}

var _ graphstore.Store = (*Store)(nil)

func NewStore(ctx context.Context, cfg config.Neo4jConfig) (*Store, error) {
	if cfg.URI == "" {
		return nil, errors.New("neo4j uri is required")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connect neo4j: %w", err)
	}
	return &Store{driver: driver, database: cfg.Database}, nil
}

func (s *Store) Close() error {
	return s.driver.Close(context.Background())
}

func (s *Store) write(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	opts := []neo4j.ExecuteQueryConfigurationOption{neo4j.ExecuteQueryWithWritersRouting()}
	if s.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(s.database))
	}
	return neo4j.ExecuteQuery(ctx, s.driver, query, params, neo4j.EagerResultTransformer, opts...)
}

func (s *Store) read(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	opts := []neo4j.ExecuteQueryConfigurationOption{neo4j.ExecuteQueryWithReadersRouting()}
	if s.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(s.database))
	}
	return neo4j.ExecuteQuery(ctx, s.driver, query, params, neo4j.EagerResultTransformer, opts...)
}

var indexedLabels = []string{
	graphstore.LabelFile,
	graphstore.LabelFunction,
	graphstore.LabelClass,
	graphstore.LabelInterface,
}

// indexStatements 每个标签在 repositoryId 与 id 上各一个索引
func indexStatements() []string {
	var stmts []string
	for _, label := range indexedLabels {
		for _, prop := range []string{"repositoryId", "id"} {
			name := fmt.Sprintf("%s_%s", label, prop)
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX %s IF NOT EXISTS FOR (n:%s) ON (n.%s)", name, label, prop))
		}
	}
	return stmts
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	for _, stmt := range indexStatements() {
		if _, err := s.write(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure index: %w", err)
		}
	}
	return nil
}

const createFilesQuery = `
UNWIND $files AS f
MERGE (n:File {id: f.id})
SET n.repositoryId = f.repositoryId,
    n.path = f.path,
    n.name = f.name,
    n.fileType = f.fileType,
    n.linesOfCode = f.linesOfCode`

func (s *Store) CreateFileNodes(ctx context.Context, files []graphstore.FileNode) error {
	if len(files) == 0 {
		return nil
	}
	rows := make([]any, 0, len(files))
	for _, f := range files {
		rows = append(rows, fileParams(f))
	}
	_, err := s.write(ctx, createFilesQuery, map[string]any{"files": rows})
	return err
}

func fileParams(f graphstore.FileNode) map[string]any {
	return map[string]any{
		"id":           f.ID,
		"repositoryId": f.RepositoryID,
		"path":         f.Path,
		"name":         f.Name,
		"fileType":     f.FileType,
		"linesOfCode":  int64(f.LinesOfCode),
	}
}

func entityParams(e graphstore.EntityNode) map[string]any {
	return map[string]any{
		"id":        e.ID,
		"name":      e.Name,
		"filePath":  e.FilePath,
		"startLine": int64(e.StartLine),
		"endLine":   int64(e.EndLine),
		"exported":  e.Exported,
	}
}

// entityQuery 标签是唯一插入查询文本的值，插入前必须通过白名单
func entityQuery(label string) (string, error) {
	if !graphstore.IsEntityLabel(label) {
		return "", fmt.Errorf("%w: %q", graphstore.ErrUnsupportedLabel, label)
	}
	return fmt.Sprintf(`
MATCH (f:File {id: $fileId})
UNWIND $entities AS e
MERGE (n:%s {id: e.id})
SET n.repositoryId = f.repositoryId,
    n.name = e.name,
    n.filePath = e.filePath,
    n.startLine = e.startLine,
    n.endLine = e.endLine,
    n.exported = e.exported
MERGE (f)-[:CONTAINS]->(n)
FOREACH (_ IN CASE WHEN e.exported THEN [1] ELSE [] END | MERGE (f)-[:EXPORTS]->(n))
RETURN count(n) AS created`, label), nil
}

// CreateEntityNodes 按标签分组写入，文件节点不存在时返回 ErrNodeNotFound
func (s *Store) CreateEntityNodes(ctx context.Context, fileID string, entities []graphstore.EntityNode) error {
	byLabel := make(map[string][]any)
	var order []string
	for _, e := range entities {
		if _, ok := byLabel[e.Label]; !ok {
			order = append(order, e.Label)
		}
		byLabel[e.Label] = append(byLabel[e.Label], entityParams(e))
	}

	for _, label := range order {
		query, err := entityQuery(label)
		if err != nil {
			return err
		}
		res, err := s.write(ctx, query, map[string]any{"fileId": fileID, "entities": byLabel[label]})
		if err != nil {
			return err
		}
		if countOf(res, "created") == 0 {
			return fmt.Errorf("%w: %s", graphstore.ErrNodeNotFound, fileID)
		}
	}
	return nil
}

var relationshipQueries = map[string]string{
	graphstore.RelImports: `
MATCH (a:File {id: $source}), (b:File {id: $target})
MERGE (a)-[r:IMPORTS]->(b)
SET r += $props
RETURN count(r) AS created`,
	graphstore.RelContains: `
MATCH (a:File {id: $source}), (b {id: $target})
WHERE b:Function OR b:Class OR b:Interface
MERGE (a)-[r:CONTAINS]->(b)
SET r += $props
RETURN count(r) AS created`,
	graphstore.RelExports: `
MATCH (a:File {id: $source}), (b {id: $target})
WHERE b:Function OR b:Class OR b:Interface
MERGE (a)-[r:EXPORTS]->(b)
SET r += $props
RETURN count(r) AS created`,
}

func (s *Store) CreateRelationship(ctx context.Context, edge graphstore.Edge) error {
	query, ok := relationshipQueries[edge.Type]
	if !ok {
		return fmt.Errorf("%w: %q", graphstore.ErrUnsupportedRelationship, edge.Type)
	}
	props := edge.Properties
	if props == nil {
		props = map[string]any{}
	}
	res, err := s.write(ctx, query, map[string]any{"source": edge.Source, "target": edge.Target, "props": props})
	if err != nil {
		return err
	}
	if countOf(res, "created") == 0 {
		return fmt.Errorf("%w: %s -> %s", graphstore.ErrNodeNotFound, edge.Source, edge.Target)
	}
	return nil
}

const createImportsQuery = `
UNWIND $edges AS e
MATCH (a:File {id: e.source}), (b:File {id: e.target})
WHERE a.repositoryId = b.repositoryId
MERGE (a)-[r:IMPORTS]->(b)
SET r.specifiers = e.specifiers
RETURN count(r) AS created`

func (s *Store) CreateImportRelationships(ctx context.Context, edges []graphstore.ImportEdge) (int, error) {
	if len(edges) == 0 {
		return 0, nil
	}
	res, err := s.write(ctx, createImportsQuery, map[string]any{"edges": importParams(edges)})
	if err != nil {
		return 0, err
	}
	return countOf(res, "created"), nil
}

func importParams(edges []graphstore.ImportEdge) []any {
	rows := make([]any, 0, len(edges))
	for _, e := range edges {
		specs := make([]any, 0, len(e.Specifiers))
		for _, sp := range e.Specifiers {
			specs = append(specs, sp)
		}
		rows = append(rows, map[string]any{
			"source":     e.SourceFileID,
			"target":     e.TargetFileID,
			"specifiers": specs,
		})
	}
	return rows
}

const deleteRepositoryQuery = `
MATCH (n)
WHERE (n:File OR n:Function OR n:Class OR n:Interface) AND n.repositoryId = $repositoryId
DETACH DELETE n`

func (s *Store) DeleteRepository(ctx context.Context, repositoryID int64) error {
	_, err := s.write(ctx, deleteRepositoryQuery, map[string]any{"repositoryId": repositoryID})
	return err
}

// 实体与导入分别用模式推导收集，避免两者做笛卡尔积
const repositoryFilesQuery = `
MATCH (f:File {repositoryId: $repositoryId})
WHERE $fileType IS NULL OR f.fileType = $fileType
WITH f ORDER BY f.path SKIP $offset LIMIT $limit
RETURN f {.*} AS file,
       [(f)-[:CONTAINS]->(e) | e {.*, label: head(labels(e))}] AS entities,
       [(f)-[i:IMPORTS]->(t:File) | {target: t.id, specifiers: i.specifiers}] AS imports
ORDER BY f.path`

func (s *Store) RepositoryFiles(ctx context.Context, repositoryID int64, q graphstore.FileQuery) ([]graphstore.FileSubgraph, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = noLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	var fileType any
	if q.FileType != "" {
		fileType = q.FileType
	}

	res, err := s.read(ctx, repositoryFilesQuery, map[string]any{
		"repositoryId": repositoryID,
		"fileType":     fileType,
		"offset":       int64(offset),
		"limit":        int64(limit),
	})
	if err != nil {
		return nil, err
	}

	out := make([]graphstore.FileSubgraph, 0, len(res.Records))
	for _, rec := range res.Records {
		sg, err := subgraphFromRecord(rec, true)
		if err != nil {
			return nil, err
		}
		out = append(out, sg)
	}
	return out, nil
}

// hops 深度只来自校验过的整数
func hops(depth int) (string, error) {
	if depth == graphstore.UnboundedDepth {
		return "*1..", nil
	}
	if depth < 1 {
		return "", fmt.Errorf("invalid traversal depth %d", depth)
	}
	return "*1.." + strconv.Itoa(depth), nil
}

func pathPattern(dir graphstore.Direction, depth int, end string) (string, error) {
	h, err := hops(depth)
	if err != nil {
		return "", err
	}
	if dir == graphstore.Incoming {
		return fmt.Sprintf("(start)<-[:IMPORTS%s]-(%s:File)", h, end), nil
	}
	return fmt.Sprintf("(start)-[:IMPORTS%s]->(%s:File)", h, end), nil
}

func reachableFilesQuery(dir graphstore.Direction, depth int) (string, error) {
	pattern, err := pathPattern(dir, depth, "f")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`
MATCH (start:File {id: $fileId})
MATCH %s
WHERE f <> start
WITH DISTINCT f
RETURN f {.*} AS file,
       [(f)-[:CONTAINS]->(e) | e {.*, label: head(labels(e))}] AS entities
ORDER BY f.path`, pattern), nil
}

func reachableEdgesQuery(dir graphstore.Direction, depth int) (string, error) {
	pattern, err := pathPattern(dir, depth, "")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`
MATCH (start:File {id: $fileId})
MATCH p = %s
UNWIND relationships(p) AS r
WITH DISTINCT r
RETURN startNode(r).id AS source, endNode(r).id AS target, r.specifiers AS specifiers`, pattern), nil
}

const fileExistsQuery = `MATCH (f:File {id: $fileId}) RETURN count(f) AS found`

func (s *Store) ensureFile(ctx context.Context, fileID string) error {
	res, err := s.read(ctx, fileExistsQuery, map[string]any{"fileId": fileID})
	if err != nil {
		return err
	}
	if countOf(res, "found") == 0 {
		return fmt.Errorf("%w: %s", graphstore.ErrNodeNotFound, fileID)
	}
	return nil
}

func (s *Store) ReachableFiles(ctx context.Context, fileID string, dir graphstore.Direction, depth int) ([]graphstore.FileSubgraph, error) {
	query, err := reachableFilesQuery(dir, depth)
	if err != nil {
		return nil, err
	}
	if err := s.ensureFile(ctx, fileID); err != nil {
		return nil, err
	}
	res, err := s.read(ctx, query, map[string]any{"fileId": fileID})
	if err != nil {
		return nil, err
	}

	out := make([]graphstore.FileSubgraph, 0, len(res.Records))
	for _, rec := range res.Records {
		sg, err := subgraphFromRecord(rec, false)
		if err != nil {
			return nil, err
		}
		out = append(out, sg)
	}
	return out, nil
}

func (s *Store) ReachableEdges(ctx context.Context, fileID string, dir graphstore.Direction, depth int) ([]graphstore.Edge, error) {
	query, err := reachableEdgesQuery(dir, depth)
	if err != nil {
		return nil, err
	}
	if err := s.ensureFile(ctx, fileID); err != nil {
		return nil, err
	}
	res, err := s.read(ctx, query, map[string]any{"fileId": fileID})
	if err != nil {
		return nil, err
	}

	edges := make([]graphstore.Edge, 0, len(res.Records))
	for _, rec := range res.Records {
		source, _, err := neo4j.GetRecordValue[string](rec, "source")
		if err != nil {
			return nil, err
		}
		target, _, err := neo4j.GetRecordValue[string](rec, "target")
		if err != nil {
			return nil, err
		}
		specs, _ := rec.Get("specifiers")
		edges = append(edges, importEdge(source, target, specs))
	}
	return edges, nil
}

const findCyclesQuery = `
MATCH p = (f:File {repositoryId: $repositoryId})-[:IMPORTS*1..10]->(f)
RETURN [n IN nodes(p) | n.id] AS ids, [n IN nodes(p) | n.path] AS paths
ORDER BY length(p)
LIMIT $scan`

// FindCycles 先按路径长度排序再截断，保证短环不会被长环挤出扫描窗口
func (s *Store) FindCycles(ctx context.Context, repositoryID int64, limit int) ([]graphstore.Cycle, error) {
	res, err := s.read(ctx, findCyclesQuery, map[string]any{
		"repositoryId": repositoryID,
		"scan":         int64(maxScannedCycles),
	})
	if err != nil {
		return nil, err
	}

	cycles := make([]graphstore.Cycle, 0, len(res.Records))
	for _, rec := range res.Records {
		ids, _, err := neo4j.GetRecordValue[[]any](rec, "ids")
		if err != nil {
			return nil, err
		}
		paths, _, err := neo4j.GetRecordValue[[]any](rec, "paths")
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, graphstore.Cycle{NodeIDs: toStrings(ids), Paths: toStrings(paths)})
	}
	if len(res.Records) >= maxScannedCycles {
		log.Printf("Neo4jStore: cycle scan for repository %d hit cap %d, results truncated", repositoryID, maxScannedCycles)
	}
	return graphstore.NormalizeCycles(cycles, limit), nil
}

func subgraphFromRecord(rec *neo4j.Record, withImports bool) (graphstore.FileSubgraph, error) {
	var sg graphstore.FileSubgraph

	file, _, err := neo4j.GetRecordValue[map[string]any](rec, "file")
	if err != nil {
		return sg, err
	}
	sg.File = fileFromMap(file)

	entities, _, err := neo4j.GetRecordValue[[]any](rec, "entities")
	if err != nil {
		return sg, err
	}
	for _, raw := range entities {
		if m, ok := raw.(map[string]any); ok {
			sg.Entities = append(sg.Entities, entityFromMap(m))
		}
	}

	if withImports {
		imports, _, err := neo4j.GetRecordValue[[]any](rec, "imports")
		if err != nil {
			return sg, err
		}
		for _, raw := range imports {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			target := str(m, "target")
			if target == "" {
				continue
			}
			sg.Imports = append(sg.Imports, importEdge(sg.File.ID, target, m["specifiers"]))
		}
	}
	return sg, nil
}

func importEdge(source, target string, specifiers any) graphstore.Edge {
	edge := graphstore.Edge{Source: source, Target: target, Type: graphstore.RelImports}
	if specs, ok := specifiers.([]any); ok {
		edge.Properties = map[string]any{"specifiers": specs}
	}
	return edge
}

func fileFromMap(m map[string]any) graphstore.FileNode {
	return graphstore.FileNode{
		ID:           str(m, "id"),
		RepositoryID: integer(m, "repositoryId"),
		Path:         str(m, "path"),
		Name:         str(m, "name"),
		FileType:     str(m, "fileType"),
		LinesOfCode:  int(integer(m, "linesOfCode")),
	}
}

func entityFromMap(m map[string]any) graphstore.EntityNode {
	exported, _ := m["exported"].(bool)
	return graphstore.EntityNode{
		ID:           str(m, "id"),
		RepositoryID: integer(m, "repositoryId"),
		Label:        str(m, "label"),
		Name:         str(m, "name"),
		FilePath:     str(m, "filePath"),
		StartLine:    int(integer(m, "startLine")),
		EndLine:      int(integer(m, "endLine")),
		Exported:     exported,
	}
}

func str(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func integer(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func toStrings(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		s, _ := v.(string)
		out = append(out, s)
	}
	return out
}

func countOf(res *neo4j.EagerResult, key string) int {
	if res == nil || len(res.Records) == 0 {
		return 0
	}
	n, _, err := neo4j.GetRecordValue[int64](res.Records[0], key)
	if err != nil {
		return 0
	}
	return int(n)
}

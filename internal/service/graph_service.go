package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qs3c/anal_graph_server/internal/graphstore"
	"github.com/qs3c/anal_graph_server/internal/model"
	"github.com/qs3c/anal_graph_server/internal/model/dto"
	"github.com/qs3c/anal_graph_server/internal/pkg/metrics"
	"github.com/qs3c/anal_graph_server/internal/repository"
)

var (
	ErrFileNotFound    = errors.New("文件不存在")
	ErrInvalidDepth    = errors.New("深度只能是 1、2、3 或 -1")
	ErrInvalidFileType = errors.New("文件类型不合法")
)

const (
	DefaultPageLimit = 100
	MaxPageLimit     = 500
	// MaxCycles 环检测最多返回的环数
	MaxCycles = 100
)

var fileTypePattern = regexp.MustCompile(`^[a-z0-9]{1,20}$`)

// Page 分页参数
type Page struct {
	Limit  int
	Offset int
}

// Normalize limit 缺省 100，上限 500
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// EdgeID 关系的稳定 ID
func EdgeID(source, relType, target string) string {
	return source + "-" + relType + "-" + target
}

// GraphService 图查询，返回前用关系库数据补全节点
type GraphService struct {
	graph      graphstore.Store
	fileRepo   *repository.FileRepository
	entityRepo *repository.EntityRepository
}

func NewGraphService(graph graphstore.Store, fileRepo *repository.FileRepository, entityRepo *repository.EntityRepository) *GraphService {
	return &GraphService{
		graph:      graph,
		fileRepo:   fileRepo,
		entityRepo: entityRepo,
	}
}

func observe(query string, start time.Time) {
	metrics.GraphQueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
}

// GetRepositoryGraph 按路径分页返回文件、其包含的实体与出向 IMPORTS
func (s *GraphService) GetRepositoryGraph(ctx context.Context, repositoryID int64, page Page) (*dto.GraphResponse, error) {
	defer observe("repository_graph", time.Now())

	page = page.Normalize()
	subgraphs, err := s.graph.RepositoryFiles(ctx, repositoryID, graphstore.FileQuery{Limit: page.Limit, Offset: page.Offset})
	if err != nil {
		return nil, err
	}
	return s.buildGraph(repositoryID, subgraphs, page), nil
}

// GetFilesByType 同 GetRepositoryGraph，额外按文件类型精确过滤
func (s *GraphService) GetFilesByType(ctx context.Context, repositoryID int64, fileType string, page Page) (*dto.GraphResponse, error) {
	defer observe("files_by_type", time.Now())

	fileType = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(fileType), "."))
	if !fileTypePattern.MatchString(fileType) {
		return nil, ErrInvalidFileType
	}

	page = page.Normalize()
	subgraphs, err := s.graph.RepositoryFiles(ctx, repositoryID, graphstore.FileQuery{
		FileType: fileType,
		Limit:    page.Limit,
		Offset:   page.Offset,
	})
	if err != nil {
		return nil, err
	}
	return s.buildGraph(repositoryID, subgraphs, page), nil
}

// GetFileDependencies 沿 IMPORTS 正向遍历
func (s *GraphService) GetFileDependencies(ctx context.Context, fileID string, depth int) (*dto.DependencyResponse, error) {
	defer observe("dependencies", time.Now())
	return s.reachable(ctx, fileID, graphstore.Outgoing, depth)
}

// GetFileDependents 沿 IMPORTS 反向遍历
func (s *GraphService) GetFileDependents(ctx context.Context, fileID string, depth int) (*dto.DependencyResponse, error) {
	defer observe("dependents", time.Now())
	return s.reachable(ctx, fileID, graphstore.Incoming, depth)
}

// reachable 节点与关系分成两个查询并发执行，避免路径展开时实体行被重复
func (s *GraphService) reachable(ctx context.Context, fileID string, dir graphstore.Direction, depth int) (*dto.DependencyResponse, error) {
	if !graphstore.ValidDepth(depth) {
		return nil, ErrInvalidDepth
	}
	repositoryID, ok := repositoryOfNodeID(fileID)
	if !ok {
		return nil, ErrFileNotFound
	}

	var subgraphs []graphstore.FileSubgraph
	var edges []graphstore.Edge
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		subgraphs, err = s.graph.ReachableFiles(gctx, fileID, dir, depth)
		return err
	})
	g.Go(func() error {
		var err error
		edges, err = s.graph.ReachableEdges(gctx, fileID, dir, depth)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, graphstore.ErrNodeNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}

	graph := s.buildGraph(repositoryID, subgraphs, Page{})
	seen := make(map[string]struct{}, len(graph.Edges)+len(edges))
	for _, e := range graph.Edges {
		seen[e.ID] = struct{}{}
	}
	for _, e := range edges {
		edge := convertEdge(e)
		if _, dup := seen[edge.ID]; dup {
			continue
		}
		seen[edge.ID] = struct{}{}
		graph.Edges = append(graph.Edges, edge)
	}

	return &dto.DependencyResponse{
		FileID:    fileID,
		Direction: dir.String(),
		Depth:     depth,
		Nodes:     graph.Nodes,
		Edges:     graph.Edges,
	}, nil
}

// FindCircularDependencies 返回按长度升序的简单环，最多 MaxCycles 个
func (s *GraphService) FindCircularDependencies(ctx context.Context, repositoryID int64) (*dto.CyclesResponse, error) {
	defer observe("cycles", time.Now())

	cycles, err := s.graph.FindCycles(ctx, repositoryID, MaxCycles)
	if err != nil {
		return nil, err
	}
	cycles = graphstore.NormalizeCycles(cycles, MaxCycles)

	items := make([]*dto.CycleItem, 0, len(cycles))
	for _, c := range cycles {
		items = append(items, &dto.CycleItem{
			NodeIDs: c.NodeIDs,
			Paths:   c.Paths,
			Length:  c.Length,
		})
	}
	return &dto.CyclesResponse{Cycles: items, Count: len(items)}, nil
}

func (s *GraphService) buildGraph(repositoryID int64, subgraphs []graphstore.FileSubgraph, page Page) *dto.GraphResponse {
	resp := &dto.GraphResponse{
		Nodes:  []*dto.GraphNode{},
		Edges:  []*dto.GraphEdge{},
		Limit:  page.Limit,
		Offset: page.Offset,
	}

	for _, sg := range subgraphs {
		resp.Nodes = append(resp.Nodes, fileNode(sg.File))
		for _, e := range sg.Entities {
			resp.Nodes = append(resp.Nodes, entityNode(e))
			resp.Edges = append(resp.Edges, convertEdge(graphstore.Edge{
				Source: sg.File.ID,
				Target: e.ID,
				Type:   graphstore.RelContains,
			}))
		}
		for _, e := range sg.Imports {
			resp.Edges = append(resp.Edges, convertEdge(e))
		}
	}

	s.enrich(repositoryID, resp.Nodes)
	return resp
}

func fileNode(f graphstore.FileNode) *dto.GraphNode {
	return &dto.GraphNode{
		ID:          f.ID,
		Label:       graphstore.LabelFile,
		Name:        f.Name,
		Path:        f.Path,
		FileType:    f.FileType,
		LinesOfCode: f.LinesOfCode,
	}
}

func entityNode(e graphstore.EntityNode) *dto.GraphNode {
	return &dto.GraphNode{
		ID:        e.ID,
		Label:     e.Label,
		Name:      e.Name,
		Path:      e.FilePath,
		StartLine: e.StartLine,
		EndLine:   e.EndLine,
		Exported:  e.Exported,
	}
}

func convertEdge(e graphstore.Edge) *dto.GraphEdge {
	edge := &dto.GraphEdge{
		ID:     EdgeID(e.Source, e.Type, e.Target),
		Source: e.Source,
		Target: e.Target,
		Type:   e.Type,
	}
	if len(e.Properties) > 0 {
		edge.Data = e.Properties
	}
	return edge
}

// enrich 用两次查询补全节点元数据：先按跨库键查文件，再按这些文件的行 ID 查实体。失败时保留图中的原始字段
func (s *GraphService) enrich(repositoryID int64, nodes []*dto.GraphNode) {
	if len(nodes) == 0 {
		return
	}

	// 实体节点的所属文件也要查到，才能拿到 file_id
	var fileIDs []string
	fileSeen := make(map[string]struct{})
	addFile := func(id string) {
		if _, ok := fileSeen[id]; !ok {
			fileSeen[id] = struct{}{}
			fileIDs = append(fileIDs, id)
		}
	}
	for _, n := range nodes {
		if n.Label == graphstore.LabelFile {
			addFile(n.ID)
			continue
		}
		addFile(model.FileNodeID(repositoryID, n.Path))
	}

	files, err := s.fileRepo.ListByGraphNodeIDs(fileIDs)
	if err != nil {
		metrics.EnrichmentFallbacks.Inc()
		log.Printf("GraphService: file enrichment for repository %d failed, returning graph fields only: %v", repositoryID, err)
		return
	}
	byFile := make(map[string]*model.RepositoryFile, len(files))
	for _, f := range files {
		byFile[f.GraphNodeID] = f
	}

	var ownerIDs []int64
	ownerSeen := make(map[int64]struct{})
	for _, n := range nodes {
		if n.Label == graphstore.LabelFile {
			continue
		}
		f, ok := byFile[model.FileNodeID(repositoryID, n.Path)]
		if !ok {
			continue
		}
		if _, dup := ownerSeen[f.ID]; !dup {
			ownerSeen[f.ID] = struct{}{}
			ownerIDs = append(ownerIDs, f.ID)
		}
	}

	entities, err := s.entityRepo.ListByFileIDs(ownerIDs)
	if err != nil {
		metrics.EnrichmentFallbacks.Inc()
		log.Printf("GraphService: entity enrichment for repository %d failed, returning graph fields only: %v", repositoryID, err)
		return
	}

	byEntity := make(map[string]*model.CodeEntity, len(entities))
	for _, e := range entities {
		var ann model.EntityAnnotations
		if err := json.Unmarshal(e.Annotations, &ann); err != nil || ann.GraphNodeID == "" {
			log.Printf("GraphService: entity %d has unreadable annotations, skipped: %v", e.ID, err)
			continue
		}
		byEntity[ann.GraphNodeID] = e
	}

	for _, n := range nodes {
		if n.Label == graphstore.LabelFile {
			if f, ok := byFile[n.ID]; ok {
				n.Metadata = &dto.NodeMetadata{
					RecordID:    f.ID,
					AISummary:   f.AISummary,
					Annotations: json.RawMessage(f.Annotations),
				}
			}
			continue
		}
		if e, ok := byEntity[n.ID]; ok {
			n.Metadata = &dto.NodeMetadata{
				RecordID:    e.ID,
				Kind:        e.Kind,
				Annotations: json.RawMessage(e.Annotations),
			}
		}
	}
}

// repositoryOfNodeID 从 file-<repositoryId>-<path> 中取出仓库 ID
func repositoryOfNodeID(fileID string) (int64, bool) {
	rest, ok := strings.CutPrefix(fileID, "file-")
	if !ok {
		return 0, false
	}
	idPart, path, ok := strings.Cut(rest, "-")
	if !ok || path == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	if model.FileNodeID(id, path) != fileID {
		return 0, false
	}
	return id, true
}

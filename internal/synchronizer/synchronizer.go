// Package synchronizer 将分析结果同时写入关系库与图存储
package synchronizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path"
	"sort"

	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/qs3c/anal_graph_server/internal/analyzer"
	"github.com/qs3c/anal_graph_server/internal/graphstore"
	"github.com/qs3c/anal_graph_server/internal/model"
	"github.com/qs3c/anal_graph_server/internal/pkg/metrics"
	"github.com/qs3c/anal_graph_server/internal/repository"
	"github.com/qs3c/anal_graph_server/internal/resolver"
)

const defaultEntityConcurrency = 8

type Synchronizer struct {
	files             *repository.FileRepository
	entities          *repository.EntityRepository
	graph             graphstore.Store
	entityConcurrency int
}

func New(files *repository.FileRepository, entities *repository.EntityRepository, graph graphstore.Store, entityConcurrency int) *Synchronizer {
	if entityConcurrency <= 0 {
		entityConcurrency = defaultEntityConcurrency
	}
	return &Synchronizer{
		files:             files,
		entities:          entities,
		graph:             graph,
		entityConcurrency: entityConcurrency,
	}
}

// BatchResult 单批次写入结果
type BatchResult struct {
	// Candidates 拿到分析内容的文件数
	Candidates int
	// Persisted 成功写入关系库的文件数
	Persisted   int
	FailedFiles []string
	// GraphErr 图存储文件节点写入失败，不影响任务
	GraphErr error
}

// fileSpec 一个文件在两个存储中的表示
type fileSpec struct {
	row      *model.RepositoryFile
	node     graphstore.FileNode
	entities []*model.CodeEntity
	nodes    []graphstore.EntityNode
}

// ResetRepository 删除仓库上一次分析在两个存储中的全部数据
func (s *Synchronizer) ResetRepository(ctx context.Context, repositoryID int64) error {
	deleted, err := s.files.DeleteByRepositoryID(repositoryID)
	if err != nil {
		return fmt.Errorf("delete repository files: %w", err)
	}
	if err := s.graph.DeleteRepository(ctx, repositoryID); err != nil {
		return fmt.Errorf("delete repository graph: %w", err)
	}
	log.Printf("Sync: repository %d reset, %d previous files removed", repositoryID, deleted)
	return nil
}

// StoreBatch 写入一个批次。单个文件或实体的写入失败只记录日志，不中断批次
func (s *Synchronizer) StoreBatch(ctx context.Context, jobID, repositoryID int64, files []analyzer.FileResult) (*BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var specs []*fileSpec
	for i := range files {
		if files[i].Analysis == nil {
			continue
		}
		specs = append(specs, buildFileSpec(repositoryID, &files[i]))
	}
	result := &BatchResult{Candidates: len(specs)}
	if len(specs) == 0 {
		return result, nil
	}

	// 关系库：逐个文件写入
	for _, spec := range specs {
		if err := s.files.Create(spec.row); err != nil {
			log.Printf("Job %d: persist file %s failed: %v", jobID, spec.row.FilePath, err)
			metrics.StoreWriteFailures.WithLabelValues(metrics.StoreRelational, "file").Inc()
			result.FailedFiles = append(result.FailedFiles, spec.row.FilePath)
			continue
		}
		result.Persisted++
		metrics.FilesPersisted.Inc()

		for _, e := range spec.entities {
			e.FileID = spec.row.ID
		}
		if err := s.entities.BulkCreate(spec.entities); err != nil {
			log.Printf("Job %d: persist %d entities of %s failed: %v", jobID, len(spec.entities), spec.row.FilePath, err)
			metrics.StoreWriteFailures.WithLabelValues(metrics.StoreRelational, "entity").Inc()
		}
	}

	// 图存储：先批量建文件节点，再并发建实体节点
	nodes := make([]graphstore.FileNode, 0, len(specs))
	for _, spec := range specs {
		nodes = append(nodes, spec.node)
	}
	if err := s.graph.CreateFileNodes(ctx, nodes); err != nil {
		log.Printf("Job %d: create %d file nodes failed: %v", jobID, len(nodes), err)
		metrics.StoreWriteFailures.WithLabelValues(metrics.StoreGraph, "file").Inc()
		result.GraphErr = err
		return result, nil
	}

	var g errgroup.Group
	g.SetLimit(s.entityConcurrency)
	for _, spec := range specs {
		if len(spec.nodes) == 0 {
			continue
		}
		spec := spec
		g.Go(func() error {
			if err := s.graph.CreateEntityNodes(ctx, spec.node.ID, spec.nodes); err != nil {
				log.Printf("Job %d: create entity nodes for %s failed: %v", jobID, spec.node.Path, err)
				metrics.StoreWriteFailures.WithLabelValues(metrics.StoreGraph, "entity").Inc()
			}
			return nil
		})
	}
	_ = g.Wait()

	return result, nil
}

func buildFileSpec(repositoryID int64, f *analyzer.FileResult) *fileSpec {
	a := f.Analysis
	filePath := f.Path()

	fileName := a.FileName
	if fileName == "" {
		fileName = path.Base(filePath)
	}
	fileType := a.FileType
	if fileType == "" {
		fileType = model.FileTypeOf(filePath)
	}
	nodeID := model.FileNodeID(repositoryID, filePath)

	spec := &fileSpec{
		row: &model.RepositoryFile{
			RepositoryID: repositoryID,
			FilePath:     filePath,
			FileName:     fileName,
			FileType:     fileType,
			LinesOfCode:  a.Lines,
			GraphNodeID:  nodeID,
			Annotations:  fileAnnotations(a),
		},
		node: graphstore.FileNode{
			ID:           nodeID,
			RepositoryID: repositoryID,
			Path:         filePath,
			Name:         fileName,
			FileType:     fileType,
			LinesOfCode:  a.Lines,
		},
	}

	exported := make(map[string]struct{}, len(a.Exports))
	for _, name := range a.Exports {
		exported[name] = struct{}{}
	}

	seen := make(map[string]struct{}, len(a.Entities))
	for _, e := range a.Entities {
		if e.Name == "" {
			continue
		}
		// 同名实体只保留第一个，保证跨库键唯一
		if _, dup := seen[e.Name]; dup {
			continue
		}
		seen[e.Name] = struct{}{}

		start, end := NormalizeLines(e.StartLine, e.EndLine, a.Lines)
		entityID := model.EntityNodeID(repositoryID, filePath, e.Name)
		_, isExported := exported[e.Name]

		ann, _ := json.Marshal(model.EntityAnnotations{GraphNodeID: entityID, Exported: isExported})
		spec.entities = append(spec.entities, &model.CodeEntity{
			Name:        e.Name,
			Kind:        e.Type,
			StartLine:   start,
			EndLine:     end,
			Annotations: datatypes.JSON(ann),
		})

		label, err := graphstore.EntityLabel(e.Type)
		if err != nil {
			continue
		}
		spec.nodes = append(spec.nodes, graphstore.EntityNode{
			ID:           entityID,
			RepositoryID: repositoryID,
			Label:        label,
			Name:         e.Name,
			FilePath:     filePath,
			StartLine:    start,
			EndLine:      end,
			Exported:     isExported,
		})
	}
	return spec
}

func fileAnnotations(a *analyzer.FileAnalysis) datatypes.JSON {
	ann := model.FileAnnotations{
		Imports: make([]model.ImportAnnotation, 0, len(a.Imports)),
		Exports: a.Exports,
	}
	if ann.Exports == nil {
		ann.Exports = []string{}
	}
	for _, imp := range a.Imports {
		ann.Imports = append(ann.Imports, model.ImportAnnotation{
			Source:     imp.Source,
			Specifiers: imp.Specifiers,
			IsExternal: imp.IsExternal,
		})
	}
	b, _ := json.Marshal(ann)
	return datatypes.JSON(b)
}

// NormalizeLines 保证 1 <= start <= end，且 lines 已知时 end <= lines
func NormalizeLines(start, end, lines int) (int, int) {
	if start < 1 {
		start = 1
	}
	if end < start {
		end = start
	}
	if lines > 0 && end > lines {
		end = lines
		if start > end {
			start = end
		}
	}
	return start, end
}

// CreateImportRelationships 在所有批次完成后解析 import 并批量创建 IMPORTS 关系
func (s *Synchronizer) CreateImportRelationships(ctx context.Context, jobID, repositoryID int64, files []analyzer.FileResult) (int, error) {
	edges := BuildImportEdges(repositoryID, files)
	if len(edges) == 0 {
		log.Printf("Job %d: no import relationships to create", jobID)
		return 0, nil
	}

	created, err := s.graph.CreateImportRelationships(ctx, edges)
	if err != nil {
		metrics.StoreWriteFailures.WithLabelValues(metrics.StoreGraph, "imports").Inc()
		return 0, fmt.Errorf("create import relationships: %w", err)
	}
	log.Printf("Job %d: created %d of %d import relationships", jobID, created, len(edges))
	return created, nil
}

// BuildImportEdges 解析所有仓库内 import，同一对文件的多条 import 合并为一条关系
func BuildImportEdges(repositoryID int64, files []analyzer.FileResult) []graphstore.ImportEdge {
	index := resolver.NewPathIndex()
	for i := range files {
		if files[i].Analysis != nil {
			index.Add(files[i].Path())
		}
	}

	byKey := make(map[string]*graphstore.ImportEdge)
	for i := range files {
		f := &files[i]
		if f.Analysis == nil {
			continue
		}
		src := f.Path()
		for _, imp := range f.Analysis.Imports {
			if imp.IsExternal {
				continue
			}
			target, ok := resolver.Resolve(imp.Source, src, index)
			if !ok || target == src {
				continue
			}

			sourceID := model.FileNodeID(repositoryID, src)
			targetID := model.FileNodeID(repositoryID, target)
			key := sourceID + "\x00" + targetID
			edge, ok := byKey[key]
			if !ok {
				edge = &graphstore.ImportEdge{SourceFileID: sourceID, TargetFileID: targetID, Specifiers: []string{}}
				byKey[key] = edge
			}
			edge.Specifiers = mergeSpecifiers(edge.Specifiers, imp.Specifiers)
		}
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	edges := make([]graphstore.ImportEdge, 0, len(keys))
	for _, k := range keys {
		edges = append(edges, *byKey[k])
	}
	return edges
}

func mergeSpecifiers(existing, more []string) []string {
	for _, s := range more {
		found := false
		for _, e := range existing {
			if e == s {
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, s)
		}
	}
	return existing
}

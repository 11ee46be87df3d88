// Package metrics 进程级 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsFinished 按终态统计分析任务
	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anal_graph_jobs_finished_total",
		Help: "Analysis jobs that reached a terminal status",
	}, []string{"status"})

	// BatchFetches 按结果统计分析工具调用
	BatchFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anal_graph_batch_fetches_total",
		Help: "Analysis tool batch invocations by result",
	}, []string{"result"})

	// StoreWriteFailures 被吞掉的存储写入失败
	StoreWriteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anal_graph_store_write_failures_total",
		Help: "Store write failures that were logged and skipped",
	}, []string{"store", "operation"})

	// FilesPersisted 写入关系库的文件数
	FilesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anal_graph_files_persisted_total",
		Help: "Repository files persisted to the relational store",
	})

	// GraphQueryDuration 图查询耗时
	GraphQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "anal_graph_query_duration_seconds",
		Help:    "Graph query engine latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"query"})

	// EnrichmentFallbacks 元数据补全失败后退化为图原生字段的次数
	EnrichmentFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anal_graph_enrichment_fallbacks_total",
		Help: "Graph responses returned without relational enrichment",
	})
)

const (
	StoreRelational = "relational"
	StoreGraph      = "graph"
)

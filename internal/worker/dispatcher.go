package worker

import (
	"context"
	"log"

	"github.com/qs3c/anal_graph_server/internal/pkg/queue"
)

// InlineDispatcher 在当前进程内以 goroutine 运行任务，调用方不等待任务结束
type InlineDispatcher struct {
	processor *Processor
	ctx       context.Context
}

// NewInlineDispatcher ctx 控制后台任务的生命周期，与触发请求无关
func NewInlineDispatcher(ctx context.Context, processor *Processor) *InlineDispatcher {
	return &InlineDispatcher{processor: processor, ctx: ctx}
}

func (d *InlineDispatcher) Dispatch(_ context.Context, msg *queue.JobMessage) error {
	go func() {
		if err := d.processor.Process(d.ctx, msg); err != nil {
			log.Printf("Job %d: inline run ended with error: %v", msg.JobID, err)
		}
	}()
	return nil
}

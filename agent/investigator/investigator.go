package investigator

import (
	"context"
	"fmt"

	"github.com/HildaM/logs/slog"

	"github.com/hildam/deerflow/agent/comm"
	"github.com/hildam/deerflow/entity/consts"
	"github.com/hildam/deerflow/entity/model"
	"github.com/hildam/deerflow/repo/search"
)

// investigatorImpl 背景调查者
type investigatorImpl struct {
	deps *comm.Deps
}

// NewInvestigator 创建实例
func NewInvestigator(deps *comm.Deps) *investigatorImpl {
	return &investigatorImpl{deps: deps}
}

// Stage 阶段名称
func (i *investigatorImpl) Stage() consts.Stage {
	return consts.BackgroundInvestigator
}

// Run 使用最后一条消息作为查询进行搜索，结果保存为背景调研信息，供 Planner 使用
func (i *investigatorImpl) Run(ctx context.Context, in *model.Input) (*model.Command, error) {
	last := in.State.LastMessage()
	if last == nil {
		return nil, fmt.Errorf("background investigation has no message to search")
	}

	results, err := i.deps.Searcher.Search(ctx, last.Content, in.Config.MaxSearchResults)
	if err != nil {
		slog.Error("investigator failed, search err = %+v, query = %s", err, last.Content)
		return nil, fmt.Errorf("background investigation search failed: %w", err)
	}
	slog.Debug("investigator debug, query = %s, results = %d", last.Content, len(results))

	return model.Continue(&model.Update{
		BackgroundInvestigationResults: model.Ptr(search.Brief(results)),
	}, consts.Planner), nil
}

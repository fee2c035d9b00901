package pipeline

import (
	"fmt"
	"slices"

	"nutflow/pkg/engine"
	"nutflow/pkg/errs"
	"nutflow/pkg/nut"
	"nutflow/pkg/transform"
)

// 阶段名称
const (
	StageCache     = "cache"
	StageCompress  = "compress"
	StageAggregate = "aggregate"
)

// DefaultStages 是未指定阶段时使用的完整 Chain
var DefaultStages = []string{StageCache, StageCompress, StageAggregate}

// TransformerSpec 按名称引用一个注册过的 Transformer
type TransformerSpec struct {
	Name   string
	Params transform.Params
}

// WorkflowSpec 是一个工作流的声明式描述
type WorkflowSpec struct {
	ID     string
	HeapID string

	// Stages 可以省略任意阶段，但必须保持 cache → compress → aggregate 的相对顺序
	Stages []string

	// Compressor 默认 gzip
	Compressor TransformerSpec

	// 以下只对 aggregate 阶段生效
	OutputName   string
	Transformers []TransformerSpec
	Charset      string
	ProxyURI     string
}

// Workflow 是编译好的工作流
type Workflow struct {
	ID     string
	HeapID string
	Chain  *engine.Chain
}

type compileEnv struct {
	cache        *engine.Cache
	transforms   *transform.Registry
	aggregators  map[nut.Category]engine.Aggregator
	concurrency  int
	cacheEnabled bool
}

func (env *compileEnv) compile(spec WorkflowSpec) (*Workflow, error) {
	stages := spec.Stages
	if len(stages) == 0 {
		stages = DefaultStages
	}
	for i, s := range stages {
		if !slices.Contains(DefaultStages, s) {
			return nil, errs.Configuration(spec.ID, fmt.Errorf("unknown stage %q", s))
		}
		if slices.Contains(stages[:i], s) {
			return nil, errs.Configuration(spec.ID, fmt.Errorf("stage %q listed twice", s))
		}
	}

	var engines []engine.Engine
	for _, s := range stages {
		switch s {
		case StageCache:
			if !env.cacheEnabled {
				continue
			}
			engines = append(engines, env.cache)
		case StageCompress:
			c := spec.Compressor
			if c.Name == "" {
				c.Name = "gzip"
			}
			t, err := env.transforms.Build(c.Name, c.Params)
			if err != nil {
				return nil, errs.WithWorkflow(err, spec.ID, "")
			}
			engines = append(engines, engine.NewCompress(t))
		case StageAggregate:
			ts := make([]nut.Transformer, 0, len(spec.Transformers))
			for _, ref := range spec.Transformers {
				t, err := env.transforms.Build(ref.Name, ref.Params)
				if err != nil {
					return nil, errs.WithWorkflow(err, spec.ID, "")
				}
				ts = append(ts, t)
			}
			engines = append(engines, engine.NewAggregate(engine.AggregateOptions{
				OutputName:   spec.OutputName,
				Transformers: ts,
				Charset:      spec.Charset,
				Concurrency:  env.concurrency,
				ProxyURI:     spec.ProxyURI,
				Aggregators:  env.aggregators,
			}))
		}
	}

	chain, err := engine.NewChain(engines...)
	if err != nil {
		return nil, errs.WithWorkflow(err, spec.ID, "")
	}
	return &Workflow{ID: spec.ID, HeapID: spec.HeapID, Chain: chain}, nil
}

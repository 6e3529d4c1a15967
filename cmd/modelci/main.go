package main

import (
	"log/slog"

	"github.com/modelci/modelci/internal/config"
	"github.com/modelci/modelci/internal/flows"
	"github.com/modelci/modelci/internal/forge"
	"github.com/modelci/modelci/internal/pipeline"
	"github.com/modelci/modelci/pkg/modelci"
	"github.com/modelci/modelci/pkg/modelci/core"
)

func main() {

	modelci.SetupLogger()

	loader := pipeline.NewLoader()
	defs := &flows.DirSource{
		Loader: loader,
		Dir:    config.GetSystemSettingString(config.PIPELINE_DIR),
	}
	forgeClient := forge.NewClient(
		config.GetSystemSettingString(config.FORGE_BASE_URL),
		config.GetSystemSettingString(config.FORGE_API_TOKEN),
		config.GetSystemSettingString(config.FORGE_REPO),
	)

	buildRegistry := func(deps modelci.Deps) map[string]func() core.Flow {
		return map[string]func() core.Flow{
			flows.FlowTypePipeline: func() core.Flow {
				return &flows.PipelineFlow{Defs: defs, Runs: deps.Runs, Canceller: deps.Manager}
			},
			flows.FlowTypeJob: func() core.Flow {
				return &flows.JobFlow{Clock: deps.Clock, Defs: defs, Actions: deps.Actions, Steps: &flows.ExecStepRunner{}}
			},
			flows.FlowTypeStaleSweep: func() core.Flow {
				return &flows.StaleSweepFlow{Clock: deps.Clock, Defs: defs, Forge: forgeClient}
			},
		}
	}

	if err := modelci.Start(nil, loader, buildRegistry); err != nil {
		slog.Error("Engine exited with error", "error", err)
	}
}

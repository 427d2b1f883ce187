// Package pipewright orchestrates LLM agents through a development pipeline.
//
// A work item (feature, bug, or task) moves through a sequence of pipeline
// statuses — backlog, product design, tech design, implementation, PR review,
// final review, done — with an independent review sub-cycle inside each
// status. The repository is organized as a root domain package plus concern
// subpackages:
//
//   - root: work item model, item store adapters, issue/PR gateway,
//     comment marker parsers, the workflow transition service, and the
//     agent run orchestrator
//   - config: hierarchical configuration resolution (env, local, global)
//   - git: git CLI operations and per-branch worktrees for agent runs
//   - http: retrying HTTP client for integration services
//   - prompt: prompt template loading for agent runs
//   - task: workflow-kind based model selection
//   - testutil: test utilities and fixtures
//
// # Quick Start
//
//	gw, _ := pipewright.NewGitHubGateway(token, "acme", "product")
//	store, _ := pipewright.NewLocalStore("pipewright.db")
//	wf := pipewright.NewWorkflow(&pipewright.Services{
//	    Store:     store,
//	    Gateway:   gw,
//	    Artifacts: pipewright.NewFileArtifactStore(".pipewright"),
//	})
//
//	res, err := wf.AdvanceStatus(ctx, 421, pipewright.StatusTechDesign, pipewright.AdvanceOptions{})
//
// See individual files for detailed usage.
package pipewright

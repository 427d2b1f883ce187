// Package task provides task-based model selection for agent runs.
//
// Core types:
//   - Type: kind of work a run performs (design, implement, review, ...)
//   - Selector: picks a model based on the task's tier
//
// Design phases run on the thinking tier, implementation and review on the
// default tier, and summarization on the fast tier.
//
// Example usage:
//
//	model := task.SelectModel(task.TechDesign)
package task

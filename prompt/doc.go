// Package prompt provides prompt template loading and management.
//
// Core types:
//   - Loader: Loads prompt templates from files or embedded resources
//
// Templates are plain text/template files named <workflow>-<mode>.txt,
// searched first on disk (.pipewright/prompts/, prompts/) and then in the
// embedded defaults.
//
// Example usage:
//
//	loader := prompt.NewLoader(".")
//	body, err := loader.LoadWithVars("tech-design-new", map[string]any{
//	    "IssueNumber": 421,
//	    "Title":       "Add authentication",
//	})
package prompt

package git

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Branch naming scheme for the pipeline. Every branch a run touches is
// derived from the tracker issue number, so names are reconstructible and
// collision-free per issue:
//
//	design/<type>-<issue>       one design PR per design phase
//	impl/issue-<issue>          single-phase implementation
//	impl/issue-<issue>-phase-<k> one head per implementation phase
//	feature/task-<issue>        integration branch phase PRs merge into

// DesignBranch names the head branch of a design PR.
func DesignBranch(designType string, issue int) string {
	return fmt.Sprintf("design/%s-%d", designType, issue)
}

// ImplementationBranch names the head branch of a single-phase
// implementation PR.
func ImplementationBranch(issue int) string {
	return fmt.Sprintf("impl/issue-%d", issue)
}

// PhaseBranch names the head branch of one implementation phase.
func PhaseBranch(issue, phase int) string {
	return fmt.Sprintf("impl/issue-%d-phase-%d", issue, phase)
}

// IntegrationBranch names the long-lived branch per-phase PRs merge into.
func IntegrationBranch(issue int) string {
	return fmt.Sprintf("feature/task-%d", issue)
}

// BranchInfo is the decoded form of a pipeline branch name.
type BranchInfo struct {
	Kind  string // "design", "impl" or "integration"
	Type  string // design type, only for design branches
	Issue int
	Phase int // 0 for unphased branches
}

var (
	designBranchPattern = regexp.MustCompile(`^design/([a-z-]+)-(\d+)$`)
	implBranchPattern   = regexp.MustCompile(`^impl/issue-(\d+)(?:-phase-(\d+))?$`)
	integrationPattern  = regexp.MustCompile(`^feature/task-(\d+)$`)
)

// ParseBranch decodes a branch name generated by this scheme. Returns ok
// false for any branch the pipeline did not create.
func ParseBranch(name string) (BranchInfo, bool) {
	name = strings.TrimPrefix(name, "refs/heads/")

	if m := designBranchPattern.FindStringSubmatch(name); m != nil {
		issue, _ := strconv.Atoi(m[2])
		return BranchInfo{Kind: "design", Type: m[1], Issue: issue}, true
	}
	if m := implBranchPattern.FindStringSubmatch(name); m != nil {
		issue, _ := strconv.Atoi(m[1])
		phase := 0
		if m[2] != "" {
			phase, _ = strconv.Atoi(m[2])
		}
		return BranchInfo{Kind: "impl", Issue: issue, Phase: phase}, true
	}
	if m := integrationPattern.FindStringSubmatch(name); m != nil {
		issue, _ := strconv.Atoi(m[1])
		return BranchInfo{Kind: "integration", Issue: issue}, true
	}
	return BranchInfo{}, false
}

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9-]`)
	slugHyphens = regexp.MustCompile(`-+`)
)

// Slugify lowercases s and reduces it to hyphen-separated alphanumerics,
// for branch segments and worktree directory names.
func Slugify(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "_", "-")
	s = slugInvalid.ReplaceAllString(s, "")
	s = slugHyphens.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

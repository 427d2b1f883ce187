package pipewright

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tormod/pipewright/prompt"
)

// =============================================================================
// fakeStore
// =============================================================================

// fakeStore is an in-memory ItemStore for workflow tests.
type fakeStore struct {
	mu     sync.Mutex
	items  map[string]*WorkItem
	nextID int

	// sourceExists overrides SourceExists; nil means "exists".
	sourceExists func(ref SourceRef) (bool, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: make(map[string]*WorkItem)}
}

// seed installs an item directly, bypassing CreateItem.
func (s *fakeStore) seed(item *WorkItem) *WorkItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == "" {
		s.nextID++
		item.ID = "item-" + strconv.Itoa(s.nextID)
	}
	s.items[item.ID] = item
	return item
}

func (s *fakeStore) get(id string) *WorkItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[id]
}

func (s *fakeStore) ListItems(ctx context.Context, filter ItemFilter) ([]*WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*WorkItem
	for _, item := range s.items {
		if filter.Status != nil && item.Status != *filter.Status {
			continue
		}
		if filter.ReviewStatus != nil && item.ReviewStatus != *filter.ReviewStatus {
			continue
		}
		if filter.Type != nil && item.Type != *filter.Type {
			continue
		}
		out = append(out, item)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) GetItem(ctx context.Context, id string) (*WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	return item, nil
}

func (s *fakeStore) FindByIssue(ctx context.Context, issueNumber int) (*WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.IssueNumber == issueNumber {
			return item, nil
		}
	}
	return nil, ErrItemNotFound
}

func (s *fakeStore) CreateItem(ctx context.Context, item NewItem) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := "item-" + strconv.Itoa(s.nextID)
	s.items[id] = &WorkItem{
		ID:        id,
		Title:     item.Title,
		Type:      item.Type,
		Labels:    item.Labels,
		SourceRef: item.SourceRef,
		Status:    StatusBacklog,
		CreatedAt: time.Now(),
	}
	return id, nil
}

func (s *fakeStore) DeleteItem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrItemNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *fakeStore) SetIssueRef(ctx context.Context, id string, issueNumber int, issueURL string) error {
	return s.update(id, func(item *WorkItem) {
		item.IssueNumber = issueNumber
		item.IssueURL = issueURL
	})
}

func (s *fakeStore) UpdateItemStatus(ctx context.Context, id string, status Status) error {
	return s.update(id, func(item *WorkItem) { item.Status = status })
}

func (s *fakeStore) UpdateItemReviewStatus(ctx context.Context, id string, rs ReviewStatus) error {
	return s.update(id, func(item *WorkItem) { item.ReviewStatus = rs })
}

func (s *fakeStore) ClearItemReviewStatus(ctx context.Context, id string) error {
	return s.update(id, func(item *WorkItem) { item.ReviewStatus = ReviewNone })
}

func (s *fakeStore) ImplementationPhase(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return "", ErrItemNotFound
	}
	return item.ImplementationPhase, nil
}

func (s *fakeStore) SetImplementationPhase(ctx context.Context, id string, phase string) error {
	return s.update(id, func(item *WorkItem) { item.ImplementationPhase = phase })
}

func (s *fakeStore) ClearImplementationPhase(ctx context.Context, id string) error {
	return s.update(id, func(item *WorkItem) { item.ImplementationPhase = "" })
}

func (s *fakeStore) UpdateArtifacts(ctx context.Context, id string, mutate func(*ItemArtifacts)) error {
	return s.update(id, func(item *WorkItem) { mutate(&item.Artifacts) })
}

func (s *fakeStore) SourceExists(ctx context.Context, ref SourceRef) (bool, error) {
	if s.sourceExists != nil {
		return s.sourceExists(ref)
	}
	return true, nil
}

func (s *fakeStore) update(id string, fn func(*WorkItem)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return ErrItemNotFound
	}
	fn(item)
	item.UpdatedAt = time.Now()
	return nil
}

// =============================================================================
// fakeGateway
// =============================================================================

// fakeGateway is an in-memory Gateway. Behavior hooks allow per-test
// overrides without a second fake.
type fakeGateway struct {
	mu sync.Mutex

	issues    map[int]*Issue
	comments  map[int][]*IssueComment
	prs       map[int]*PullRequest
	branches  map[string]bool
	nextIssue int
	nextPR    int
	nextCmt   int64

	// prForIssue maps issue number to its open PR number.
	prForIssue map[int]int

	// Behavior hooks.
	mergeErr     error
	revertPR     *PullRequest // returned by CreateRevertPR; nil means "cannot construct"
	revertErr    error
	mergeOutcome *MergeOutcome // overrides the default merge result

	// Call records.
	mergedPRs   []int
	createdPRs  []PROptions
	labelCalls  map[int][]string
	deletedRefs []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		issues:     make(map[int]*Issue),
		comments:   make(map[int][]*IssueComment),
		prs:        make(map[int]*PullRequest),
		branches:   map[string]bool{"main": true},
		prForIssue: make(map[int]int),
		labelCalls: make(map[int][]string),
		nextIssue:  100,
		nextPR:     500,
	}
}

func (g *fakeGateway) seedIssue(number int, title string) *Issue {
	g.mu.Lock()
	defer g.mu.Unlock()
	is := &Issue{Number: number, Title: title, State: "open",
		URL: fmt.Sprintf("https://example.test/issues/%d", number)}
	g.issues[number] = is
	return is
}

func (g *fakeGateway) seedPR(pr *PullRequest) *PullRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prs[pr.Number] = pr
	return pr
}

func (g *fakeGateway) commentBodies(issueNumber int) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, c := range g.comments[issueNumber] {
		out = append(out, c.Body)
	}
	return out
}

func (g *fakeGateway) CreateIssue(ctx context.Context, opts IssueOptions) (*Issue, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextIssue++
	is := &Issue{
		Number: g.nextIssue,
		URL:    fmt.Sprintf("https://example.test/issues/%d", g.nextIssue),
		Title:  opts.Title,
		Body:   opts.Body,
		State:  "open",
		Labels: opts.Labels,
	}
	g.issues[is.Number] = is
	return is, nil
}

func (g *fakeGateway) GetIssue(ctx context.Context, number int) (*Issue, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	is, ok := g.issues[number]
	if !ok {
		return nil, ErrIssueNotFound
	}
	return is, nil
}

func (g *fakeGateway) ListIssues(ctx context.Context, labels []string) ([]*Issue, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*Issue
	for _, is := range g.issues {
		if is.State != "open" {
			continue
		}
		if hasAllLabels(is.Labels, labels) {
			out = append(out, is)
		}
	}
	return out, nil
}

func hasAllLabels(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (g *fakeGateway) SetIssueLabels(ctx context.Context, issueNumber int, labels []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	is, ok := g.issues[issueNumber]
	if !ok {
		return ErrIssueNotFound
	}
	is.Labels = labels
	g.labelCalls[issueNumber] = labels
	return nil
}

func (g *fakeGateway) AddIssueComment(ctx context.Context, issueNumber int, body string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextCmt++
	g.comments[issueNumber] = append(g.comments[issueNumber], &IssueComment{
		ID:        g.nextCmt,
		Body:      body,
		CreatedAt: time.Now(),
	})
	return g.nextCmt, nil
}

func (g *fakeGateway) UpdateIssueComment(ctx context.Context, commentID int64, body string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, comments := range g.comments {
		for _, c := range comments {
			if c.ID == commentID {
				c.Body = body
				return nil
			}
		}
	}
	return ErrCommentNotFound
}

func (g *fakeGateway) ListIssueComments(ctx context.Context, issueNumber int) ([]*IssueComment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*IssueComment(nil), g.comments[issueNumber]...), nil
}

func (g *fakeGateway) FindCommentByMarker(ctx context.Context, issueNumber int, marker string) (*IssueComment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.comments[issueNumber] {
		if strings.Contains(c.Body, marker) {
			return c, nil
		}
	}
	return nil, ErrCommentNotFound
}

func (g *fakeGateway) CreatePR(ctx context.Context, opts PROptions) (*PullRequest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextPR++
	base := opts.Base
	if base == "" {
		base = "main"
	}
	pr := &PullRequest{
		Number:    g.nextPR,
		URL:       fmt.Sprintf("https://example.test/pulls/%d", g.nextPR),
		Title:     opts.Title,
		Body:      opts.Body,
		State:     PRStateOpen,
		Draft:     opts.Draft,
		Head:      opts.Head,
		Base:      base,
		CreatedAt: time.Now(),
	}
	g.prs[pr.Number] = pr
	g.createdPRs = append(g.createdPRs, opts)
	return pr, nil
}

func (g *fakeGateway) GetPR(ctx context.Context, number int) (*PullRequest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pr, ok := g.prs[number]
	if !ok {
		return nil, ErrPRNotFound
	}
	return pr, nil
}

func (g *fakeGateway) MergePR(ctx context.Context, number int, opts MergeOptions) (*MergeOutcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mergeErr != nil {
		return nil, g.mergeErr
	}
	g.mergedPRs = append(g.mergedPRs, number)
	if g.mergeOutcome != nil {
		return g.mergeOutcome, nil
	}
	pr, ok := g.prs[number]
	if ok {
		if pr.State == PRStateMerged {
			return &MergeOutcome{SHA: pr.MergedSHA, AlreadyMerged: true}, nil
		}
		pr.State = PRStateMerged
		pr.MergedSHA = fmt.Sprintf("abcdef%d", number)
		return &MergeOutcome{SHA: pr.MergedSHA, CommitTitle: opts.CommitTitle}, nil
	}
	return &MergeOutcome{SHA: fmt.Sprintf("abcdef%d", number), CommitTitle: opts.CommitTitle}, nil
}

func (g *fakeGateway) FindOpenPRForIssue(ctx context.Context, issueNumber int) (*PullRequest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	num, ok := g.prForIssue[issueNumber]
	if !ok {
		return nil, ErrPRNotFound
	}
	pr, ok := g.prs[num]
	if !ok || pr.State != PRStateOpen {
		return nil, ErrPRNotFound
	}
	return pr, nil
}

func (g *fakeGateway) CreateRevertPR(ctx context.Context, prNumber int) (*PullRequest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.revertErr != nil {
		return nil, g.revertErr
	}
	if g.revertPR != nil {
		g.prs[g.revertPR.Number] = g.revertPR
	}
	return g.revertPR, nil
}

func (g *fakeGateway) BranchExists(ctx context.Context, name string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.branches[name], nil
}

func (g *fakeGateway) CreateBranch(ctx context.Context, name, from string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.branches[name] = true
	return nil
}

func (g *fakeGateway) DeleteBranch(ctx context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.branches, name)
	g.deletedRefs = append(g.deletedRefs, name)
	return nil
}

// =============================================================================
// fakeNotifier / fakeRunner / memArtifacts
// =============================================================================

type fakeNotifier struct {
	mu     sync.Mutex
	events []NotificationEvent
	err    error
}

func (n *fakeNotifier) Notify(ctx context.Context, event NotificationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *fakeNotifier) eventTypes() []EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []EventType
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

// fakeRunner returns scripted results in order, then repeats the last one.
type fakeRunner struct {
	mu      sync.Mutex
	results []*AgentResult
	err     error
	calls   []AgentRunOptions
}

func (r *fakeRunner) Run(ctx context.Context, opts AgentRunOptions) (*AgentResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, opts)
	if r.err != nil {
		return nil, r.err
	}
	if len(r.results) == 0 {
		return &AgentResult{Success: true}, nil
	}
	result := r.results[0]
	if len(r.results) > 1 {
		r.results = r.results[1:]
	}
	return result, nil
}

// memArtifacts is an in-memory ArtifactStore.
type memArtifacts struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{data: make(map[string]string)}
}

func (m *memArtifacts) key(issueNumber int, t ArtifactType) string {
	return fmt.Sprintf("%d/%s", issueNumber, t)
}

func (m *memArtifacts) Save(ctx context.Context, issueNumber int, t ArtifactType, content string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(issueNumber, t)
	m.data[k] = content
	return k, nil
}

func (m *memArtifacts) Read(ctx context.Context, issueNumber int, t ArtifactType) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.data[m.key(issueNumber, t)]
	if !ok {
		return "", ErrArtifactNotFound
	}
	return content, nil
}

func (m *memArtifacts) Delete(ctx context.Context, issueNumber int, types ...ArtifactType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(types) == 0 {
		prefix := fmt.Sprintf("%d/", issueNumber)
		for k := range m.data {
			if strings.HasPrefix(k, prefix) {
				delete(m.data, k)
			}
		}
		return nil
	}
	for _, t := range types {
		delete(m.data, m.key(issueNumber, t))
	}
	return nil
}

// =============================================================================
// test harness
// =============================================================================

// testEnv bundles the fakes behind a Services value.
type testEnv struct {
	store    *fakeStore
	gw       *fakeGateway
	arts     *memArtifacts
	notifier *fakeNotifier
	runner   *fakeRunner
	svcs     *Services
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:    newFakeStore(),
		gw:       newFakeGateway(),
		arts:     newMemArtifacts(),
		notifier: &fakeNotifier{},
		runner:   &fakeRunner{},
	}
	env.svcs = &Services{
		Store:     env.store,
		Gateway:   env.gw,
		Artifacts: env.arts,
		Notifier:  env.notifier,
		Runner:    env.runner,
		Prompts:   prompt.NewLoader(""),
	}
	return env
}

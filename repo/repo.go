// Package repo implements the repository registry and the collaboration
// state (issues, pull requests, organizations, teams, webhooks, CI
// results) mutated deterministically by the consensus application on
// block finalization.
package repo

import (
	"sync"

	"github.com/guts-org/guts-node/objstore"
	"github.com/guts-org/guts-node/refstore"
)

// Repository aggregates a name, owner, an object store, and a reference
// store. It is never destroyed once created: DeleteRepository records the
// deletion but does not free storage.
type Repository struct {
	Owner       string
	Name        string
	Description string
	Visibility  string
	Deleted     bool

	Objects objstore.Store
	Refs    *refstore.RefStore

	mu           sync.RWMutex
	nextIssue    uint64
	nextPR       uint64
	Issues       map[uint64]*Issue
	PullRequests map[uint64]*PullRequest
	Webhooks     []*Webhook
	CIResults    []*CIResult
}

// Key returns the registry key "owner/name" for r.
func (r *Repository) Key() string { return r.Owner + "/" + r.Name }

// Issue is the application-level record of a CreateIssue/CloseIssue pair.
type Issue struct {
	Number      uint64
	Title       string
	Description string
	Author      string
	Closed      bool
}

// PullRequest is the application-level record of a CreatePullRequest /
// MergePullRequest pair.
type PullRequest struct {
	Number       uint64
	Title        string
	Description  string
	Author       string
	SourceBranch string
	TargetBranch string
	SourceCommit string
	TargetCommit string
	Merged       bool
	MergeCommit  string
}

// Webhook is a registered (not delivered) webhook subscription.
type Webhook struct {
	URL     string
	Events  []string
	Creator string
}

// CIResult is a single recorded CI job outcome for a commit.
type CIResult struct {
	Commit  string
	JobName string
	Status  string
	Signer  string
}

// Organization groups teams.
type Organization struct {
	Key         string // derived from Name
	Name        string
	DisplayName string
	Creator     string

	mu    sync.RWMutex
	Teams map[string]*Team
}

// Team belongs to exactly one Organization.
type Team struct {
	Name    string
	Members map[string]struct{}
}

// AddIssue inserts a new issue with the next sequential number and returns
// it.
func (r *Repository) AddIssue(title, description, author string) *Issue {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextIssue++
	iss := &Issue{Number: r.nextIssue, Title: title, Description: description, Author: author}
	if r.Issues == nil {
		r.Issues = make(map[uint64]*Issue)
	}
	r.Issues[iss.Number] = iss
	return iss
}

// CloseIssue marks issueNumber closed; reports whether it existed and was
// open.
func (r *Repository) CloseIssue(issueNumber uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	iss, ok := r.Issues[issueNumber]
	if !ok || iss.Closed {
		return false
	}
	iss.Closed = true
	return true
}

// AddPullRequest inserts a new pull request with the next sequential
// number.
func (r *Repository) AddPullRequest(p PullRequest) *PullRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextPR++
	p.Number = r.nextPR
	if r.PullRequests == nil {
		r.PullRequests = make(map[uint64]*PullRequest)
	}
	pr := &p
	r.PullRequests[pr.Number] = pr
	return pr
}

// MergePullRequest marks prNumber merged with mergeCommit; reports whether
// it existed and was open.
func (r *Repository) MergePullRequest(prNumber uint64, mergeCommit string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	pr, ok := r.PullRequests[prNumber]
	if !ok || pr.Merged {
		return false
	}
	pr.Merged = true
	pr.MergeCommit = mergeCommit
	return true
}

// AddWebhook registers a webhook subscription.
func (r *Repository) AddWebhook(w Webhook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Webhooks = append(r.Webhooks, &w)
}

// AddCIResult records a CI job outcome.
func (r *Repository) AddCIResult(c CIResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CIResults = append(r.CIResults, &c)
}

// Issue returns the issue numbered n, if present.
func (r *Repository) Issue(n uint64) (*Issue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	iss, ok := r.Issues[n]
	return iss, ok
}

// PullRequest returns the pull request numbered n, if present.
func (r *Repository) PullRequest(n uint64) (*PullRequest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pr, ok := r.PullRequests[n]
	return pr, ok
}

// Team returns the named team, if present.
func (org *Organization) Team(name string) (*Team, bool) {
	org.mu.RLock()
	defer org.mu.RUnlock()
	t, ok := org.Teams[name]
	return t, ok
}

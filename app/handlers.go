package app

import (
	"encoding/json"
	"fmt"

	"github.com/guts-org/guts-node/events"
	"github.com/guts-org/guts-node/repo"
	"github.com/guts-org/guts-node/txn"
)

func init() {
	register(txn.CreateRepository, handleCreateRepository)
	register(txn.DeleteRepository, handleDeleteRepository)
	register(txn.CreateIssue, handleCreateIssue)
	register(txn.CreatePullRequest, handleCreatePullRequest)
	register(txn.CreateOrganization, handleCreateOrganization)
	register(txn.CreateTeam, handleCreateTeam)
	register(txn.AddTeamMember, handleAddTeamMember)
	register(txn.CreateWebhook, handleCreateWebhook)
	register(txn.MergePullRequest, handleMergePullRequest)
	register(txn.CloseIssue, handleCloseIssue)
	register(txn.RecordCIResult, handleRecordCIResult)
}

func decodePayload[T any](payload json.RawMessage) (*T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("app: decode payload: %w", err)
	}
	return &v, nil
}

func handleCreateRepository(ctx *Context, payload json.RawMessage) error {
	p, err := decodePayload[txn.CreateRepositoryPayload](payload)
	if err != nil {
		return err
	}
	r, err := ctx.Registry.Create(p.Owner, p.Name, p.Description, p.DefaultBranch, p.Visibility)
	if err != nil {
		return err
	}
	ctx.Emitter.EmitEvent("repo", events.KindRepositoryCreated, map[string]any{
		"repo_key": r.Key(), "owner": p.Owner, "name": p.Name,
	})
	return nil
}

func handleDeleteRepository(ctx *Context, payload json.RawMessage) error {
	p, err := decodePayload[txn.DeleteRepositoryPayload](payload)
	if err != nil {
		return err
	}
	if err := ctx.Registry.Delete(p.RepoKey); err != nil {
		return err
	}
	ctx.Emitter.EmitEvent("repo", events.KindRepositoryDeleted, map[string]any{"repo_key": p.RepoKey})
	return nil
}

func handleCreateIssue(ctx *Context, payload json.RawMessage) error {
	p, err := decodePayload[txn.CreateIssuePayload](payload)
	if err != nil {
		return err
	}
	r, err := ctx.Registry.Get(p.RepoKey, false)
	if err != nil {
		return err
	}
	iss := r.AddIssue(p.Title, p.Description, p.Author)
	ctx.Emitter.EmitEvent("repo", events.KindIssueCreated, map[string]any{
		"repo_key": p.RepoKey, "number": iss.Number, "title": iss.Title,
	})
	return nil
}

func handleCreatePullRequest(ctx *Context, payload json.RawMessage) error {
	p, err := decodePayload[txn.CreatePullRequestPayload](payload)
	if err != nil {
		return err
	}
	r, err := ctx.Registry.Get(p.RepoKey, false)
	if err != nil {
		return err
	}
	pr := r.AddPullRequest(repo.PullRequest{
		Title:        p.Title,
		Description:  p.Description,
		Author:       p.Author,
		SourceBranch: p.SourceBranch,
		TargetBranch: p.TargetBranch,
		SourceCommit: p.SourceCommit,
		TargetCommit: p.TargetCommit,
	})
	ctx.Emitter.EmitEvent("repo", events.KindPullRequestOpened, map[string]any{
		"repo_key": p.RepoKey, "number": pr.Number,
	})
	return nil
}

func handleCreateOrganization(ctx *Context, payload json.RawMessage) error {
	p, err := decodePayload[txn.CreateOrganizationPayload](payload)
	if err != nil {
		return err
	}
	org, err := ctx.Registry.CreateOrganization(p.Name, p.DisplayName, ctx.Tx.Signer)
	if err != nil {
		return err
	}
	ctx.Emitter.EmitEvent("org", events.KindOrganizationCreated, map[string]any{"org_key": org.Key})
	return nil
}

func handleCreateTeam(ctx *Context, payload json.RawMessage) error {
	p, err := decodePayload[txn.CreateTeamPayload](payload)
	if err != nil {
		return err
	}
	org, err := ctx.Registry.GetOrganization(p.OrgKey)
	if err != nil {
		return err
	}
	if _, err := org.CreateTeam(p.Name); err != nil {
		return err
	}
	ctx.Emitter.EmitEvent("org", events.KindTeamCreated, map[string]any{"org_key": p.OrgKey, "team": p.Name})
	return nil
}

func handleAddTeamMember(ctx *Context, payload json.RawMessage) error {
	p, err := decodePayload[txn.AddTeamMemberPayload](payload)
	if err != nil {
		return err
	}
	org, err := ctx.Registry.GetOrganization(p.OrgKey)
	if err != nil {
		return err
	}
	if err := org.AddMember(p.Team, p.Member); err != nil {
		return err
	}
	ctx.Emitter.EmitEvent("org", events.KindTeamMemberAdded, map[string]any{
		"org_key": p.OrgKey, "team": p.Team, "member": p.Member,
	})
	return nil
}

func handleCreateWebhook(ctx *Context, payload json.RawMessage) error {
	p, err := decodePayload[txn.CreateWebhookPayload](payload)
	if err != nil {
		return err
	}
	r, err := ctx.Registry.Get(p.RepoKey, false)
	if err != nil {
		return err
	}
	r.AddWebhook(repo.Webhook{URL: p.URL, Events: p.Events, Creator: ctx.Tx.Signer})
	ctx.Emitter.EmitEvent("repo", events.KindWebhookRegistered, map[string]any{
		"repo_key": p.RepoKey, "url": p.URL,
	})
	return nil
}

func handleMergePullRequest(ctx *Context, payload json.RawMessage) error {
	p, err := decodePayload[txn.MergePullRequestPayload](payload)
	if err != nil {
		return err
	}
	r, err := ctx.Registry.Get(p.RepoKey, false)
	if err != nil {
		return err
	}
	if !r.MergePullRequest(p.PRNumber, p.MergeCommit) {
		return fmt.Errorf("app: pull request #%d not mergeable", p.PRNumber)
	}
	ctx.Emitter.EmitEvent("repo", events.KindPullRequestMerged, map[string]any{
		"repo_key": p.RepoKey, "number": p.PRNumber, "merge_commit": p.MergeCommit,
	})
	return nil
}

func handleCloseIssue(ctx *Context, payload json.RawMessage) error {
	p, err := decodePayload[txn.CloseIssuePayload](payload)
	if err != nil {
		return err
	}
	r, err := ctx.Registry.Get(p.RepoKey, false)
	if err != nil {
		return err
	}
	if !r.CloseIssue(p.IssueNumber) {
		return fmt.Errorf("app: issue #%d not closeable", p.IssueNumber)
	}
	ctx.Emitter.EmitEvent("repo", events.KindIssueClosed, map[string]any{
		"repo_key": p.RepoKey, "number": p.IssueNumber,
	})
	return nil
}

func handleRecordCIResult(ctx *Context, payload json.RawMessage) error {
	p, err := decodePayload[txn.RecordCIResultPayload](payload)
	if err != nil {
		return err
	}
	r, err := ctx.Registry.Get(p.RepoKey, false)
	if err != nil {
		return err
	}
	r.AddCIResult(repo.CIResult{Commit: p.Commit, JobName: p.JobName, Status: p.Status, Signer: ctx.Tx.Signer})
	ctx.Emitter.EmitEvent("repo", events.KindCIResultRecorded, map[string]any{
		"repo_key": p.RepoKey, "commit": p.Commit, "job": p.JobName, "status": p.Status,
	})
	return nil
}

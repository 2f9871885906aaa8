package github

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventKind is the normalized category of a webhook delivery.
type EventKind int

const (
	EventComment EventKind = iota + 1
	EventIssueOpened
	EventRepositoriesAdded
	EventRepositoriesRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventComment:
		return "comment"
	case EventIssueOpened:
		return "issue_opened"
	case EventRepositoriesAdded:
		return "repositories_added"
	case EventRepositoriesRemoved:
		return "repositories_removed"
	default:
		return "unknown"
	}
}

// Event is a webhook delivery reduced to what the service acts on. Exactly
// one of Comment, Issue or Repositories is set, according to Kind.
type Event struct {
	Kind           EventKind
	Type           string // X-GitHub-Event
	DeliveryID     string
	InstallationID int64

	Comment      *CommentEvent
	Issue        *IssueEvent
	Repositories *RepositoriesEvent
}

// CommentEvent is a new comment on an issue, pull request or review.
// ConversationID is the issue or pull request number in every case.
type CommentEvent struct {
	Owner          string
	Repo           string
	Actor          string
	ActorIsBot     bool
	Body           string
	ConversationID int
}

// IssueEvent is a newly opened issue.
type IssueEvent struct {
	Owner  string
	Repo   string
	Author string
	Number int
}

// RepositoriesEvent lists repositories the app gained or lost access to.
type RepositoriesEvent struct {
	Sender       string
	Repositories []RepoRef
}

// RepoRef names a repository by owner and name.
type RepoRef struct {
	Owner string
	Name  string
}

func (r RepoRef) String() string {
	return r.Owner + "/" + r.Name
}

// ---- wire payloads ----

type account struct {
	Login string `json:"login"`
	Type  string `json:"type"`
}

type repository struct {
	Name     string  `json:"name"`
	FullName string  `json:"full_name"`
	Owner    account `json:"owner"`
}

type installationRef struct {
	ID int64 `json:"id"`
}

type installedRepository struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
}

type issueCommentPayload struct {
	Action  string `json:"action"`
	Comment struct {
		Body string  `json:"body"`
		User account `json:"user"`
	} `json:"comment"`
	Issue struct {
		Number int `json:"number"`
	} `json:"issue"`
	PullRequest struct {
		Number int `json:"number"`
	} `json:"pull_request"`
	Repository   repository      `json:"repository"`
	Installation installationRef `json:"installation"`
}

type issuesPayload struct {
	Action string `json:"action"`
	Issue  struct {
		Number int     `json:"number"`
		User   account `json:"user"`
	} `json:"issue"`
	Repository   repository      `json:"repository"`
	Installation installationRef `json:"installation"`
}

type installationPayload struct {
	Action       string                `json:"action"`
	Installation installationRef       `json:"installation"`
	Repositories []installedRepository `json:"repositories"`
	Sender       account               `json:"sender"`
}

type installationRepositoriesPayload struct {
	Action              string                `json:"action"`
	Installation        installationRef       `json:"installation"`
	RepositoriesAdded   []installedRepository `json:"repositories_added"`
	RepositoriesRemoved []installedRepository `json:"repositories_removed"`
	Sender              account               `json:"sender"`
}

// ParseEvent normalizes a webhook payload. It returns (nil, nil) for events
// and actions the service does not act on.
func ParseEvent(eventType string, body []byte) (*Event, error) {
	switch eventType {
	case "issue_comment", "pull_request_review_comment":
		return parseComment(eventType, body)
	case "issues":
		return parseIssues(body)
	case "installation":
		return parseInstallation(body)
	case "installation_repositories":
		return parseInstallationRepositories(body)
	default:
		return nil, nil
	}
}

func parseComment(eventType string, body []byte) (*Event, error) {
	var p issueCommentPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("github: decoding %s: %w", eventType, err)
	}
	if p.Action != "created" {
		return nil, nil
	}
	number := p.Issue.Number
	if eventType == "pull_request_review_comment" {
		number = p.PullRequest.Number
	}
	if number == 0 || p.Repository.Owner.Login == "" || p.Repository.Name == "" {
		return nil, fmt.Errorf("github: %s payload missing repository or conversation", eventType)
	}
	return &Event{
		Kind:           EventComment,
		Type:           eventType,
		InstallationID: p.Installation.ID,
		Comment: &CommentEvent{
			Owner:          p.Repository.Owner.Login,
			Repo:           p.Repository.Name,
			Actor:          p.Comment.User.Login,
			ActorIsBot:     p.Comment.User.Type == "Bot",
			Body:           p.Comment.Body,
			ConversationID: number,
		},
	}, nil
}

func parseIssues(body []byte) (*Event, error) {
	var p issuesPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("github: decoding issues: %w", err)
	}
	if p.Action != "opened" {
		return nil, nil
	}
	return &Event{
		Kind:           EventIssueOpened,
		Type:           "issues",
		InstallationID: p.Installation.ID,
		Issue: &IssueEvent{
			Owner:  p.Repository.Owner.Login,
			Repo:   p.Repository.Name,
			Author: p.Issue.User.Login,
			Number: p.Issue.Number,
		},
	}, nil
}

func parseInstallation(body []byte) (*Event, error) {
	var p installationPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("github: decoding installation: %w", err)
	}
	var kind EventKind
	switch p.Action {
	case "created":
		kind = EventRepositoriesAdded
	case "deleted":
		kind = EventRepositoriesRemoved
	default:
		return nil, nil
	}
	repos, err := repoRefs(p.Repositories)
	if err != nil {
		return nil, err
	}
	return &Event{
		Kind:           kind,
		Type:           "installation",
		InstallationID: p.Installation.ID,
		Repositories:   &RepositoriesEvent{Sender: p.Sender.Login, Repositories: repos},
	}, nil
}

func parseInstallationRepositories(body []byte) (*Event, error) {
	var p installationRepositoriesPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("github: decoding installation_repositories: %w", err)
	}
	var (
		kind EventKind
		list []installedRepository
	)
	switch p.Action {
	case "added":
		kind, list = EventRepositoriesAdded, p.RepositoriesAdded
	case "removed":
		kind, list = EventRepositoriesRemoved, p.RepositoriesRemoved
	default:
		return nil, nil
	}
	repos, err := repoRefs(list)
	if err != nil {
		return nil, err
	}
	return &Event{
		Kind:           kind,
		Type:           "installation_repositories",
		InstallationID: p.Installation.ID,
		Repositories:   &RepositoriesEvent{Sender: p.Sender.Login, Repositories: repos},
	}, nil
}

func repoRefs(list []installedRepository) ([]RepoRef, error) {
	refs := make([]RepoRef, 0, len(list))
	for _, r := range list {
		owner, name, ok := strings.Cut(r.FullName, "/")
		if !ok || owner == "" || name == "" {
			return nil, fmt.Errorf("github: malformed repository full_name %q", r.FullName)
		}
		refs = append(refs, RepoRef{Owner: owner, Name: name})
	}
	return refs, nil
}

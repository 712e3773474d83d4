// Package github reads the GitHub Actions context and manages the preview
// comment on pull requests.
package github

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Repository identifies a GitHub repository
type Repository struct {
	Owner string
	Name  string
}

func (r Repository) String() string {
	return r.Owner + "/" + r.Name
}

// ParseRepository parses "owner/repo"
func ParseRepository(s string) (Repository, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repository{}, fmt.Errorf("invalid repository %q (want owner/repo)", s)
	}
	return Repository{Owner: owner, Name: name}, nil
}

// PullRequest is the subset of a pull_request payload used here
type PullRequest struct {
	Number int    `json:"number"`
	State  string `json:"state"`
	Merged bool   `json:"merged"`
	Head   struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	} `json:"head"`
}

// Event is the subset of a workflow event payload used here
type Event struct {
	Action      string       `json:"action"`
	Number      int          `json:"number"`
	PullRequest *PullRequest `json:"pull_request"`
	Repository  struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// PRNumber returns the pull request number or 0 when the event has none.
func (e *Event) PRNumber() int {
	if e.PullRequest != nil && e.PullRequest.Number > 0 {
		return e.PullRequest.Number
	}
	return e.Number
}

// HeadRef returns the pull request head branch, if any.
func (e *Event) HeadRef() string {
	if e.PullRequest == nil {
		return ""
	}
	return e.PullRequest.Head.Ref
}

// ParseEvent decodes an event payload
func ParseEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to parse event payload: %w", err)
	}
	return &ev, nil
}

// LoadEvent reads the event payload at path (GITHUB_EVENT_PATH)
func LoadEvent(path string) (*Event, error) {
	if path == "" {
		return nil, fmt.Errorf("event path is empty (GITHUB_EVENT_PATH)")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read event payload: %w", err)
	}
	return ParseEvent(data)
}

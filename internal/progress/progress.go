// Package progress reports which catalogue templates a project has produced
// and which are still missing, globally and per planned episode.
package progress

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/p-blackswan/studio-agent/internal/artifact"
	"github.com/p-blackswan/studio-agent/internal/catalog"
	"github.com/p-blackswan/studio-agent/internal/project"
)

// Projects resolves a project's planned episode count.
type Projects interface {
	GetProject(ctx context.Context, id string) (*project.Project, error)
}

// Artifacts lists the (template, episode) pairs that have a version.
type Artifacts interface {
	Presence(ctx context.Context, projectID string) ([]artifact.Presence, error)
}

// Status is the split of one scope into completed and pending templates.
type Status struct {
	Completed []catalog.Code `json:"completed"`
	Pending   []catalog.Code `json:"pending"`
}

// EpisodeStatus is Status for one episode.
type EpisodeStatus struct {
	Episode int `json:"episode"`
	Status
}

// Summary is the full progress report.
type Summary struct {
	ProjectID string          `json:"project_id"`
	Global    Status          `json:"global"`
	Episodes  []EpisodeStatus `json:"episodes"`
}

// Aggregator computes summaries. It never writes.
type Aggregator struct {
	projects  Projects
	artifacts Artifacts
}

// NewAggregator creates an Aggregator.
func NewAggregator(projects Projects, artifacts Artifacts) *Aggregator {
	return &Aggregator{projects: projects, artifacts: artifacts}
}

// Summarize diffs the project's artifacts against the catalogue. Only
// presence matters; the number of versions does not.
func (a *Aggregator) Summarize(ctx context.Context, projectID string) (*Summary, error) {
	p, err := a.projects.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	present, err := a.artifacts.Presence(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("summarize %s: %w", projectID, err)
	}

	global := make(map[catalog.Code]bool)
	episodic := make(map[int]map[catalog.Code]bool)
	for _, pr := range present {
		if pr.Episode == nil {
			global[pr.TemplateCode] = true
			continue
		}
		if episodic[*pr.Episode] == nil {
			episodic[*pr.Episode] = make(map[catalog.Code]bool)
		}
		episodic[*pr.Episode][pr.TemplateCode] = true
	}

	s := &Summary{
		ProjectID: p.ID,
		Global:    split(catalog.Global(), global),
		Episodes:  make([]EpisodeStatus, 0, p.EpisodesPlanned),
	}
	for ep := 1; ep <= p.EpisodesPlanned; ep++ {
		s.Episodes = append(s.Episodes, EpisodeStatus{Episode: ep, Status: split(catalog.Episodic(), episodic[ep])})
	}
	return s, nil
}

func split(codes []catalog.Code, have map[catalog.Code]bool) Status {
	st := Status{Completed: []catalog.Code{}, Pending: []catalog.Code{}}
	for _, c := range codes {
		if have[c] {
			st.Completed = append(st.Completed, c)
		} else {
			st.Pending = append(st.Pending, c)
		}
	}
	slices.Sort(st.Completed)
	slices.Sort(st.Pending)
	return st
}

// Text renders the summary as the Japanese block used in chat replies.
func (s *Summary) Text() string {
	lines := []string{
		"進捗サマリー:",
		"- グローバル完了: " + labels(s.Global.Completed),
		"- グローバル未完了: " + labels(s.Global.Pending),
	}
	for _, ep := range s.Episodes {
		lines = append(lines, fmt.Sprintf("- エピソード%d: 完了 %s / 未完了 %s",
			ep.Episode, labels(ep.Completed), labels(ep.Pending)))
	}
	return strings.Join(lines, "\n")
}

func labels(codes []catalog.Code) string {
	if len(codes) == 0 {
		return "なし"
	}
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = catalog.Label(c)
	}
	return strings.Join(out, ", ")
}

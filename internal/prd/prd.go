// Package prd models the product requirements document and its stories, and
// moves it between the authoritative store and a workspace's prd.json.
package prd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/randalmurphal/storyloop/internal/util"
)

// FileName is the materialized document inside the workspace metadata dir.
const FileName = "prd.json"

// MetadataDir is the per-workspace metadata directory.
const MetadataDir = ".storyloop"

// ErrNoDocument is returned when a workspace has no prd.json.
var ErrNoDocument = errors.New("no prd.json in workspace")

var validate = validator.New()

// Story is one unit of work with acceptance criteria.
type Story struct {
	ID                 string   `json:"id" validate:"required"`
	TaskID             string   `json:"-"`
	Title              string   `json:"title" validate:"required"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptanceCriteria" validate:"dive,required"`
	Priority           int      `json:"priority" validate:"gte=0"`
	Passes             bool     `json:"passes"`
}

// Document is the product requirements document for one task.
type Document struct {
	TaskID      string  `json:"-"`
	ProjectName string  `json:"project" validate:"required"`
	Description string  `json:"description"`
	BranchName  string  `json:"branchName"`
	Stories     []Story `json:"userStories" validate:"required,min=1,dive"`
}

// Validate checks field constraints and that story ids are unique.
func (d *Document) Validate() error {
	if err := validate.Struct(d); err != nil {
		return err
	}
	seen := make(map[string]bool, len(d.Stories))
	for _, s := range d.Stories {
		if seen[s.ID] {
			return fmt.Errorf("duplicate story id %q", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// SetTaskID stamps the document and all of its stories with taskID.
func (d *Document) SetTaskID(taskID string) {
	d.TaskID = taskID
	for i := range d.Stories {
		d.Stories[i].TaskID = taskID
	}
}

// NextStory returns the unfinished story with the lowest priority value.
// Ties keep document order.
func (d *Document) NextStory() (Story, bool) {
	best := -1
	for i, s := range d.Stories {
		if s.Passes {
			continue
		}
		if best < 0 || s.Priority < d.Stories[best].Priority {
			best = i
		}
	}
	if best < 0 {
		return Story{}, false
	}
	return d.Stories[best], true
}

// Story returns the story with id.
func (d *Document) Story(id string) (Story, bool) {
	for _, s := range d.Stories {
		if s.ID == id {
			return s, true
		}
	}
	return Story{}, false
}

// Remaining counts stories that do not pass yet.
func (d *Document) Remaining() int {
	n := 0
	for _, s := range d.Stories {
		if !s.Passes {
			n++
		}
	}
	return n
}

// Path returns the prd.json location inside a workspace.
func Path(workspacePath string) string {
	return filepath.Join(workspacePath, MetadataDir, FileName)
}

// Materialize writes doc to the workspace's prd.json atomically.
func Materialize(workspacePath string, doc *Document) error {
	if workspacePath == "" {
		return fmt.Errorf("materialize prd: empty workspace path")
	}
	if err := util.AtomicWriteJSON(Path(workspacePath), doc, 0644); err != nil {
		return fmt.Errorf("materialize prd: %w", err)
	}
	return nil
}

// Consolidate reads the workspace's prd.json back, possibly edited by the agent.
func Consolidate(workspacePath string) (*Document, error) {
	data, err := os.ReadFile(Path(workspacePath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoDocument
		}
		return nil, fmt.Errorf("read prd: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("consolidate prd: %w", err)
	}
	return doc, nil
}

// Parse decodes and validates a prd.json document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse prd: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid prd: %w", err)
	}
	return &doc, nil
}

// Prompt renders the agent task prompt for a story. A non-empty hint is
// placed before the task.
func Prompt(s Story, hint string) string {
	var b strings.Builder
	if hint = strings.TrimSpace(hint); hint != "" {
		b.WriteString(hint)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "# Story %s: %s\n\n", s.ID, s.Title)
	if s.Description != "" {
		b.WriteString(s.Description)
		b.WriteString("\n\n")
	}
	if len(s.AcceptanceCriteria) > 0 {
		b.WriteString("## Acceptance criteria\n")
		for i, c := range s.AcceptanceCriteria {
			fmt.Fprintf(&b, "%d. %s\n", i+1, c)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "The project requirements are in %s/%s. ", MetadataDir, FileName)
	b.WriteString("Implement only this story, make the test suite pass, and set \"passes\": true for it in that file. ")
	// Never quote the marker itself; an echoed prompt must not read as completion.
	b.WriteString("When the story is complete, print a line holding only the word COMPLETE inside an XML element named promise.")
	return b.String()
}

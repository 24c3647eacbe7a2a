package store

import (
	"strings"
	"time"
)

// RepositoryStatus is the worker-visible lifecycle state of a repository.
type RepositoryStatus string

const (
	StatusPending    RepositoryStatus = "Pending"
	StatusProcessing RepositoryStatus = "Processing"
	StatusCompleted  RepositoryStatus = "Completed"
	StatusFailed     RepositoryStatus = "Failed"
)

// RepositoryType distinguishes git remotes from plain directories.
type RepositoryType string

const (
	TypeGit  RepositoryType = "git"
	TypeFile RepositoryType = "file"
)

// Classification is one of the seven canonical tags steering prompt selection.
type Classification string

const (
	ClassifyApplications        Classification = "Applications"
	ClassifyFrameworks          Classification = "Frameworks"
	ClassifyLibraries           Classification = "Libraries"
	ClassifyDevelopmentTools    Classification = "DevelopmentTools"
	ClassifyCLITools            Classification = "CLITools"
	ClassifyDevOpsConfiguration Classification = "DevOpsConfiguration"
	ClassifyDocumentation       Classification = "Documentation"
)

// Classifications lists every canonical tag.
var Classifications = []Classification{
	ClassifyApplications,
	ClassifyFrameworks,
	ClassifyLibraries,
	ClassifyDevelopmentTools,
	ClassifyCLITools,
	ClassifyDevOpsConfiguration,
	ClassifyDocumentation,
}

// ParseClassification matches a token case-insensitively against the canonical
// tags. Unparseable tokens yield ok=false; callers store null and continue
// with base prompt variants.
func ParseClassification(token string) (Classification, bool) {
	t := strings.TrimSpace(token)
	for _, c := range Classifications {
		if strings.EqualFold(t, string(c)) {
			return c, true
		}
	}
	return "", false
}

// Repository is a queued unit of documentation work.
type Repository struct {
	ID               string
	Address          string
	Branch           string
	GitUserName      string
	GitPassword      string
	Type             RepositoryType
	Status           RepositoryStatus
	Error            string
	OrganizationName string
	Name             string
	LocalPath        string
	Version          string
	OptimizedDirectoryStructure string
	Classify         *Classification
	Readme           string
	LeaseOwner       string
	LeaseDeadline    time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Document is the per-repository documentation root.
type Document struct {
	ID           string
	RepositoryID string
	GitPath      string
	Status       RepositoryStatus
	LastUpdate   time.Time
}

// Catalogue is one node of the repository-scoped documentation forest.
type Catalogue struct {
	ID           string
	RepositoryID string
	ParentID     *string
	Title        string // stable identifier slug
	Name         string // display name
	URL          string // url slug, unique per repository among live rows
	Description  string
	Prompt       string
	OrderIndex   int
	IsCompleted  bool
	IsDeleted    bool
	CreatedAt    time.Time
}

// IsLeaf reports whether the node has no live children in the given forest.
func (c *Catalogue) IsLeaf(all []Catalogue) bool {
	for i := range all {
		if all[i].ParentID != nil && *all[i].ParentID == c.ID && !all[i].IsDeleted {
			return false
		}
	}
	return true
}

// FileItem holds the generated content for one leaf catalogue node.
type FileItem struct {
	ID          string
	CatalogueID string
	Title       string
	Content     string
	Sources     []string // referenced source file paths
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Overview is the per-document markdown overview; replaced wholesale.
type Overview struct {
	ID         string
	DocumentID string
	Content    string
	CreatedAt  time.Time
}

// MiniMap is the serialized knowledge-graph tree for a repository.
type MiniMap struct {
	ID           string
	RepositoryID string
	Value        string
	CreatedAt    time.Time
}

// CommitRecord is one changelog entry; the set is regenerated per stage-8 run.
type CommitRecord struct {
	ID           string
	RepositoryID string
	Title        string
	Description  string
	CommitDate   time.Time
	CreatedAt    time.Time
}

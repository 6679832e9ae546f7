package api

// Event names emitted to the UI.
const (
	EventFileTokenCounts  = "file-token-counts"
	EventGitTokenCounts   = "git-token-counts"
	EventGitStatusUpdated = "git-status-updated"
)

// Wire form of a node kind.
const (
	TypeFile      = "file"
	TypeDirectory = "directory"
)

// DirectoryNode is one node of a materialized tree.
// Files carry an empty (non-nil) Children slice so clients can iterate without checks.
type DirectoryNode struct {
	// ID is the absolute path of the entry.
	ID string `json:"id"`
	// Title is the display name (the last path component).
	Title string `json:"title"`
	// Type is "file" or "directory".
	Type string `json:"type"`
	// Children in listing order.
	Children []DirectoryNode `json:"children"`
}

// SearchMatch is the answer to a tree load or search.
type SearchMatch struct {
	// MatchedIDsCount is the number of original matches, or the total node count
	// when the query was empty.
	MatchedIDsCount int             `json:"matchedIdsCount"`
	Results         []DirectoryNode `json:"results"`
}

// FileNode summarizes a selected file.
type FileNode struct {
	Path       string `json:"path"`
	Title      string `json:"title"`
	TokenCount *int   `json:"tokenCount"` // nil until the background count arrives
	PrettyPath string `json:"prettyPath"`
}

// SelectionResult is returned by toggle and clear.
type SelectionResult struct {
	SelectedNodesPaths      []string   `json:"selectedNodesPaths"`
	IndeterminateNodesPaths []string   `json:"indeterminateNodesPaths"`
	SelectedFiles           []FileNode `json:"selectedFiles"`
}

// TokenCountResult is the cost of one file in a file-token-counts batch.
type TokenCountResult struct {
	ID         string `json:"id"`
	TokenCount int    `json:"tokenCount"`
}

// TokenCountsEvent is the payload of file-token-counts.
type TokenCountsEvent struct {
	SelectionID string `json:"selectionId"`
	// TotalTokenCount is the running total of every item processed so far.
	TotalTokenCount int                `json:"totalTokenCount"`
	Files           []TokenCountResult `json:"files"`
	Done            bool               `json:"done"`
}

// Final reports whether this is the last event of its run.
func (e TokenCountsEvent) Final() bool { return e.Done }

// Change types reported for a working-tree entry.
const (
	ChangeCreated    = "created"
	ChangeModified   = "modified"
	ChangeDeleted    = "deleted"
	ChangeRenamed    = "renamed"
	ChangeTypeChange = "typechange"
	ChangeConflicted = "conflicted"
)

// GitChange is one changed path in a repository.
type GitChange struct {
	Path         string `json:"path"`
	ChangeType   string `json:"changeType"`
	LinesAdded   int    `json:"linesAdded"`
	LinesDeleted int    `json:"linesDeleted"`
	TokenCount   *int   `json:"tokenCount,omitempty"`
}

// GitStatusResults is the answer to a git status request.
type GitStatusResults struct {
	Results   []GitChange `json:"results"`
	Truncated bool        `json:"truncated"`
}

// GitTokenCountsEvent is the payload of git-token-counts.
type GitTokenCountsEvent struct {
	Root  string         `json:"root"`
	Files map[string]int `json:"files"`
	Done  bool           `json:"done"`
}

func (e GitTokenCountsEvent) Final() bool { return e.Done }

// GitStatusEvent is the payload of git-status-updated.
type GitStatusEvent struct {
	Root    string      `json:"root"`
	Changes []GitChange `json:"changes"`
}

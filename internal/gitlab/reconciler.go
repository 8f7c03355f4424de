package gitlab

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/pulseboard/pulseboard/board"
	"github.com/pulseboard/pulseboard/internal/db"
)

// DefaultLinkPattern matches task references like "PB-42" (case-insensitive).
// The single capture group must be the numeric task number.
const DefaultLinkPattern = `(?i)\b` + board.RefPrefix + `-(\d+)\b`

// Reconciler derives task associations from free text: merge request titles
// and descriptions, branch names, commit messages.
type Reconciler struct {
	store   *db.Store
	pattern *regexp.Regexp
	logger  *slog.Logger
}

// NewReconciler creates a reconciler with the given reference pattern.
// An empty pattern falls back to DefaultLinkPattern.
func NewReconciler(store *db.Store, pattern string, logger *slog.Logger) (*Reconciler, error) {
	if pattern == "" {
		pattern = DefaultLinkPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid link pattern %q: %w", pattern, err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("link pattern %q must capture the task number", pattern)
	}
	return &Reconciler{store: store, pattern: re, logger: logger}, nil
}

// LinkInput describes one external entity to reconcile against task
// references found in Text.
type LinkInput struct {
	Project *board.LinkedProject
	Text    string

	LinkType  board.LinkType
	RemoteIID int64  // merge_request / issue links
	Ref       string // branch links, MR source branch

	// Cached display fields
	Title          string
	State          string
	URL            string
	Author         string
	PipelineStatus string
	Meta           map[string]string
}

// AutoLink extracts every distinct task number from the input text and
// creates an association for each task that resolves within the project's
// owning team. Existing associations are skipped, which makes repeated
// deliveries of the same webhook a row-level no-op. Returns only the newly
// created links.
func (r *Reconciler) AutoLink(in LinkInput) ([]board.TaskExternalLink, error) {
	numbers := r.extractNumbers(in.Text)
	if len(numbers) == 0 {
		return nil, nil
	}

	var created []board.TaskExternalLink
	for _, num := range numbers {
		task, found := r.store.GetTaskByNumber(in.Project.TeamID, num)
		if !found {
			continue
		}

		exists, err := r.store.LinkExists(task.ID, in.Project.ID, in.LinkType, in.RemoteIID, in.Ref)
		if err != nil {
			return created, err
		}
		if exists {
			continue
		}

		link := board.TaskExternalLink{
			ID:             uuid.New().String(),
			TaskID:         task.ID,
			ProjectID:      in.Project.ID,
			LinkType:       in.LinkType,
			RemoteIID:      in.RemoteIID,
			Ref:            in.Ref,
			Title:          in.Title,
			State:          in.State,
			URL:            in.URL,
			Author:         in.Author,
			PipelineStatus: in.PipelineStatus,
			Meta:           in.Meta,
			CreatedAt:      time.Now().UTC(),
		}
		if err := r.store.CreateExternalLink(&link); err != nil {
			return created, err
		}

		r.logger.Info("auto-linked task",
			"task", task.Ref(),
			"project", in.Project.Name,
			"link_type", in.LinkType,
			"iid", in.RemoteIID,
			"ref", in.Ref)
		created = append(created, link)
	}
	return created, nil
}

// extractNumbers returns the distinct task numbers referenced in text, in
// order of first appearance.
func (r *Reconciler) extractNumbers(text string) []int {
	matches := r.pattern.FindAllStringSubmatch(text, -1)
	seen := make(map[int]bool)
	var numbers []int
	for _, m := range matches {
		if len(m) < 2 {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		numbers = append(numbers, n)
	}
	return numbers
}

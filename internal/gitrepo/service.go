// Package gitrepo keeps one git repository per page holding the region
// branches and widget associations of every save.
package gitrepo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"composer/api/internal/region"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const revisionFile = "regions.json"

var (
	ErrNoHistory        = errors.New("page has no revision history")
	ErrRevisionNotFound = errors.New("revision not found")
)

// Revision is the page-owned part of a page: what a save posts.
type Revision struct {
	PageID       string               `json:"pageId"`
	TemplateID   string               `json:"templateId"`
	Regions      []*region.WireRegion `json:"regions"`
	Associations []region.Association `json:"regionWidgetAssociations"`
}

type CommitInfo struct {
	Hash      string    `json:"hash"`
	ShortHash string    `json:"shortHash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// CommitRevision writes rev to the page's repository, creating the
// repository on first use.
func (s *Service) CommitRevision(pageID string, rev Revision, author, message string) (CommitInfo, error) {
	path, err := s.repoPath(pageID)
	if err != nil {
		return CommitInfo{}, err
	}
	lock := s.pageLock(pageID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := openOrInit(path)
	if err != nil {
		return CommitInfo{}, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(rev, "", "  ")
	if err != nil {
		return CommitInfo{}, fmt.Errorf("marshal revision: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, revisionFile), append(payload, '\n'), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write %s: %w", revisionFile, err)
	}
	if _, err := worktree.Add(revisionFile); err != nil {
		return CommitInfo{}, fmt.Errorf("git add revision: %w", err)
	}

	if author == "" {
		author = "composer"
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@composer.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit revision: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// History lists the newest revisions first. A page that was never saved has
// an empty history.
func (s *Service) History(pageID string, limit int) ([]CommitInfo, error) {
	path, err := s.repoPath(pageID)
	if err != nil {
		return nil, err
	}
	lock := s.pageLock(pageID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []CommitInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// GetRevision reads the revision stored at hash, which may be abbreviated.
func (s *Service) GetRevision(pageID, hash string) (Revision, CommitInfo, error) {
	path, err := s.repoPath(pageID)
	if err != nil {
		return Revision{}, CommitInfo{}, err
	}
	lock := s.pageLock(pageID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return Revision{}, CommitInfo{}, ErrNoHistory
	}
	if err != nil {
		return Revision{}, CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return Revision{}, CommitInfo{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return Revision{}, CommitInfo{}, fmt.Errorf("%w: %s", ErrRevisionNotFound, hash)
	}
	if err != nil {
		return Revision{}, CommitInfo{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	rev, err := readRevisionFromCommit(commitObj)
	if err != nil {
		return Revision{}, CommitInfo{}, err
	}
	return rev, toCommitInfo(commitObj), nil
}

// DiffRevisions returns the sorted ids of regions whose page-owned content
// differs between from and to: branch roots whose subtree changed and
// regions whose widget list changed.
func DiffRevisions(from, to Revision) []string {
	changed := map[string]struct{}{}
	compare := func(before, after map[string][]byte) {
		for id, value := range before {
			if !bytes.Equal(value, after[id]) {
				changed[id] = struct{}{}
			}
		}
		for id := range after {
			if _, ok := before[id]; !ok {
				changed[id] = struct{}{}
			}
		}
	}
	compare(branchIndex(from.Regions), branchIndex(to.Regions))
	compare(associationIndex(from.Associations), associationIndex(to.Associations))

	out := make([]string, 0, len(changed))
	for id := range changed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func HasChanges(from, to Revision) bool {
	return len(DiffRevisions(from, to)) > 0
}

func branchIndex(branches []*region.WireRegion) map[string][]byte {
	out := make(map[string][]byte, len(branches))
	for _, branch := range branches {
		if branch == nil {
			continue
		}
		out[branch.RegionID] = normalize(branch)
	}
	return out
}

func associationIndex(associations []region.Association) map[string][]byte {
	out := make(map[string][]byte, len(associations))
	for _, assoc := range associations {
		out[assoc.RegionID] = normalize(assoc.WidgetItems)
	}
	return out
}

func normalize(value any) []byte {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil
	}
	normalized, err := json.Marshal(parsed)
	if err != nil {
		return nil
	}
	return normalized
}

func (s *Service) repoPath(pageID string) (string, error) {
	if pageID == "" || pageID == "." || pageID == ".." || strings.ContainsAny(pageID, `/\`) {
		return "", fmt.Errorf("invalid page id %q", pageID)
	}
	return filepath.Join(s.baseDir, pageID), nil
}

func (s *Service) pageLock(pageID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[pageID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[pageID] = lock
	return lock
}

func openOrInit(path string) (*git.Repository, error) {
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func readRevisionFromCommit(commitObj *object.Commit) (Revision, error) {
	file, err := commitObj.File(revisionFile)
	if err != nil {
		return Revision{}, fmt.Errorf("load %s from commit: %w", revisionFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Revision{}, fmt.Errorf("open revision reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Revision{}, fmt.Errorf("read revision bytes: %w", err)
	}

	var rev Revision
	if err := json.Unmarshal(raw, &rev); err != nil {
		return Revision{}, fmt.Errorf("decode revision: %w", err)
	}
	return rev, nil
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	hash := commitObj.Hash.String()
	return CommitInfo{
		Hash:      hash,
		ShortHash: hash[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' || r == '.' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return plumbing.ZeroHash, fmt.Errorf("%w: %s", ErrRevisionNotFound, hash)
	}
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}

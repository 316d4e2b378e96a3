package handlers

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/worunner/worunner/pkg/config"
)

// GitHubClient wraps the Git Data API endpoints github_push_files and the
// read-only github_* tools depend on.
type GitHubClient struct {
	api   *apiClient
	owner string
	repo  string
}

// NewGitHubClient builds a GitHubClient from configuration.
func NewGitHubClient(cfg config.GitHubConfig) *GitHubClient {
	return &GitHubClient{api: newAPIClient(cfg.BaseURL, cfg.TokenEnv, 30*time.Second)}
}

type ref struct {
	Ref    string `json:"ref"`
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

type commit struct {
	SHA  string `json:"sha"`
	Tree struct {
		SHA string `json:"sha"`
	} `json:"tree"`
}

type blob struct {
	SHA string `json:"sha"`
}

type treeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

type tree struct {
	SHA string `json:"sha"`
}

// Patch is one ordered search/replace applied to a file's current content
// in patches mode. Replace may be empty (a pure deletion of Search).
type Patch struct {
	Search  string
	Replace string
}

// PushFile is one file in a github_push_files call. Either Content (raw
// mode) or Patches (search/replace mode, resolved against the file's
// current content at the target branch) is set, never both.
type PushFile struct {
	Path    string
	Content string
	Patches []Patch
}

// PushResult is the outcome of a successful atomic commit. Resolved carries
// each file's final, post-patch content, since the caller's original
// PushFile.Content is empty for a patches-mode entry — verification needs
// the actual committed bytes, not what was passed in.
type PushResult struct {
	CommitSHA string
	TreeSHA   string
	Resolved  []PushFile
}

// PushFiles performs the six-step atomic Git Data API pipeline: resolve the
// branch HEAD and its tree, create a blob per file, create a new tree layered
// on the base tree, create a commit pointing at it, and fast-forward the
// branch ref. Any step failing aborts before the ref update, so a partial
// pipeline never leaves the branch pointing at an incomplete commit.
func (c *GitHubClient) PushFiles(ctx context.Context, branch, message string, files []PushFile) (*PushResult, error) {
	resolved := make([]PushFile, 0, len(files))
	for _, f := range files {
		content, originalLen, hadOriginal, err := c.resolveContent(ctx, branch, f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Path, err)
		}
		if isCodeFile(f.Path) {
			if err := validateFileContent(content); err != nil {
				return nil, fmt.Errorf("%s: %w", f.Path, err)
			}
			if hadOriginal && originalLen > 0 && len(content) > 2*originalLen {
				return nil, fmt.Errorf("%s: new content is more than twice the original length", f.Path)
			}
		}
		resolved = append(resolved, PushFile{Path: f.Path, Content: content})
	}
	files = resolved

	var r ref
	if status, err := c.api.do(ctx, "GET", fmt.Sprintf("/repos/%s/%s/git/refs/heads/%s", c.owner, c.repo, branch), nil, &r); err != nil || status/100 != 2 {
		return nil, fmt.Errorf("resolve branch head: status=%d err=%v", status, err)
	}
	baseSHA := r.Object.SHA

	var headCommit commit
	if status, err := c.api.do(ctx, "GET", fmt.Sprintf("/repos/%s/%s/git/commits/%s", c.owner, c.repo, baseSHA), nil, &headCommit); err != nil || status/100 != 2 {
		return nil, fmt.Errorf("resolve head commit: status=%d err=%v", status, err)
	}

	entries := make([]treeEntry, 0, len(files))
	for _, f := range files {
		var b blob
		payload := map[string]string{"content": f.Content, "encoding": "utf-8"}
		if status, err := c.api.do(ctx, "POST", fmt.Sprintf("/repos/%s/%s/git/blobs", c.owner, c.repo), payload, &b); err != nil || status/100 != 2 {
			return nil, fmt.Errorf("create blob for %s: status=%d err=%v", f.Path, status, err)
		}
		entries = append(entries, treeEntry{Path: f.Path, Mode: "100644", Type: "blob", SHA: b.SHA})
	}

	var newTree tree
	treePayload := map[string]interface{}{"base_tree": headCommit.Tree.SHA, "tree": entries}
	if status, err := c.api.do(ctx, "POST", fmt.Sprintf("/repos/%s/%s/git/trees", c.owner, c.repo), treePayload, &newTree); err != nil || status/100 != 2 {
		return nil, fmt.Errorf("create tree: status=%d err=%v", status, err)
	}

	var newCommit commit
	commitPayload := map[string]interface{}{"message": message, "tree": newTree.SHA, "parents": []string{baseSHA}}
	if status, err := c.api.do(ctx, "POST", fmt.Sprintf("/repos/%s/%s/git/commits", c.owner, c.repo), commitPayload, &newCommit); err != nil || status/100 != 2 {
		return nil, fmt.Errorf("create commit: status=%d err=%v", status, err)
	}

	updatePayload := map[string]interface{}{"sha": newCommit.SHA, "force": false}
	if status, err := c.api.do(ctx, "PATCH", fmt.Sprintf("/repos/%s/%s/git/refs/heads/%s", c.owner, c.repo, branch), updatePayload, nil); err != nil || status/100 != 2 {
		return nil, fmt.Errorf("fast-forward ref: status=%d err=%v", status, err)
	}

	return &PushResult{CommitSHA: newCommit.SHA, TreeSHA: newTree.SHA, Resolved: files}, nil
}

// codeFileExtensions bounds the pre-commit corruption checks to the file
// types the original incident class (double-encoded UTF-8 from a bad
// copy/paste round-trip through an editor or diff tool) actually affects;
// binary assets and prose files are exempt.
var codeFileExtensions = map[string]bool{
	".ts": true, ".js": true, ".json": true, ".tsx": true, ".jsx": true,
}

func isCodeFile(path string) bool {
	return codeFileExtensions[filepath.Ext(path)]
}

// resolveContent produces a file's final commit content. Patches mode reads
// the file's current content at branch and applies each search/replace in
// order; content mode passes Content through unchanged. originalLen/
// hadOriginal report the pre-edit length when known, for the size-explosion
// guard — a content-mode file with no existing copy at branch has no
// "original" to compare against.
func (c *GitHubClient) resolveContent(ctx context.Context, branch string, f PushFile) (content string, originalLen int, hadOriginal bool, err error) {
	if len(f.Patches) > 0 {
		current, rerr := c.ReadFile(ctx, f.Path, branch)
		if rerr != nil {
			return "", 0, false, fmt.Errorf("read current content for patch: %w", rerr)
		}
		patched, perr := applyPatches(current, f.Patches)
		if perr != nil {
			return "", 0, false, perr
		}
		return patched, len(current), true, nil
	}
	if isCodeFile(f.Path) {
		if current, rerr := c.ReadFile(ctx, f.Path, branch); rerr == nil {
			return f.Content, len(current), true, nil
		}
	}
	return f.Content, 0, false, nil
}

// applyPatches applies each patch's search/replace against current in
// order. A patch is rejected if its search text is absent or appears more
// than once in the content as it stands after all prior patches — an
// ambiguous replace target is a bug, not a judgment call for the tool to
// make silently.
func applyPatches(current string, patches []Patch) (string, error) {
	for i, p := range patches {
		if p.Search == "" {
			return "", fmt.Errorf("patch %d: search must not be empty", i)
		}
		count := strings.Count(current, p.Search)
		if count == 0 {
			return "", fmt.Errorf("patch %d: search text not found", i)
		}
		if count > 1 {
			return "", fmt.Errorf("patch %d: search text is not unique", i)
		}
		current = strings.Replace(current, p.Search, p.Replace, 1)
	}
	return current, nil
}

// validateFileContent rejects payloads with the corruption signatures the
// spec calls out: a long run of non-ASCII bytes in what should be source
// text, and the double-UTF-8-encoding signature (a byte sequence that
// decodes as valid UTF-8 whose code points are themselves the UTF-8 bytes of
// another string).
func validateFileContent(content string) error {
	if !utf8.ValidString(content) {
		return fmt.Errorf("content is not valid UTF-8")
	}
	run := 0
	for _, r := range content {
		if r > 127 {
			run++
			if run > 10 {
				return fmt.Errorf("content has a run of more than 10 consecutive non-ASCII characters")
			}
		} else {
			run = 0
		}
	}
	if hasDoubleEncodedUTF8Signature(content) {
		return fmt.Errorf("UTF-8 corruption detected: double-encoded UTF-8 signature")
	}
	return nil
}

// hasDoubleEncodedUTF8Signature reports whether content contains 4 or more
// consecutive two-byte C3 8x/C3 9x sequences — the classic signature of text
// that was UTF-8 decoded, then UTF-8 encoded a second time.
func hasDoubleEncodedUTF8Signature(content string) bool {
	b := []byte(content)
	run := 0
	for i := 0; i+1 < len(b); {
		if b[i] == 0xC3 && b[i+1] >= 0x80 && b[i+1] <= 0x9F {
			run++
			if run >= 4 {
				return true
			}
			i += 2
			continue
		}
		run = 0
		i++
	}
	return false
}

// ReadFile fetches a file's contents via the tree+blob API (not the contents
// API, which base64-wraps and truncates at a lower size than the blob API).
func (c *GitHubClient) ReadFile(ctx context.Context, path, ref string) (string, error) {
	var entries struct {
		Tree []treeEntry `json:"tree"`
	}
	if status, err := c.api.do(ctx, "GET", fmt.Sprintf("/repos/%s/%s/git/trees/%s?recursive=1", c.owner, c.repo, ref), nil, &entries); err != nil || status/100 != 2 {
		return "", fmt.Errorf("resolve tree: status=%d err=%v", status, err)
	}
	var sha string
	for _, e := range entries.Tree {
		if e.Path == path {
			sha = e.SHA
			break
		}
	}
	if sha == "" {
		return "", fmt.Errorf("path %q not found at ref %q", path, ref)
	}

	var b struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if status, err := c.api.do(ctx, "GET", fmt.Sprintf("/repos/%s/%s/git/blobs/%s", c.owner, c.repo, sha), nil, &b); err != nil || status/100 != 2 {
		return "", fmt.Errorf("fetch blob: status=%d err=%v", status, err)
	}
	if b.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(b.Content)
		if err != nil {
			return "", fmt.Errorf("decode blob: %w", err)
		}
		return string(decoded), nil
	}
	return b.Content, nil
}

// ListFiles lists every path under the given ref's tree.
func (c *GitHubClient) ListFiles(ctx context.Context, ref string) ([]string, error) {
	var entries struct {
		Tree []treeEntry `json:"tree"`
	}
	if status, err := c.api.do(ctx, "GET", fmt.Sprintf("/repos/%s/%s/git/trees/%s?recursive=1", c.owner, c.repo, ref), nil, &entries); err != nil || status/100 != 2 {
		return nil, fmt.Errorf("resolve tree: status=%d err=%v", status, err)
	}
	paths := make([]string, 0, len(entries.Tree))
	for _, e := range entries.Tree {
		if e.Type == "blob" {
			paths = append(paths, e.Path)
		}
	}
	return paths, nil
}

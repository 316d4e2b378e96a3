package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/worunner/worunner/ent"
	"github.com/worunner/worunner/pkg/ledger"
	"github.com/worunner/worunner/pkg/tools"
)

// verificationMismatchPct is the post-commit byte-count mismatch threshold
// above which the push is logged as a warning (§4.D.3). The commit itself
// already happened by this point — this only affects the verification
// ledger row and log line, never the tool's success/failure.
const verificationMismatchPct = 0.05

// recentlyDoneWindow bounds the anti-clobber warning scan to recently
// completed sibling work, not the whole WorkOrder history.
const recentlyDoneWindow = 24 * time.Hour

// NewGitHubPushFilesHandler implements github_push_files: runs the atomic
// commit pipeline (content or patches mode per file), then verifies each
// committed file's actual byte size via the sandbox (wc -c), recording the
// outcome as its own verification ledger row per §4.D.3, and scans
// recently-done sibling WOs for a path collision as an anti-clobber warning.
func NewGitHubPushFilesHandler(gh *GitHubClient, sandbox *SandboxClient, client *ent.Client, led *ledger.Ledger) tools.Handler {
	return func(ctx context.Context, input map[string]interface{}, meta tools.CallMeta) tools.ToolResult {
		branch, _ := input["branch"].(string)
		message, _ := input["message"].(string)
		if branch == "" || message == "" {
			return tools.Fail("github_push_files requires branch and message")
		}
		rawFiles, ok := input["files"].([]interface{})
		if !ok || len(rawFiles) == 0 {
			return tools.Fail("github_push_files requires a non-empty files array")
		}

		files := make([]PushFile, 0, len(rawFiles))
		for _, rf := range rawFiles {
			m, ok := rf.(map[string]interface{})
			if !ok {
				return tools.Fail("each entry in files must be an object with path and content or patches")
			}
			path, _ := m["path"].(string)
			if path == "" {
				return tools.Fail("each file requires a path")
			}

			pf := PushFile{Path: path}
			if rawPatches, ok := m["patches"].([]interface{}); ok && len(rawPatches) > 0 {
				for _, rp := range rawPatches {
					pm, ok := rp.(map[string]interface{})
					if !ok {
						return tools.Fail("each patch must be an object with search and replace")
					}
					search, _ := pm["search"].(string)
					replace, _ := pm["replace"].(string)
					pf.Patches = append(pf.Patches, Patch{Search: search, Replace: replace})
				}
			} else {
				content, _ := m["content"].(string)
				pf.Content = content
			}
			files = append(files, pf)
		}

		warnings := anticlobberWarnings(ctx, client, meta.WorkOrderID, files)

		result, err := gh.PushFiles(ctx, branch, message, files)
		if err != nil {
			return tools.Fail("github_push_files: %v", err)
		}

		verifications := verifyPushedSizes(ctx, sandbox, meta.WorkOrderID, result.Resolved)
		allVerified := recordVerifications(ctx, led, meta, verifications)

		return tools.Ok(map[string]interface{}{
			"commit_sha": result.CommitSHA,
			"tree_sha":   result.TreeSHA,
			"verified":   allVerified,
			"warnings":   warnings,
		})
	}
}

// recordVerifications writes one verification ledger row per file (§4.D.3:
// "record the verification as a separate ledger entry with
// verified=true|false") and logs a warning for any mismatch beyond 5%. It
// returns whether every file verified.
func recordVerifications(ctx context.Context, led *ledger.Ledger, meta tools.CallMeta, verifications []fileVerification) bool {
	allVerified := true
	for _, v := range verifications {
		verified := v.Verified
		if !verified {
			allVerified = false
		}
		if v.ExpectedBytes > 0 {
			mismatch := float64(abs(v.ActualBytes-v.ExpectedBytes)) / float64(v.ExpectedBytes)
			if mismatch > verificationMismatchPct {
				slog.Warn("github_push_files: post-commit byte-count mismatch exceeds 5%",
					"work_order_id", meta.WorkOrderID, "path", v.Path,
					"expected_bytes", v.ExpectedBytes, "actual_bytes", v.ActualBytes)
			}
		}
		led.Record(ctx, ledger.Record{
			WorkOrderID: meta.WorkOrderID,
			ToolName:    "github_push_files",
			ObjectType:  "file",
			ObjectID:    v.Path,
			Action:      "VERIFY",
			Success:     true,
			Actor:       meta.Actor,
			Verified:    &verified,
			Context: map[string]interface{}{
				"expected_bytes": v.ExpectedBytes,
				"actual_bytes":   v.ActualBytes,
			},
			Result: fmt.Sprintf("expected_bytes=%d actual_bytes=%d verified=%t", v.ExpectedBytes, v.ActualBytes, verified),
		})
	}
	return allVerified
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func anticlobberWarnings(ctx context.Context, client *ent.Client, workOrderID string, files []PushFile) []string {
	var warnings []string
	touched := make(map[string]bool, len(files))
	for _, f := range files {
		touched[f.Path] = true
	}

	cutoff := time.Now().Add(-recentlyDoneWindow)
	logs, err := client.ExecutionLogEntry.Query().Limit(200).All(ctx)
	if err != nil {
		return nil
	}
	for _, l := range logs {
		if l.WorkOrderID == workOrderID || l.CreatedAt.Before(cutoff) {
			continue
		}
		detail := l.Detail
		if detail == nil {
			continue
		}
		path, _ := detail["path"].(string)
		if path != "" && touched[path] {
			warnings = append(warnings, fmt.Sprintf("path %q was also touched recently by work order %s", path, l.WorkOrderID))
		}
	}
	return warnings
}

// fileVerification is one file's post-commit byte-count check (§4.D.3).
type fileVerification struct {
	Path          string
	ExpectedBytes int
	ActualBytes   int
	Verified      bool
}

func verifyPushedSizes(ctx context.Context, sandbox *SandboxClient, workOrderID string, files []PushFile) []fileVerification {
	out := make([]fileVerification, 0, len(files))
	for _, f := range files {
		expected := len(f.Content)
		v := fileVerification{Path: f.Path, ExpectedBytes: expected}
		result, err := sandbox.Exec(ctx, workOrderID, "wc", []string{"-c", f.Path}, 0)
		if err != nil || result.ExitCode != 0 {
			out = append(out, v)
			continue
		}
		var reported int
		if _, err := fmt.Sscanf(result.Stdout, "%d", &reported); err != nil {
			out = append(out, v)
			continue
		}
		v.ActualBytes = reported
		v.Verified = reported == expected
		out = append(out, v)
	}
	return out
}

// NewGitHubReadFileHandler implements github_read_file and
// github_read_file_range. Both return the whole file; no line range from the
// input is applied.
func NewGitHubReadFileHandler(gh *GitHubClient) tools.Handler {
	return func(ctx context.Context, input map[string]interface{}, meta tools.CallMeta) tools.ToolResult {
		path, _ := input["path"].(string)
		ref, _ := input["ref"].(string)
		if path == "" {
			return tools.Fail("github_read_file requires path")
		}
		if ref == "" {
			ref = "main"
		}
		content, err := gh.ReadFile(ctx, path, ref)
		if err != nil {
			return tools.Fail("github_read_file: %v", err)
		}
		return tools.Ok(content)
	}
}

// NewReadFullFileHandler implements read_full_file: identical to
// github_read_file but documented separately because it goes through the
// tree+blob API rather than the contents API, avoiding the latter's implicit
// truncation around 10,000 characters.
func NewReadFullFileHandler(gh *GitHubClient) tools.Handler {
	return NewGitHubReadFileHandler(gh)
}

// NewGitHubListFilesHandler implements github_list_files.
func NewGitHubListFilesHandler(gh *GitHubClient) tools.Handler {
	return func(ctx context.Context, input map[string]interface{}, meta tools.CallMeta) tools.ToolResult {
		ref, _ := input["ref"].(string)
		if ref == "" {
			ref = "main"
		}
		paths, err := gh.ListFiles(ctx, ref)
		if err != nil {
			return tools.Fail("github_list_files: %v", err)
		}
		return tools.Ok(paths)
	}
}

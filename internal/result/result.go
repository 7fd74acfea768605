// Package result implements the C7 Result Assembler: durable persistence of
// the XFI_RESULT.json artifact and the multi-envelope parse accepted when
// reading a result back (spec.md §4.7).
package result

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xfidelity/xfidelity/internal/xfierrors"
	"github.com/xfidelity/xfidelity/internal/xfitypes"
)

// FileName is the canonical artifact name written into the repo's output
// directory.
const FileName = "XFI_RESULT.json"

// OutputDirName is the directory, relative to the analyzed repo, that the
// artifact is written into.
const OutputDirName = ".xfiResults"

// Write persists result, wrapped as {"XFI_RESULT": {...}}, to
// <repoPath>/.xfiResults/XFI_RESULT.json using a write-temp, fsync,
// rename sequence so a reader never observes a partially written file,
// mirroring internal/mdloader's cache-refresh write discipline. The file
// is always overwritten, never deleted, between runs.
func Write(repoPath string, res xfitypes.XFIResult) (string, error) {
	res.Recount()

	data, err := json.MarshalIndent(Envelope{XFIResult: res}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}

	dir := filepath.Join(repoPath, OutputDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	target := filepath.Join(dir, FileName)
	tmp, err := os.CreateTemp(dir, FileName+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp result file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write temp result file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("sync temp result file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close temp result file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename result file into place: %w", err)
	}
	return target, nil
}

// Read loads and unwraps an XFI_RESULT.json artifact from path, accepting
// any of the three historical envelope shapes:
//
//	{"XFI_RESULT": {...}}
//	{"result": {"XFI_RESULT": {...}}}
//	{...}  (bare)
func Read(path string) (xfitypes.XFIResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return xfitypes.XFIResult{}, fmt.Errorf("%w: read result file: %w", xfierrors.ErrResultParseError, err)
	}
	res, err := Unmarshal(data)
	if err != nil {
		return xfitypes.XFIResult{}, fmt.Errorf("%w: %w", xfierrors.ErrResultParseError, err)
	}
	return res, nil
}

// Unmarshal parses raw into an XFIResult, peeling off whichever envelope
// (if any) wraps it.
func Unmarshal(raw []byte) (xfitypes.XFIResult, error) {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(raw, &outer); err != nil {
		return xfitypes.XFIResult{}, fmt.Errorf("parse result json: %w", err)
	}

	payload, ok := outer["XFI_RESULT"]
	if !ok {
		if nested, hasResult := outer["result"]; hasResult {
			var inner map[string]json.RawMessage
			if err := json.Unmarshal(nested, &inner); err == nil {
				if p, found := inner["XFI_RESULT"]; found {
					payload = p
					ok = true
				}
			}
		}
	}
	if !ok {
		payload = raw
	}

	var res xfitypes.XFIResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return xfitypes.XFIResult{}, fmt.Errorf("unmarshal XFI_RESULT payload: %w", err)
	}
	return res, nil
}

// Envelope wraps an XFIResult the way the canonical on-disk artifact is
// shaped: {"XFI_RESULT": {...}}.
type Envelope struct {
	XFIResult xfitypes.XFIResult `json:"XFI_RESULT"`
}

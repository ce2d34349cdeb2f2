package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Status of a verification check. A missing artifact or sidecar is reported
// as its own status, never silently treated as ok.
type Status string

const (
	StatusOK       Status = "ok"
	StatusMismatch Status = "mismatch"
	StatusMissing  Status = "missing"
)

// Sidecar is the hash record written alongside every sealed artifact.
type Sidecar struct {
	Path   string `json:"path"` // base name of the sealed artifact
	SHA256 string `json:"sha256"`
	TS     string `json:"ts"`
	Owner  string `json:"owner"`
}

// Result of verifying one artifact against its sidecar.
type Result struct {
	Path     string
	Status   Status
	Recorded string
	Current  string
}

// OK reports whether the artifact verified cleanly.
func (r Result) OK() bool { return r.Status == StatusOK }

// Guard is the sole authority on whether a persisted artifact has been
// tampered with. All core artifacts are written through WriteAndSeal.
type Guard struct {
	Owner string
}

// NewGuard returns a Guard that stamps sidecars with the given owner.
func NewGuard(owner string) *Guard {
	return &Guard{Owner: owner}
}

// SidecarPath returns the hash-record path for an artifact.
func SidecarPath(path string) string { return path + ".sha" }

// WriteAndSeal marshals payload to indented JSON, writes it atomically, then
// writes a sidecar recording the SHA-256 of the written bytes. The hash is
// always computed from the bytes that actually landed on disk.
func (g *Guard) WriteAndSeal(path string, payload any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := WriteFileAtomic(path, data); err != nil {
		return err
	}

	sum := sha256.Sum256(data)
	sc := Sidecar{
		Path:   filepath.Base(path),
		SHA256: hex.EncodeToString(sum[:]),
		TS:     time.Now().UTC().Format("2006-01-02T15:04:05Z"),
		Owner:  g.Owner,
	}
	scData, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sidecar for %s: %w", path, err)
	}
	return WriteFileAtomic(SidecarPath(path), scData)
}

// Verify recomputes the artifact's hash and compares it to the sidecar.
func (g *Guard) Verify(path string) Result {
	res := Result{Path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		res.Status = StatusMissing
		return res
	}
	sum := sha256.Sum256(data)
	res.Current = hex.EncodeToString(sum[:])

	var sc Sidecar
	if err := ReadJSON(SidecarPath(path), &sc); err != nil || sc.SHA256 == "" {
		res.Status = StatusMissing
		return res
	}
	res.Recorded = sc.SHA256

	if res.Recorded == res.Current {
		res.Status = StatusOK
	} else {
		res.Status = StatusMismatch
	}
	return res
}

// WriteFileAtomic writes data to a temp file in the same directory and
// renames it over the target, so a crash mid-write never leaves a
// half-written primary file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// ReadJSON decodes a JSON file into v. Callers that need fail-soft behavior
// check the error and fall back to defaults.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

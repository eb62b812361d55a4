package signal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/filelock"
	"github.com/Iron-Ham/conductor/internal/session"
	"github.com/Iron-Ham/conductor/internal/util"
)

// Status is the outcome recorded in a signal.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFail    Status = "fail"
)

// File suffixes.
const (
	ExtDone = ".done"
	ExtFail = ".fail"
)

// Keys in a signal file.
const (
	KeyPath      = "path"
	KeySize      = "size"
	KeyStatus    = "status"
	KeyCreatedAt = "created_at"
	KeyError     = "error"
	KeyTraceID   = "trace_id"
	KeyVersion   = "version"
	KeyPrevious  = "previous"
)

var keyOrder = []string{KeyPath, KeySize, KeyStatus, KeyCreatedAt, KeyError, KeyTraceID, KeyVersion, KeyPrevious}

var requiredKeys = []string{KeyPath, KeySize, KeyStatus, KeyCreatedAt}

// Signal is one parsed signal file.
type Signal struct {
	// Name is the file name without its suffix.
	Name      string
	File      string
	Artifact  string
	Size      int64
	Status    Status
	CreatedAt time.Time
	Error     string
	TraceID   string
	Version   int
	Previous  string
}

// Failed reports whether the signal records a failure.
func (s *Signal) Failed() bool {
	return s.Status != StatusSuccess
}

// Params describes a signal to write.
type Params struct {
	Layer  string
	Name   string
	Status Status
	// Artifact is the path of the produced file, if any.
	Artifact string
	// Size is the artifact's byte size. Negative means stat the artifact.
	Size    int64
	Error   string
	TraceID string
	// Version and Previous link a refined artifact to its predecessor.
	Version  int
	Previous string
}

// FileName returns the signal file name for a layer, name and status.
func FileName(layer, name string, status Status) string {
	ext := ExtDone
	if status != StatusSuccess {
		ext = ExtFail
	}
	return BaseName(layer, name) + ext
}

// BaseName returns the suffix-less signal name.
func BaseName(layer, name string) string {
	if layer == "" {
		return util.Slug(name)
	}
	return util.Slug(layer) + "-" + util.Slug(name)
}

// Write creates a signal under the session's .signals directory and returns
// its path. The content goes to a sibling temp file that is linked into
// place, so a reader never observes a partial signal. Writers of one name
// serialize on a per-name lock file; the first to commit wins and every
// later write under either suffix fails with ErrSignalExists.
func Write(sessionDir string, p Params) (string, error) {
	if p.Name == "" {
		return "", errors.NewSignalError("signal name is required", errors.ErrInvalidInput)
	}
	if p.Status != StatusSuccess && p.Status != StatusFail {
		return "", errors.NewSignalError(fmt.Sprintf("invalid status %q", p.Status), errors.ErrInvalidInput)
	}

	dir := filepath.Join(sessionDir, session.DirSignals)
	base := BaseName(p.Layer, p.Name)
	final := filepath.Join(dir, FileName(p.Layer, p.Name, p.Status))

	size := p.Size
	if size < 0 {
		size = 0
		if p.Artifact != "" {
			if st, err := os.Stat(p.Artifact); err == nil {
				size = st.Size()
			}
		}
	}

	rec := session.Record{
		KeyPath:      p.Artifact,
		KeySize:      strconv.FormatInt(size, 10),
		KeyStatus:    string(p.Status),
		KeyCreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		KeyError:     p.Error,
		KeyTraceID:   p.TraceID,
		KeyPrevious:  p.Previous,
	}
	if rec[KeyPath] == "" {
		rec[KeyPath] = "-"
	}
	if p.Version > 0 {
		rec[KeyVersion] = strconv.Itoa(p.Version)
	}

	data := session.FormatKV(rec, keyOrder...)
	err := filelock.With(context.Background(), lockPath(dir, base), func() error {
		for _, ext := range []string{ExtDone, ExtFail} {
			existing := filepath.Join(dir, base+ext)
			if _, err := os.Stat(existing); err == nil {
				return errors.NewSignalError("signal already written", errors.ErrSignalExists).WithPath(existing)
			}
		}
		if err := util.WriteFileExclusive(final, data, 0644); err != nil {
			if os.IsExist(err) {
				return errors.NewSignalError("signal already written", errors.ErrSignalExists).WithPath(final)
			}
			return errors.NewSignalError("write signal", err).WithPath(final)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return final, nil
}

// lockPath is the lock file guarding writes of one signal name. Its suffix
// keeps it out of signal listings.
func lockPath(dir, base string) string {
	return filepath.Join(dir, "."+base+".lock")
}

// Read parses the signal at path. A malformed .fail signal still yields a
// failed Signal whose Error reports it as unparseable; a malformed .done
// signal returns ErrSignalMalformed.
func Read(path string) (*Signal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewSignalError("read signal", err).WithPath(path)
	}
	sig, perr := Parse(path, data)
	if perr == nil {
		return sig, nil
	}
	if strings.HasSuffix(path, ExtFail) {
		return &Signal{
			Name:   nameOf(path),
			File:   path,
			Status: StatusFail,
			Error:  "unparseable signal: " + perr.Error(),
		}, nil
	}
	return nil, perr
}

// Parse decodes signal content. The file suffix decides the status.
func Parse(path string, data []byte) (*Signal, error) {
	rec, err := session.ParseKV(data)
	if err != nil {
		return nil, errors.NewSignalError("parse signal", err).WithPath(path)
	}
	for _, k := range requiredKeys {
		if _, ok := rec[k]; !ok {
			return nil, errors.NewSignalError("missing key "+k, errors.ErrSignalMalformed).WithPath(path)
		}
	}
	size, err := strconv.ParseInt(rec.Get(KeySize), 10, 64)
	if err != nil {
		return nil, errors.NewSignalError("invalid size", errors.ErrSignalMalformed).WithPath(path)
	}
	created, err := time.Parse(time.RFC3339Nano, rec.Get(KeyCreatedAt))
	if err != nil {
		return nil, errors.NewSignalError("invalid created_at", errors.ErrSignalMalformed).WithPath(path)
	}

	sig := &Signal{
		Name:      nameOf(path),
		File:      path,
		Artifact:  rec.Get(KeyPath),
		Size:      size,
		Status:    StatusSuccess,
		CreatedAt: created,
		Error:     rec.Get(KeyError),
		TraceID:   rec.Get(KeyTraceID),
		Previous:  rec.Get(KeyPrevious),
	}
	if sig.Artifact == "-" {
		sig.Artifact = ""
	}
	if strings.HasSuffix(path, ExtFail) {
		sig.Status = StatusFail
	}
	if v := rec.Get(KeyVersion); v != "" {
		sig.Version, _ = strconv.Atoi(v)
	}
	return sig, nil
}

func nameOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(strings.TrimSuffix(base, ExtDone), ExtFail)
}

func isSignalFile(name string) bool {
	return strings.HasSuffix(name, ExtDone) || strings.HasSuffix(name, ExtFail)
}

package campaign

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/conductor/internal/session"
	"github.com/Iron-Ham/conductor/internal/util"
)

// ResolutionFile is the pending CEO review resolution under resolutions/.
const ResolutionFile = "ceo-review.md"

var approvals = map[string]bool{
	"approve":  true,
	"approved": true,
	"lgtm":     true,
	"ok":       true,
	"okay":     true,
}

// IsApproval reports whether a resolution approves the plan. Only the first
// word counts, case-insensitively; anything else is feedback.
func IsApproval(text string) bool {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return false
	}
	return approvals[strings.Trim(fields[0], ".,!:;\"'")]
}

// ResolutionPath returns where a reviewer's resolution is expected.
func ResolutionPath(sess *session.Session) string {
	return filepath.Join(sess.ResolutionsDir(), ResolutionFile)
}

// WriteResolution records a reviewer's resolution for the next run.
func WriteResolution(sess *session.Session, text string) (string, error) {
	path := ResolutionPath(sess)
	return path, util.WriteFileAtomic(path, []byte(strings.TrimSpace(text)+"\n"), 0644)
}

// readResolution returns the pending resolution text, or "" when none.
func readResolution(sess *session.Session) (string, error) {
	data, err := os.ReadFile(ResolutionPath(sess))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

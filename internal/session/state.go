package session

import (
	"context"
	"fmt"
	"os"

	"github.com/Iron-Ham/conductor/internal/filelock"
	"github.com/Iron-Ham/conductor/internal/util"
)

// ReadState reads a key/value state file. A missing file yields an empty
// record.
func ReadState(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	return ParseKV(data)
}

// WriteState replaces a state file atomically.
func WriteState(path string, rec Record, order ...string) error {
	return util.WriteFileAtomic(path, FormatKV(rec, order...), 0644)
}

// UpdateState applies fn to the current contents of path and writes the
// result, holding an exclusive lock on path+".lock" for the read-modify-write.
func UpdateState(ctx context.Context, path string, fn func(Record), order ...string) (Record, error) {
	var out Record
	err := filelock.With(ctx, path+".lock", func() error {
		rec, err := ReadState(path)
		if err != nil {
			return err
		}
		fn(rec)
		out = rec
		return WriteState(path, rec, order...)
	})
	return out, err
}

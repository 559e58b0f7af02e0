package syncdaemon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/wildland-go/wildland/pkg/storagebackend"
	"github.com/wildland-go/wildland/pkg/wlerr"
)

// fileState is one entry of a side's index: content hash and
// modification time, the pair spec.md §4.7 says both sides must
// produce during SCANNING.
type fileState struct {
	Hash    string
	ModTime time.Time
	Size    int64
}

// index is a complete path -> fileState map for one side of a job.
type index map[string]fileState

// scan walks backend depth-first from "/" and hashes every regular
// file it finds, building the complete index SCANNING requires.
func scan(ctx context.Context, backend storagebackend.Backend) (index, error) {
	idx := index{}
	var walk func(path string) error
	walk = func(path string) error {
		entries, err := backend.Readdir(ctx, path)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			childPath := path
			if childPath == "/" {
				childPath += entry.Name
			} else {
				childPath += "/" + entry.Name
			}
			if entry.IsDir {
				if err := walk(childPath); err != nil {
					return err
				}
				continue
			}
			data, err := backend.Read(ctx, childPath, 0, -1)
			if err != nil {
				return err
			}
			idx[childPath] = fileState{
				Hash:    hashBytes(data),
				ModTime: entry.ModTime,
				Size:    entry.Size,
			}
		}
		return nil
	}
	if err := walk("/"); err != nil {
		return nil, wlerr.Wrap(wlerr.ErrBackendIO, "scanning: %v", err)
	}
	return idx, nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// diffOp is one action the work queue produced by diffing two indexes
// needs a replicator to perform.
type diffOp struct {
	Path string
	// ToTarget is true when data should flow source->target, false
	// for target->source. Delete is true when the op is a removal
	// rather than a copy.
	ToTarget bool
	Delete   bool
}

// diff computes the work queue between two indexes under the
// direction and conflict rules spec.md §4.7 states: unidirectional
// jobs only ever produce source->target ops; bidirectional jobs
// resolve divergence by last-writer-wins on mtime, breaking ties by
// lexicographic hash order.
func diff(source, target index, unidirectional bool) []diffOp {
	var ops []diffOp
	seen := map[string]bool{}

	for path, s := range source {
		seen[path] = true
		t, ok := target[path]
		if !ok {
			ops = append(ops, diffOp{Path: path, ToTarget: true})
			continue
		}
		if s.Hash == t.Hash {
			continue
		}
		if unidirectional {
			ops = append(ops, diffOp{Path: path, ToTarget: true})
			continue
		}
		if winner := resolveConflict(s, t); winner == sourceWins {
			ops = append(ops, diffOp{Path: path, ToTarget: true})
		} else if winner == targetWins {
			ops = append(ops, diffOp{Path: path, ToTarget: false})
		}
	}

	if !unidirectional {
		for path := range target {
			if seen[path] {
				continue
			}
			ops = append(ops, diffOp{Path: path, ToTarget: false})
		}
	}

	return ops
}

type conflictWinner int

const (
	sourceWins conflictWinner = iota
	targetWins
)

// resolveConflict breaks a two-sided modification by newest mtime,
// then by lexicographically larger hash, per spec.md §4.7.
func resolveConflict(source, target fileState) conflictWinner {
	if source.ModTime.After(target.ModTime) {
		return sourceWins
	}
	if target.ModTime.After(source.ModTime) {
		return targetWins
	}
	if source.Hash > target.Hash {
		return sourceWins
	}
	return targetWins
}

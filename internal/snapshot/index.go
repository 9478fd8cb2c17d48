package snapshot

import (
	"context"
	"os"
)

// savedIndex is a byte copy of the repository index
type savedIndex struct {
	path    string
	data    []byte
	existed bool
	mode    os.FileMode
}

func (s *Snapshotter) saveIndex(ctx context.Context) (*savedIndex, error) {
	path, err := s.git.IndexFile(ctx)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return &savedIndex{path: path}, nil
	}
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &savedIndex{path: path, data: data, existed: true, mode: info.Mode().Perm()}, nil
}

// restore writes the copy back through a rename so git never sees a
// partially written index.
func (i *savedIndex) restore() error {
	if !i.existed {
		if err := os.Remove(i.path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	tmp := i.path + ".ctxlink"
	if err := os.WriteFile(tmp, i.data, i.mode); err != nil {
		return err
	}
	return os.Rename(tmp, i.path)
}

package archive

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
)

const archiveSuffix = ".json.gz"

// Source lists and opens archive files under a root directory. The
// filesystem is injected so tests run against an in-memory fs.
type Source struct {
	fs   billy.Filesystem
	root string
}

func NewSource(fs billy.Filesystem, root string) *Source {
	return &Source{fs: fs, root: root}
}

// List returns the stable file identifiers of every archive under the root,
// sorted lexically (which for hourly archives is also chronological order).
func (s *Source) List() ([]string, error) {
	entries, err := s.fs.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list archives %s: %w", s.root, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := FileID(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Open returns the byte stream for one archive file identifier.
func (s *Source) Open(fileID string) (io.ReadCloser, error) {
	f, err := s.fs.Open(s.fs.Join(s.root, fileID+archiveSuffix))
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", fileID, err)
	}
	return f, nil
}

// FileID derives the stable identifier from an archive file name, e.g.
// "2023-04-01-15.json.gz" -> "2023-04-01-15". Returns false for names that
// are not archives.
func FileID(name string) (string, bool) {
	if !strings.HasSuffix(name, archiveSuffix) {
		return "", false
	}
	id := strings.TrimSuffix(name, archiveSuffix)
	if id == "" {
		return "", false
	}
	return id, true
}

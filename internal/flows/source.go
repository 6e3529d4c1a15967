package flows

import (
	"fmt"

	"github.com/modelci/modelci/internal/pipeline"
)

// DirSource resolves pipeline definitions from a directory of yaml files.
// Files are re-read on every lookup so edits take effect without a restart;
// the loader's content-hash cache keeps that cheap.
type DirSource struct {
	Loader *pipeline.Loader
	Dir    string
}

func (s *DirSource) Find(name string) (*pipeline.Pipeline, error) {
	defs, err := s.Loader.LoadDir(s.Dir)
	if err != nil {
		return nil, err
	}
	for _, d := range defs {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no pipeline named %q in %s", name, s.Dir)
}

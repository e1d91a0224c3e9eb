// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package manifest reads job manifests: TSV files that assign alignment files
// to sample groups.
//
// A manifest has a header row and the columns
//
//   group    label of the sample group
//   control  whether the group is a control group (true/false, 1/0, ...)
//   path     alignment file; relative paths are resolved against the
//            manifest's directory
//
// Lines starting with '#' are comments. Every row of a group must carry the
// same control flag.
package manifest

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/rnaseq/store"
)

type row struct {
	Group   string `tsv:"group"`
	Control string `tsv:"control"`
	Path    string `tsv:"path"`
}

// Group is one sample group of a manifest.
type Group struct {
	Label     string
	IsControl bool
	Files     []string
}

// Manifest lists groups in the order they first appear.
type Manifest struct {
	Groups []Group
}

// Parse reads a manifest from r. Relative paths are joined to dir.
func Parse(r io.Reader, dir string) (*Manifest, error) {
	tr := tsv.NewReader(r)
	tr.HasHeaderRow = true
	tr.UseHeaderNames = true
	tr.Comment = '#'
	m := &Manifest{}
	index := map[string]int{}
	for n := 1; ; n++ {
		var rw row
		if err := tr.Read(&rw); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.E(err, "read manifest")
		}
		label, path := strings.TrimSpace(rw.Group), strings.TrimSpace(rw.Path)
		if label == "" || path == "" {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("manifest row %d: group and path must be nonempty", n))
		}
		control, err := strconv.ParseBool(strings.TrimSpace(rw.Control))
		if err != nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("manifest row %d: bad control flag %q", n, rw.Control))
		}
		if !filepath.IsAbs(path) && !strings.Contains(path, "://") && dir != "" {
			path = filepath.Join(dir, path)
		}
		i, ok := index[label]
		if !ok {
			i = len(m.Groups)
			index[label] = i
			m.Groups = append(m.Groups, Group{Label: label, IsControl: control})
		} else if m.Groups[i].IsControl != control {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("manifest row %d: group %s is marked both control and experimental", n, label))
		}
		m.Groups[i].Files = append(m.Groups[i].Files, path)
	}
	return m, nil
}

// Read reads the manifest at path and checks that every listed file exists.
func Read(ctx context.Context, path string) (m *Manifest, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open", path)
	}
	defer func() {
		if cerr := in.Close(ctx); cerr != nil && err == nil {
			err = errors.E(cerr, "close", path)
		}
	}()
	if m, err = Parse(in.Reader(ctx), filepath.Dir(path)); err != nil {
		return nil, errors.E(err, path)
	}
	for _, g := range m.Groups {
		for _, f := range g.Files {
			if _, err := file.Stat(ctx, f); err != nil {
				return nil, errors.E(errors.NotExist, fmt.Sprintf("%s: group %s: alignment file %s", path, g.Label, f), err)
			}
		}
	}
	return m, nil
}

// Register makes sure every group of m exists in db, creating missing ones,
// and returns them in manifest order. An existing group with a different
// control flag is an error.
func (m *Manifest) Register(ctx context.Context, db *store.DB) ([]store.SampleGroup, error) {
	var groups []store.SampleGroup
	err := db.Update(ctx, func(tx *store.Tx) error {
		groups = groups[:0]
		for _, g := range m.Groups {
			sg, err := tx.GroupByLabel(ctx, g.Label)
			switch {
			case err == nil:
				if sg.IsControl != g.IsControl {
					return errors.E(errors.Invalid, fmt.Sprintf("group %s: store has control=%v, manifest has control=%v",
						g.Label, sg.IsControl, g.IsControl))
				}
			case errors.Is(errors.NotExist, err):
				if sg, err = tx.CreateGroup(ctx, store.SampleGroup{Label: g.Label, IsControl: g.IsControl}); err != nil {
					return err
				}
				log.Debug.Printf("created sample group %d (%s)", sg.ID, sg.Label)
			default:
				return err
			}
			groups = append(groups, sg)
		}
		return nil
	})
	return groups, err
}

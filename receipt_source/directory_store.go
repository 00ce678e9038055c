/***************************************************************
 *
 * Copyright (C) 2026, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package receipt_source

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// DirectoryStore serves receipt objects from a directory tree, treating the
// key as a slash-separated path below the root.  It backs local
// deployments and the fixtures used in tests.
type DirectoryStore struct {
	fs   afero.Fs
	root string
}

func NewDirectoryStore(fs afero.Fs, root string) *DirectoryStore {
	return &DirectoryStore{fs: fs, root: root}
}

// Cleaning against "/" first keeps ".." segments from leaving the root.
func (d *DirectoryStore) resolve(key string) string {
	return filepath.Join(d.root, filepath.FromSlash(path.Clean("/"+key)))
}

func (d *DirectoryStore) stat(key string) (os.FileInfo, ObjectResult, bool) {
	info, err := d.fs.Stat(d.resolve(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(), false
		}
		return nil, failed(errors.Wrapf(err, "failed to stat %s", key)), false
	}
	if info.IsDir() {
		return nil, notFound(), false
	}
	return info, ObjectResult{}, true
}

// The ETag mirrors the modification-time/size form common to static file
// servers, quoted the way an HTTP server would send it.
func directoryETag(info os.FileInfo) string {
	return fmt.Sprintf(`"%x-%x"`, info.ModTime().UnixNano(), info.Size())
}

func (d *DirectoryStore) Head(ctx context.Context, key string) ObjectResult {
	if err := ctx.Err(); err != nil {
		return failed(err)
	}
	info, res, ok := d.stat(key)
	if !ok {
		return res
	}
	return found(directoryETag(info), "", nil)
}

func (d *DirectoryStore) Get(ctx context.Context, key string) ObjectResult {
	if err := ctx.Err(); err != nil {
		return failed(err)
	}
	info, res, ok := d.stat(key)
	if !ok {
		return res
	}
	body, err := afero.ReadFile(d.fs, d.resolve(key))
	if err != nil {
		if os.IsNotExist(err) {
			return notFound()
		}
		return failed(errors.Wrapf(err, "failed to read %s", key))
	}
	return found(directoryETag(info), "", body)
}

// Copyright 2023 The iodisco Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package device

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"

	"iodisco.dev/iodisco/pkg/catalog"
)

// DRMMajor is the character device major of DRM nodes.
const DRMMajor = 226

// Node is the metadata of a device node, read without opening it.
type Node struct {
	Path  string      `json:"path"`
	Major uint32      `json:"major"`
	Minor uint32      `json:"minor"`
	UID   uint32      `json:"uid"`
	GID   uint32      `json:"gid"`
	Mode  os.FileMode `json:"mode"`

	// Char is set for character devices.
	Char bool `json:"-"`
}

// nodePattern matches one kind of GPU node.
type nodePattern struct {
	glob     string
	re       *regexp.Regexp
	families []catalog.Family
}

// Mali nodes serve either kbase flavour; CSF is tried first since its
// version check fails cleanly on job manager drivers.
var nodePatterns = []nodePattern{
	{"dev/mali*", regexp.MustCompile(`(^|/)mali\d+$`), []catalog.Family{catalog.MaliCSF, catalog.Mali}},
	{"dev/kgsl-3d*", regexp.MustCompile(`(^|/)kgsl-3d\d+$`), []catalog.Family{catalog.KGSL}},
	{"dev/dri/renderD*", regexp.MustCompile(`(^|/)dri/renderD\d+$`), []catalog.Family{catalog.DRM}},
	{"dev/dri/card*", regexp.MustCompile(`(^|/)dri/card\d+$`), []catalog.Family{catalog.DRM}},
}

// Recognized returns true if n looks like a GPU node.
func (n Node) Recognized() bool {
	return n.Char && len(n.hint()) > 0
}

func (n Node) hint() []catalog.Family {
	for _, p := range nodePatterns {
		if p.re.MatchString(n.Path) {
			return p.families
		}
	}
	if n.Major == DRMMajor {
		return []catalog.Family{catalog.DRM}
	}
	return nil
}

// Candidates returns the families to try when identifying the driver
// behind n: those suggested by its path first, then the rest.
func (n Node) Candidates() []catalog.Family {
	res := append([]catalog.Family(nil), n.hint()...)
	for _, f := range catalog.Families() {
		seen := false
		for _, g := range res {
			if f == g {
				seen = true
				break
			}
		}
		if !seen {
			res = append(res, f)
		}
	}
	return res
}

// OCIDevice renders n as an OCI runtime device entry, for passing the node
// to a container.
func (n Node) OCIDevice() specs.LinuxDevice {
	mode := n.Mode
	uid, gid := n.UID, n.GID
	return specs.LinuxDevice{
		Path:     n.Path,
		Type:     "c",
		Major:    int64(n.Major),
		Minor:    int64(n.Minor),
		FileMode: &mode,
		UID:      &uid,
		GID:      &gid,
	}
}

// Scan lists the GPU nodes under root, "/" on a live system, sorted by
// path.
func Scan(sys System, root string) ([]Node, error) {
	var res []Node
	for _, p := range nodePatterns {
		paths, err := filepath.Glob(filepath.Join(root, p.glob))
		if err != nil {
			return nil, fmt.Errorf("enumerating GPU device files: %w", err)
		}
		for _, path := range paths {
			if !p.re.MatchString(path) {
				continue
			}
			n, err := sys.Stat(path)
			if err != nil || !n.Char {
				continue
			}
			res = append(res, n)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Path < res[j].Path })
	return res, nil
}

// System is the host interface of the Manager.
type System interface {
	// Stat returns the metadata of path without opening it.
	Stat(path string) (Node, error)

	// Credentials returns the effective user and every group of the
	// process.
	Credentials() (uid uint32, gids []uint32, err error)

	// GroupName returns the name of group gid.
	GroupName(gid uint32) (string, error)

	Open(path string, flags int) (int, error)
	Close(fd int) error
}

// Host is the System of the running process.
type Host struct{}

// Stat implements System.Stat.
func (Host) Stat(path string) (Node, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return Node{}, err
	}
	return Node{
		Path:  path,
		Major: unix.Major(uint64(st.Rdev)),
		Minor: unix.Minor(uint64(st.Rdev)),
		UID:   st.Uid,
		GID:   st.Gid,
		Mode:  os.FileMode(st.Mode & 0o777),
		Char:  st.Mode&unix.S_IFMT == unix.S_IFCHR,
	}, nil
}

// Credentials implements System.Credentials.
func (Host) Credentials() (uint32, []uint32, error) {
	groups, err := unix.Getgroups()
	if err != nil {
		return 0, nil, err
	}
	gids := []uint32{uint32(unix.Getegid())}
	for _, g := range groups {
		gids = append(gids, uint32(g))
	}
	return uint32(unix.Geteuid()), gids, nil
}

// GroupName implements System.GroupName.
func (Host) GroupName(gid uint32) (string, error) {
	g, err := user.LookupGroupId(strconv.FormatUint(uint64(gid), 10))
	if err != nil {
		return "", err
	}
	return g.Name, nil
}

// Open implements System.Open.
func (Host) Open(path string, flags int) (int, error) {
	return unix.Open(path, flags|unix.O_CLOEXEC, 0)
}

// Close implements System.Close.
func (Host) Close(fd int) error {
	return unix.Close(fd)
}

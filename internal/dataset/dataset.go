package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// MissingFileError reports a subject directory that lacks a file the naming
// convention expects.
type MissingFileError struct {
	Subject string
	Role    Role
	Path    string
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("subject %s is missing its %s file (expected %s)", e.Subject, e.Role, e.Path)
}

// UnknownRoleError reports a role outside the configured set, either because
// the naming convention cannot produce a name for it or because a path map
// was queried for a role it never collected.
type UnknownRoleError struct {
	Subject string
	Role    Role
}

func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("role %s is not configured for subject %s", e.Role, e.Subject)
}

// PathMap holds the collected file paths of one subject, exactly one per
// configured role.
type PathMap struct {
	subject string
	paths   map[Role]string
}

// Subject returns the subject identifier the paths belong to.
func (m PathMap) Subject() string { return m.subject }

// Path returns the collected path for a role.
func (m PathMap) Path(r Role) (string, error) {
	p, ok := m.paths[r]
	if !ok {
		return "", &UnknownRoleError{Subject: m.subject, Role: r}
	}
	return p, nil
}

// Roles returns the collected roles in declaration order.
func (m PathMap) Roles() []Role {
	roles := make([]Role, 0, len(m.paths))
	for r := range m.paths {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// Subject couples a subject identifier with its directory and collected
// paths.
type Subject struct {
	ID    string
	Dir   string
	Files PathMap
}

// Collector walks a study root and resolves the per-subject files for a
// fixed set of roles under an injected naming convention.
type Collector struct {
	root  string
	roles []Role
	namer Namer
}

// NewCollector builds a collector over root. A nil namer falls back to the
// stock convention.
func NewCollector(root string, roles []Role, namer Namer) *Collector {
	if namer == nil {
		namer = DefaultNamer
	}
	return &Collector{root: root, roles: roles, namer: namer}
}

// Root returns the study root directory.
func (c *Collector) Root() string { return c.root }

// Roles returns the configured roles.
func (c *Collector) Roles() []Role {
	return append([]Role(nil), c.roles...)
}

// Subjects lists the subject directories under the study root in sorted
// order. Hidden directories are skipped.
func (c *Collector) Subjects() ([]string, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read study root: %w", err)
	}
	var subjects []string
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		subjects = append(subjects, entry.Name())
	}
	sort.Strings(subjects)
	return subjects, nil
}

// Collect resolves every configured role for one subject. Each role must
// map to exactly one existing file or directory; the first violation is
// returned.
func (c *Collector) Collect(subject string) (Subject, error) {
	dir := filepath.Join(c.root, subject)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return Subject{}, fmt.Errorf("subject directory %s does not exist", dir)
	}

	paths := make(map[Role]string, len(c.roles))
	for _, role := range c.roles {
		name := c.namer(role)
		if name == "" {
			return Subject{}, &UnknownRoleError{Subject: subject, Role: role}
		}
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			return Subject{}, &MissingFileError{Subject: subject, Role: role, Path: path}
		}
		paths[role] = path
	}

	return Subject{
		ID:    subject,
		Dir:   dir,
		Files: PathMap{subject: subject, paths: paths},
	}, nil
}

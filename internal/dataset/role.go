// Package dataset locates the per-subject input files of a study. A study
// root holds one directory per subject; within a subject directory, a naming
// convention maps each configured role to exactly one file.
package dataset

import (
	"fmt"
	"strings"
)

// Role identifies what a file contributes to the pipeline. The set is
// closed: stages switch on roles and rely on every case being known at
// compile time.
type Role int

const (
	RoleT1 Role = iota
	RoleT2
	RoleGroundTruth
	RoleBrainMask
)

// AllRoles returns every defined role in declaration order.
func AllRoles() []Role {
	return []Role{RoleT1, RoleT2, RoleGroundTruth, RoleBrainMask}
}

func (r Role) String() string {
	switch r {
	case RoleT1:
		return "T1"
	case RoleT2:
		return "T2"
	case RoleGroundTruth:
		return "GroundTruth"
	case RoleBrainMask:
		return "BrainMask"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Kind partitions roles by sample semantics: scans carry continuous
// intensities, label maps carry discrete identifiers.
type Kind int

const (
	KindIntensity Kind = iota
	KindLabel
)

func (k Kind) String() string {
	if k == KindLabel {
		return "label"
	}
	return "intensity"
}

// Kind returns the sample semantics of the role. T1 and T2 scans are
// intensity volumes; ground truth and brain masks are label maps.
func (r Role) Kind() Kind {
	switch r {
	case RoleGroundTruth, RoleBrainMask:
		return KindLabel
	default:
		return KindIntensity
	}
}

// ParseRole maps a configuration or command-line spelling to a role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "t1":
		return RoleT1, nil
	case "t2":
		return RoleT2, nil
	case "groundtruth", "ground_truth", "ground-truth", "labels":
		return RoleGroundTruth, nil
	case "brainmask", "brain_mask", "brain-mask", "mask":
		return RoleBrainMask, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

// ParseRoles maps a list of spellings, rejecting duplicates.
func ParseRoles(specs []string) ([]Role, error) {
	seen := make(map[Role]bool, len(specs))
	roles := make([]Role, 0, len(specs))
	for _, s := range specs {
		r, err := ParseRole(s)
		if err != nil {
			return nil, err
		}
		if seen[r] {
			return nil, fmt.Errorf("role %s listed twice", r)
		}
		seen[r] = true
		roles = append(roles, r)
	}
	return roles, nil
}

// Namer maps a role to the file name expected inside a subject directory.
// Returning the empty string declares the role unknown to this convention.
type Namer func(Role) string

// DefaultNamer implements the stock naming convention for native-space
// volumes in the MetaImage format.
func DefaultNamer(r Role) string {
	switch r {
	case RoleT1:
		return "T1native.mha"
	case RoleT2:
		return "T2native.mha"
	case RoleGroundTruth:
		return "labels_native.mha"
	case RoleBrainMask:
		return "Brainmasknative.mha"
	default:
		return ""
	}
}

// NamerWithExt derives a convention that keeps the stock base names but
// swaps the file extension, for studies stored as NIfTI or raw pairs.
func NamerWithExt(ext string) Namer {
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return func(r Role) string {
		name := DefaultNamer(r)
		if name == "" {
			return ""
		}
		return strings.TrimSuffix(name, ".mha") + ext
	}
}

package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownArtefactKind is returned when a manifest names an artefact kind
// that this catalog does not track
var ErrUnknownArtefactKind = errors.New("unknown artefact kind")

// ArtefactKind is the closed set of release-level artefacts
type ArtefactKind int

const (
	ArtefactInstallerMSI ArtefactKind = iota + 1
	ArtefactInstallerPkg
	ArtefactSourceCode
)

var artefactKeys = map[ArtefactKind]string{
	ArtefactInstallerMSI: "installer-msi",
	ArtefactInstallerPkg: "installer-pkg",
	ArtefactSourceCode:   "source-code",
}

// ParseArtefactKind maps a manifest artefact key such as "installer-msi" to its kind
func ParseArtefactKind(key string) (ArtefactKind, error) {
	for kind, k := range artefactKeys {
		if k == key {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownArtefactKind, key)
}

// String returns the manifest key of the kind
func (k ArtefactKind) String() string {
	if key, ok := artefactKeys[k]; ok {
		return key
	}
	return fmt.Sprintf("ArtefactKind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler
func (k ArtefactKind) MarshalText() ([]byte, error) {
	if _, ok := artefactKeys[k]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownArtefactKind, int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *ArtefactKind) UnmarshalText(text []byte) error {
	kind, err := ParseArtefactKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// Profile names published in manifests
const (
	ProfileMinimal  = "minimal"
	ProfileDefault  = "default"
	ProfileComplete = "complete"
)

// Release is one toolchain release parsed from a manifest document
type Release struct {
	Version         string              `json:"version"`
	ReleaseDate     time.Time           `json:"release_date"`
	Manifest        string              `json:"manifest"`
	IsLatestStable  bool                `json:"is_latest_stable"`
	IsLatestBeta    bool                `json:"is_latest_beta"`
	IsLatestNightly bool                `json:"is_latest_nightly"`
	Components      []Component         `json:"components"`
	Artefacts       []Artefact          `json:"artefacts"`
	Profiles        map[string][]string `json:"profiles,omitempty"`
	Renames         map[string]string   `json:"renames,omitempty"`
}

// Component is a package shipped with a release
type Component struct {
	Name       string   `json:"name"`
	Version    string   `json:"version"`
	GitCommit  string   `json:"git_commit,omitempty"`
	InComplete bool     `json:"in_complete"`
	InDefault  bool     `json:"in_default"`
	InMinimal  bool     `json:"in_minimal"`
	Targets    []Target `json:"targets"`
}

// Target is a per-platform download of a component
type Target struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Hash string `json:"hash"`
}

// Artefact is a release-level download such as an installer or source tarball
type Artefact struct {
	Kind       ArtefactKind `json:"kind"`
	TargetName string       `json:"target"`
	URL        string       `json:"url"`
	Hash       string       `json:"hash"`
}

// ReleaseDateString formats the release date the way it is stored
func (r *Release) ReleaseDateString() string {
	return r.ReleaseDate.Format(DateLayout)
}

// DateLayout is the layout of manifest and stored release dates
const DateLayout = "2006-01-02"

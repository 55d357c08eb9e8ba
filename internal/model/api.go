package model

// ReleaseSummary is a release entry in list responses
type ReleaseSummary struct {
	Version       string `json:"version"`
	ReleaseDate   string `json:"releaseDate"`
	LatestStable  bool   `json:"latestStable"`
	LatestBeta    bool   `json:"latestBeta"`
	LatestNightly bool   `json:"latestNightly"`
}

// ReleaseInfo is the detailed view of one release
type ReleaseInfo struct {
	ReleaseSummary
	GitCommit  string            `json:"gitCommit,omitempty"`
	Components []ComponentInfo   `json:"components"`
	Artefacts  []ArtefactInfo    `json:"artefacts,omitempty"`
	Renames    map[string]string `json:"renames,omitempty"`
}

// ComponentInfo is a component with its downloadable targets
type ComponentInfo struct {
	Name            string       `json:"name"`
	Version         string       `json:"version"`
	GitCommit       string       `json:"gitCommit,omitempty"`
	ProfileComplete bool         `json:"profileComplete"`
	ProfileDefault  bool         `json:"profileDefault"`
	ProfileMinimal  bool         `json:"profileMinimal"`
	Targets         []TargetInfo `json:"targets"`
}

// TargetInfo is a single platform download
type TargetInfo struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Hash string `json:"hash"`
}

// ArtefactInfo is a release-level download
type ArtefactInfo struct {
	Kind   string `json:"kind"`
	Target string `json:"target"`
	URL    string `json:"url"`
	Hash   string `json:"hash"`
}

// SyncStatus describes the latest committed sync run
type SyncStatus struct {
	RunID      string `json:"runId"`
	StartedAt  int64  `json:"startedAt"`
	FinishedAt int64  `json:"finishedAt"`
	Planned    int    `json:"planned"`
	Parsed     int    `json:"parsed"`
	Inserted   int    `json:"inserted"`
	Failed     int    `json:"failed"`
	Stable     string `json:"stable,omitempty"`
	Beta       string `json:"beta,omitempty"`
	Nightly    string `json:"nightly,omitempty"`
}

package manifest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ippclub/rustdist/internal/model"
	"go.uber.org/zap"
)

// Fetcher retrieves raw manifest documents
type Fetcher interface {
	Fetch(ctx context.Context, identifier string) ([]byte, error)
}

// Parser turns manifest documents into releases
type Parser struct {
	logger *zap.Logger
}

// NewParser creates a new Parser
func NewParser(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger}
}

// Load fetches, decodes and parses one manifest. Any failure is returned as
// a *ParseError tagged with the stage that failed.
func (p *Parser) Load(ctx context.Context, f Fetcher, identifier string) (release *model.Release, err error) {
	defer func() {
		if r := recover(); r != nil {
			release = nil
			err = unexpected(identifier, "", fmt.Errorf("panic: %v", r))
		}
	}()

	data, err := f.Fetch(ctx, identifier)
	if err != nil {
		return nil, &ParseError{Kind: FailureTransport, Manifest: identifier, Err: err}
	}
	return p.ParseBytes(identifier, data)
}

// ParseBytes decodes and parses a manifest document
func (p *Parser) ParseBytes(identifier string, data []byte) (*model.Release, error) {
	doc, err := Decode(data)
	if err != nil {
		return nil, &ParseError{Kind: FailureDecode, Manifest: identifier, Err: err}
	}
	return p.Parse(identifier, doc)
}

// Parse extracts a release from a decoded manifest
func (p *Parser) Parse(identifier string, doc Tree) (*model.Release, error) {
	log := p.logger.With(zap.String("manifest", identifier))

	date, err := releaseDate(identifier, doc)
	if err != nil {
		return nil, err
	}

	pkg, ok := doc.Table("pkg")
	if !ok {
		return nil, missingField(identifier, "pkg")
	}
	rustc, ok := pkg.Table("rustc")
	if !ok {
		return nil, missingField(identifier, "pkg.rustc")
	}
	raw, _ := rustc.String("version")
	// "1.41.0 (5e1a79984 2020-01-27)" -> "1.41.0"
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil, missingField(identifier, "pkg.rustc.version")
	}

	release := &model.Release{
		Version:     fields[0],
		ReleaseDate: date,
		Manifest:    identifier,
		Components:  []model.Component{},
		Artefacts:   []model.Artefact{},
	}

	for _, name := range pkg.Keys() {
		comp, ok := pkg.Table(name)
		if !ok {
			log.Debug("package entry is not a table; skipping", zap.String("component", name))
			continue
		}
		component := parseComponent(name, comp, log)
		if len(component.Targets) == 0 {
			log.Debug("component has no usable targets; skipping", zap.String("component", name))
			continue
		}
		release.Components = append(release.Components, component)
	}

	if artifacts, ok := doc.Table("artifacts"); ok {
		release.Artefacts = parseArtefacts(artifacts, log)
	}

	if profiles, ok := doc.Table("profiles"); ok {
		release.Profiles = make(map[string][]string, len(profiles))
		for _, name := range profiles.Keys() {
			release.Profiles[name] = profiles.Strings(name)
		}
	}

	if renames, ok := doc.Table("renames"); ok {
		release.Renames = parseRenames(renames)
	}

	log.Debug("parsed manifest",
		zap.String("version", release.Version),
		zap.Int("components", len(release.Components)),
		zap.Int("artefacts", len(release.Artefacts)),
	)
	return release, nil
}

func releaseDate(identifier string, doc Tree) (time.Time, error) {
	switch v := doc["date"].(type) {
	case string:
		date, err := time.Parse(model.DateLayout, v)
		if err != nil {
			return time.Time{}, unexpected(identifier, "date", err)
		}
		return date, nil
	case time.Time:
		// unquoted TOML local date
		return time.Date(v.Year(), v.Month(), v.Day(), 0, 0, 0, 0, time.UTC), nil
	case nil:
		return time.Time{}, missingField(identifier, "date")
	default:
		return time.Time{}, unexpected(identifier, "date", fmt.Errorf("unsupported type %T", v))
	}
}

func parseComponent(name string, comp Tree, log *zap.Logger) model.Component {
	component := model.Component{Name: name, Targets: []model.Target{}}
	component.Version, _ = comp.String("version")
	component.GitCommit, _ = comp.String("git_commit_hash")

	targets, ok := comp.Table("target")
	if !ok {
		return component
	}
	for _, targetName := range targets.Keys() {
		target, ok := targets.Table(targetName)
		if !ok {
			continue
		}
		url, hash := downloadOf(target)
		if url == "" || hash == "" {
			log.Debug("missing url or hash for target; skipping",
				zap.String("component", name),
				zap.String("target", targetName),
			)
			continue
		}
		component.Targets = append(component.Targets, model.Target{Name: targetName, URL: url, Hash: hash})
	}
	return component
}

// downloadOf prefers the xz pair and falls back to the plain one
func downloadOf(target Tree) (string, string) {
	xzURL, _ := target.String("xz_url")
	xzHash, _ := target.String("xz_hash")
	if xzURL != "" && xzHash != "" {
		return xzURL, xzHash
	}
	url, _ := target.String("url")
	hash, _ := target.String("hash")
	return url, hash
}

func parseArtefacts(artifacts Tree, log *zap.Logger) []model.Artefact {
	out := []model.Artefact{}
	for _, key := range artifacts.Keys() {
		kind, err := model.ParseArtefactKind(key)
		if errors.Is(err, model.ErrUnknownArtefactKind) {
			log.Warn("unknown artefact kind in manifest", zap.String("kind", key))
			continue
		}
		entry, ok := artifacts.Table(key)
		if !ok {
			continue
		}
		targets, ok := entry.Table("target")
		if !ok {
			continue
		}
		for _, targetName := range targets.Keys() {
			items := targets.Tables(targetName)
			if len(items) == 0 {
				continue
			}
			// the format allows a list; upstream only ever publishes one entry
			first := items[0]
			url, _ := first.String("url")
			hash, _ := first.String("hash-sha256")
			if url == "" || hash == "" {
				log.Warn("missing url or hash for artefact",
					zap.String("kind", key),
					zap.String("target", targetName),
				)
				continue
			}
			out = append(out, model.Artefact{Kind: kind, TargetName: targetName, URL: url, Hash: hash})
		}
	}
	return out
}

func parseRenames(renames Tree) map[string]string {
	out := make(map[string]string, len(renames))
	for _, from := range renames.Keys() {
		if entry, ok := renames.Table(from); ok {
			if to, ok := entry.String("to"); ok && to != "" {
				out[from] = to
			}
			continue
		}
		if to, ok := renames.String(from); ok && to != "" {
			out[from] = to
		}
	}
	return out
}

package models

import "strings"

// DefaultTag is appended to model names that carry no explicit tag.
const DefaultTag = "latest"

// Canonical returns name with the default tag appended when no tag is present.
// It is idempotent: Canonical(Canonical(x)) == Canonical(x).
func Canonical(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	// A ':' inside a registry host (host:port/ns/model) is not a tag separator,
	// so only the last path segment is inspected.
	last := name
	if i := strings.LastIndex(name, "/"); i >= 0 {
		last = name[i+1:]
	}
	if strings.Contains(last, ":") {
		return name
	}
	return name + ":" + DefaultTag
}

// Same reports whether a and b name the same model after canonicalization.
func Same(a, b string) bool {
	return Canonical(a) == Canonical(b)
}

// SplitTag returns the repository part and tag of a canonical model name.
func SplitTag(name string) (repo, tag string) {
	name = Canonical(name)
	i := strings.LastIndex(name, ":")
	return name[:i], name[i+1:]
}

// ServerStatus describes the inference server lifecycle as seen by the probe.
type ServerStatus string

const (
	ServerUnknown    ServerStatus = "unknown"
	ServerMissing    ServerStatus = "missing"
	ServerStopped    ServerStatus = "stopped"
	ServerInstalling ServerStatus = "installing"
	ServerStarted    ServerStatus = "started"
)

// ModelStatus classifies a single requested model.
type ModelStatus string

const (
	ModelUnknown    ModelStatus = "unknown"
	ModelMissing    ModelStatus = "missing"
	ModelInstalled  ModelStatus = "installed"
	ModelStale      ModelStatus = "stale"
	ModelInstalling ModelStatus = "installing"
)

// Info is size and digest metadata for a model as published by the catalog.
type Info struct {
	ID     string `json:"id"`
	Size   string `json:"size"`
	Digest string `json:"digest"`
}

// ProgressEvent reports pull progress for one model.
// Completed and Total are nil for phase-only events.
type ProgressEvent struct {
	Key       string `json:"key"`
	Status    string `json:"status"`
	Increment int    `json:"increment"`
	Completed *int64 `json:"completed,omitempty"`
	Total     *int64 `json:"total,omitempty"`
}

// HasBytes reports whether the event carries byte counts.
func (e ProgressEvent) HasBytes() bool {
	return e.Completed != nil && e.Total != nil
}

// InstalledModel is one entry of the local server's tag list.
type InstalledModel struct {
	Name   string `json:"name"`
	Digest string `json:"digest"`
}

// Snapshot is the status view handed to the UI.
type Snapshot struct {
	ServerStatus  ServerStatus           `json:"serverStatus"`
	ModelStatuses map[string]ModelStatus `json:"modelStatuses"`
}

// DigestMatches reports whether a local content digest and a catalog digest
// identify the same artifact. The catalog publishes abbreviated digests, so a
// prefix match is accepted in either direction.
func DigestMatches(local, remote string) bool {
	l, r := normalizeDigest(local), normalizeDigest(remote)
	if l == "" || r == "" {
		return false
	}
	return strings.HasPrefix(l, r) || strings.HasPrefix(r, l)
}

func normalizeDigest(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	return strings.TrimPrefix(d, "sha256:")
}

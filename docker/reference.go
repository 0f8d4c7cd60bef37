// deployer/docker/reference.go
package docker

import (
	"fmt"
	"strings"
)

// ImageReference identifies one built artifact under two tags: a mutable
// environment tag and an immutable revision tag. Both always point at the
// same build so the deployed revision can be pinned for rollback.
type ImageReference struct {
	// Repo is the tag-less repository path,
	// e.g. us-central1-docker.pkg.dev/proj/bloocube/bloocube-ai-service.
	Repo string
	// EnvironmentTag is the mutable tag, e.g. "latest" or "production".
	EnvironmentTag string
	// Revision is the short source revision the immutable tag derives from.
	Revision string
}

// NewImageReference fails fast when the source revision is unavailable:
// publishing a single untagged or mistagged image is worse than not
// publishing at all.
func NewImageReference(repo, environmentTag, revision string) (ImageReference, error) {
	if repo == "" {
		return ImageReference{}, fmt.Errorf("image repository path is empty")
	}
	if environmentTag == "" {
		return ImageReference{}, fmt.Errorf("environment tag is empty")
	}
	revision = strings.TrimSpace(revision)
	if revision == "" {
		return ImageReference{}, fmt.Errorf("source revision is empty; cannot produce an immutable revision tag")
	}
	return ImageReference{Repo: repo, EnvironmentTag: environmentTag, Revision: revision}, nil
}

// EnvironmentRef returns the mutable reference, e.g. repo:latest.
func (r ImageReference) EnvironmentRef() string {
	return fmt.Sprintf("%s:%s", r.Repo, r.EnvironmentTag)
}

// RevisionRef returns the immutable reference, e.g. repo:rev-4f9c1d2.
func (r ImageReference) RevisionRef() string {
	return fmt.Sprintf("%s:rev-%s", r.Repo, r.Revision)
}

// Refs returns both tags for the single built artifact.
func (r ImageReference) Refs() []string {
	return []string{r.EnvironmentRef(), r.RevisionRef()}
}

package domain

import (
	"fmt"
	"strings"

	"github.com/distribution/reference"
)

// DefaultTag is applied to references without an explicit tag.
const DefaultTag = "latest"

// ImageReference identifies an image by its familiar name and tag, the
// form the runtime records in an archive's RepoTags.
type ImageReference struct {
	Name string
	Tag  string
}

// ParseImageReference parses image[:tag] into its familiar name and tag.
// Digest references are rejected because exported archives only index tags.
func ParseImageReference(s string) (ImageReference, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ImageReference{}, fmt.Errorf("%w: empty image reference", ErrInvalidAddress)
	}

	named, err := reference.ParseNormalizedNamed(s)
	if err != nil {
		return ImageReference{}, fmt.Errorf("%w: image %q: %v", ErrInvalidAddress, s, err)
	}
	if _, ok := named.(reference.Digested); ok {
		return ImageReference{}, fmt.Errorf("%w: image %q: digest references are not supported", ErrInvalidAddress, s)
	}

	tagged, ok := reference.TagNameOnly(named).(reference.Tagged)
	if !ok {
		return ImageReference{}, fmt.Errorf("%w: image %q: missing tag", ErrInvalidAddress, s)
	}

	return ImageReference{
		Name: reference.FamiliarName(named),
		Tag:  tagged.Tag(),
	}, nil
}

// String returns name:tag.
func (r ImageReference) String() string {
	return r.Name + ":" + r.Tag
}

// FileName returns a single path component derived from the reference.
func (r ImageReference) FileName() string {
	return strings.NewReplacer("/", "_", ":", "_").Replace(r.String())
}

// IsZero reports whether the reference is unset.
func (r ImageReference) IsZero() bool {
	return r.Name == ""
}

package imagecodec

import (
	"fmt"

	"github.com/perch-social/perch/models"
)

// SizeSpec is one rung of a resize ladder: a single-character tag plus a
// target width in pixels. The tag alphabet is disjoint from blob-handle
// syntax (handles are uuids, derived handles join with '-'), so a derived
// blob handle can never collide with an unrelated original handle.
type SizeSpec struct {
	ID    byte
	Width int
}

// SizeConfig maps each ImageType to its ordered resize ladder. It is built
// once at process init and never mutated afterwards.
type SizeConfig map[models.ImageType][]SizeSpec

// DefaultSizes is the production ladder. Lists are strictly increasing in
// width; user photos and content blobs share the full six-size ladder.
func DefaultSizes() SizeConfig {
	ladder := []SizeSpec{
		{ID: 'd', Width: 25},
		{ID: 'h', Width: 50},
		{ID: 'l', Width: 100},
		{ID: 'p', Width: 250},
		{ID: 't', Width: 500},
		{ID: 'x', Width: 1000},
	}
	return SizeConfig{
		models.ImageTypeUserPhoto:   ladder,
		models.ImageTypeContentBlob: ladder,
		models.ImageTypeAppIcon: {
			{ID: 'l', Width: 110},
		},
	}
}

// Validate checks the config invariants: every ladder is non-empty, strictly
// increasing in width, with no repeated tags.
func (c SizeConfig) Validate() error {
	for it, specs := range c {
		if len(specs) == 0 {
			return fmt.Errorf("empty size list for image type %s", it)
		}
		seen := map[byte]bool{}
		for i, spec := range specs {
			if spec.Width <= 0 {
				return fmt.Errorf("non-positive width %d for image type %s", spec.Width, it)
			}
			if i > 0 && spec.Width <= specs[i-1].Width {
				return fmt.Errorf("size widths not strictly increasing for image type %s", it)
			}
			if seen[spec.ID] {
				return fmt.Errorf("duplicate size id %q for image type %s", spec.ID, it)
			}
			seen[spec.ID] = true
		}
	}
	return nil
}

// SizesFor returns the ladder for an image type, or ErrInvalidInput for an
// unconfigured type.
func (c SizeConfig) SizesFor(it models.ImageType) ([]SizeSpec, error) {
	specs, ok := c[it]
	if !ok {
		return nil, fmt.Errorf("%w: no sizes configured for image type %q", models.ErrInvalidInput, it)
	}
	return specs, nil
}

package sandbox

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// ImagePrepuller pulls every image a running worker will need before it
// starts consuming. Pre-pull is unretried and fatal on failure, unlike
// the store and runtime-client-init retry policies.
type ImagePrepuller struct {
	backend Backend
}

func NewImagePrepuller(backend Backend) *ImagePrepuller {
	return &ImagePrepuller{backend: backend}
}

// PullAll pulls every image in images, stopping at the first failure.
func (p *ImagePrepuller) PullAll(ctx context.Context, images []string) error {
	for _, image := range images {
		log.Info().Str("image", image).Msg("pre-pulling image")
		if err := p.backend.PullImage(ctx, image); err != nil {
			return fmt.Errorf("pre-pulling %s: %w", image, err)
		}
	}
	return nil
}

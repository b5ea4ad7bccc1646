package detector

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/olorin-ai/fraudlens-backend/internal/models"
)

// Builder constructs a configured detector instance from stored params.
type Builder func(params map[string]any) Detector

// Registry maps detector type tags to builders. It is assembled once by the
// composition root and read-only afterwards; there is no lazy global state.
type Registry struct {
	builders map[models.DetectorType]Builder
}

// NewRegistry returns a registry with all implemented detector types
// registered. rcf and matrix_profile are valid config tags but have no
// implementation here, so creating them fails like any unknown type.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		builders: map[models.DetectorType]Builder{
			models.DetectorTypeSTLMAD: func(params map[string]any) Detector {
				return NewSTLMAD(params, log)
			},
			models.DetectorTypeCUSUM: func(params map[string]any) Detector {
				return NewCUSUM(params)
			},
			models.DetectorTypeIsoForest: func(params map[string]any) Detector {
				return NewIsoForest(params)
			},
		},
	}
}

// Create builds a detector of the given type. Unknown tags return
// ErrUnknownDetectorType with the registered tags in the message so a
// configuration mistake is diagnosable from the error alone.
func (r *Registry) Create(t models.DetectorType, params map[string]any) (Detector, error) {
	builder, ok := r.builders[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownDetectorType, t, r.Types())
	}
	return builder(params), nil
}

// Types returns the registered type tags in sorted order.
func (r *Registry) Types() []string {
	tags := make([]string, 0, len(r.builders))
	for t := range r.builders {
		tags = append(tags, string(t))
	}
	sort.Strings(tags)
	return tags
}

package semantic

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/taipm/llmproxy/internal/transform"
)

// CleanupExtraProperties deletes usage.extra_properties from the raw
// provider body when present. Some OpenAI-compatible upstreams attach
// vendor debug data there that downstream consumers never asked for.
type CleanupExtraProperties struct{}

func (CleanupExtraProperties) Name() string           { return "CleanupExtraProperties" }
func (CleanupExtraProperties) Stage() transform.Stage { return transform.StageProvider }
func (CleanupExtraProperties) Priority() int          { return 10 }

func (CleanupExtraProperties) Applies(ctx *transform.Context) bool {
	return gjson.Get(ctx.RawProviderBody, "usage.extra_properties").Exists()
}

func (CleanupExtraProperties) Run(ctx *transform.Context) error {
	cleaned, err := sjson.Delete(ctx.RawProviderBody, "usage.extra_properties")
	if err != nil {
		return nil
	}
	ctx.RawProviderBody = cleaned
	return nil
}

package cmd

import (
	"os"

	"github.com/spf13/viper"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/decompose"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/llm"
)

// newPlanner returns the model-backed goal planner, or nil when
// decompose.use_llm is off or no API key is configured.
func newPlanner() decompose.Planner {
	if !viper.GetBool("decompose.use_llm") {
		return nil
	}
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		logger.Warn("decompose.use_llm is set but no Anthropic API key is configured; using heuristic decomposition")
		return nil
	}
	return llm.NewClient(apiKey, viper.GetString("anthropic.model"))
}

package ratelimit

// DefaultPolicies returns the provider/service limits described in the
// gateway's provider table: free-tier minute/day ceilings for Groq and
// Gemini, and a soft monthly credit ceiling for the paid fallback tiers
// (Anthropic, Deepgram, AssemblyAI) where per-minute throttling matters
// less than total spend.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		"groq:audio": {PerMinute: 20, PerDay: 2000},
		"groq:image": {PerMinute: 20, PerDay: 2000},
		"groq:ocr":   {PerMinute: 20, PerDay: 2000},
		"groq:llm":   {PerMinute: 30, PerDay: 3000},

		"gemini:image": {PerMinute: 15, PerDay: 1500},
		"gemini:ocr":   {PerMinute: 15, PerDay: 1500},
		"gemini:llm":   {PerMinute: 15, PerDay: 1500},

		"deepgram:audio":   {PerMinute: 0, PerDay: 0, CreditLimit: 20, EstimatedCostPerRequest: 0.01},
		"assemblyai:audio": {PerMinute: 0, PerDay: 0, CreditLimit: 20, EstimatedCostPerRequest: 0.015},

		"anthropic:llm": {PerMinute: 0, PerDay: 0, CreditLimit: 25, EstimatedCostPerRequest: 0.05},
	}
}

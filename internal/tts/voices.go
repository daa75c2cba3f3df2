package tts

// DefaultVoice is the opaque voice id used when a caller names none.
const DefaultVoice = "default"

// VoiceMap resolves an opaque voice id to each engine's own voice name.
// Unknown ids resolve to the DefaultVoice entry.
type VoiceMap map[string]map[string]string

// DefaultVoices covers the voices the public API documents.
func DefaultVoices() VoiceMap {
	return VoiceMap{
		DefaultVoice: {
			"elevenlabs": "21m00Tcm4TlvDq8ikWAM",
			"openai":     "nova",
		},
		"female": {
			"elevenlabs": "21m00Tcm4TlvDq8ikWAM",
			"openai":     "shimmer",
		},
		"male": {
			"elevenlabs": "pNInz6obpgDQGcFmaJgB",
			"openai":     "onyx",
		},
	}
}

// Resolve returns the engine voice for id, or "" if the map has none.
func (m VoiceMap) Resolve(id, engineName string) string {
	if v, ok := m[id][engineName]; ok {
		return v
	}
	return m[DefaultVoice][engineName]
}

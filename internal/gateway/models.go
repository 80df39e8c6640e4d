package gateway

import "strings"

var chatModelPrefixes = []string{
	"gpt-",
	"chatgpt-",
	"o1",
	"o3",
	"o4",
	"claude-",
	"gemini-",
}

// Ids containing any of these serve images, audio, search or vectors even
// when they share a chat family prefix (gpt-image-1, gpt-4o-realtime, ...).
var nonChatMarkers = []string{
	"embedding",
	"image",
	"dall-e",
	"tts",
	"whisper",
	"audio",
	"realtime",
	"transcribe",
	"moderation",
	"search",
}

// IsChatModel reports whether a catalog id names a chat/completion model.
func IsChatModel(id string) bool {
	id = strings.ToLower(strings.TrimPrefix(id, "models/"))
	for _, marker := range nonChatMarkers {
		if strings.Contains(id, marker) {
			return false
		}
	}
	for _, prefix := range chatModelPrefixes {
		if strings.HasPrefix(id, prefix) {
			return true
		}
	}
	return false
}

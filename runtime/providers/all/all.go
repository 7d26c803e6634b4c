// Package all registers every generator implementation with a single import:
//
//	import _ "github.com/AltairaLabs/VoiceRelay/runtime/providers/all"
package all

import (
	// Register Mock generator (offline runs, tests)
	_ "github.com/AltairaLabs/VoiceRelay/runtime/providers/mock"

	// Register OpenAI generator
	_ "github.com/AltairaLabs/VoiceRelay/runtime/providers/openai"
)

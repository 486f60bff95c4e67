package model

import "fmt"

var externalCharacters = []string{
	"Captain Falcon", "Donkey Kong", "Fox", "Mr. Game & Watch", "Kirby",
	"Bowser", "Link", "Luigi", "Mario", "Marth", "Mewtwo", "Ness", "Peach",
	"Pikachu", "Ice Climbers", "Jigglypuff", "Samus", "Yoshi", "Zelda",
	"Sheik", "Falco", "Young Link", "Dr. Mario", "Roy", "Pichu", "Ganondorf",
}

// Replay metadata keys characters by the in-game (internal) id, which uses a
// different order than the character select screen.
var internalCharacters = []string{
	"Mario", "Fox", "Captain Falcon", "Donkey Kong", "Kirby", "Bowser",
	"Link", "Sheik", "Ness", "Peach", "Popo", "Nana", "Pikachu", "Samus",
	"Yoshi", "Jigglypuff", "Mewtwo", "Luigi", "Marth", "Zelda",
	"Young Link", "Dr. Mario", "Falco", "Pichu", "Mr. Game & Watch",
	"Ganondorf", "Roy",
}

var stages = map[int]string{
	2:  "Fountain of Dreams",
	3:  "Pokémon Stadium",
	8:  "Yoshi's Story",
	28: "Dream Land N64",
	31: "Battlefield",
	32: "Final Destination",
}

// CharacterName names an external (character select) character id.
func CharacterName(id int) string {
	if id >= 0 && id < len(externalCharacters) {
		return externalCharacters[id]
	}
	return fmt.Sprintf("Character %d", id)
}

// InternalCharacterName names an internal character id as found in replay
// metadata.
func InternalCharacterName(id int) string {
	if id >= 0 && id < len(internalCharacters) {
		return internalCharacters[id]
	}
	return fmt.Sprintf("Character %d", id)
}

// StageName names a stage id, falling back to the numeric id.
func StageName(id int) string {
	if name, ok := stages[id]; ok {
		return name
	}
	return fmt.Sprintf("Stage %d", id)
}

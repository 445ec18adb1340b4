package matchmaker

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var moods = []string{
	"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "silly", "jolly", "cozy", "shiny",
	"golden", "silver", "crimson", "emerald", "purple", "bright", "gentle", "brave", "calm", "swift",
	"quiet", "bouncy", "fuzzy", "plucky", "merry", "peppy", "witty", "lucky", "sunny", "mellow",
}

var animals = []string{
	"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
	"duckling", "fawn", "lamb", "raccoon", "beaver", "seahorse", "dolphin", "whale", "narwhal", "penguin",
	"flamingo", "pelican", "sparrow", "robin", "toucan", "parrot", "canary", "owl", "lynx", "badger",
}

var things = []string{
	"lantern", "puddle", "pebble", "cottage", "rocket", "comet", "orbit", "nebula", "canyon", "ridge",
	"meadow", "willow", "ember", "breeze", "marble", "maple", "biscuit", "muffin", "waffle", "dumpling",
	"teacup", "kettle", "compass", "harbor", "island", "lagoon", "signal", "beacon", "whistle", "echo",
}

// generateRoomID creates a memorable room ID such as "cozy-otter-lantern".
// exists reports whether an ID is already taken; generation repeats until a
// free one is found.
func generateRoomID(exists func(string) bool) string {
	for {
		id := fmt.Sprintf("%s-%s-%s",
			moods[randomIndex(len(moods))],
			animals[randomIndex(len(animals))],
			things[randomIndex(len(things))],
		)
		if exists == nil || !exists(id) {
			return id
		}
	}
}

// randomIndex returns a cryptographically secure random index for a slice of given length.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic(fmt.Sprintf("failed to generate random index: %v", err))
	}
	return int(n.Int64())
}

package utils

import (
	"crypto/rand"
	"math/big"
)

// Word lists for generating guest display names
var guestAdjectives = []string{
	"Happy", "Sunny", "Brave", "Cheeky", "Swift", "Clever", "Jolly", "Mighty",
	"Lucky", "Bouncy", "Daring", "Zippy", "Cosmic", "Groovy", "Snappy", "Turbo",
	"Ripe", "Golden", "Peeled", "Spotty", "Mellow", "Funky", "Wild", "Sneaky",
}

var guestNouns = []string{
	"Monkey", "Gorilla", "Lemur", "Toucan", "Parrot", "Gecko", "Tapir", "Sloth",
	"Banana", "Plantain", "Bunch", "Split", "Smoothie", "Peel", "Orangutan", "Macaw",
}

// GenerateGuestName returns a random two word display name such as "Cheeky Monkey"
func GenerateGuestName() (string, error) {
	adjective, err := randomElement(guestAdjectives)
	if err != nil {
		return "", err
	}
	noun, err := randomElement(guestNouns)
	if err != nil {
		return "", err
	}
	return adjective + " " + noun, nil
}

func randomElement(words []string) (string, error) {
	if len(words) == 0 {
		return "", nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		return "", err
	}
	return words[n.Int64()], nil
}

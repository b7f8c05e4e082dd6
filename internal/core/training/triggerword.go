package training

import (
	"crypto/rand"
	"errors"
	"math/big"
	"regexp"
	"strings"
)

const (
	triggerWordPrefix = "PERSON_"
	triggerWordSuffix = 5
	maxTriggerWordLen = 64
	base36            = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

var (
	ErrInvalidTriggerWord = errors.New("trigger word may only contain letters, digits and underscores")

	triggerWordPattern = regexp.MustCompile(`^[A-Z0-9_]+$`)
)

// NewTriggerWord returns a word like PERSON_X7K2Q. It should not collide with
// anything the base model already knows, which is why it is random.
func NewTriggerWord() string {
	var sb strings.Builder
	sb.WriteString(triggerWordPrefix)

	limit := big.NewInt(int64(len(base36)))
	for i := 0; i < triggerWordSuffix; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			panic(err)
		}
		sb.WriteByte(base36[n.Int64()])
	}

	return sb.String()
}

// NormalizeTriggerWord upper-cases a user supplied word and checks it can be
// used inside prompts and storage paths.
func NormalizeTriggerWord(word string) (string, error) {
	word = strings.ToUpper(strings.TrimSpace(word))
	if word == "" || len(word) > maxTriggerWordLen || !triggerWordPattern.MatchString(word) {
		return "", ErrInvalidTriggerWord
	}
	return word, nil
}

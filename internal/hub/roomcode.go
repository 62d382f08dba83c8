package hub

import (
	"crypto/rand"
	"math/big"
)

const (
	codeLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	codeDigits  = "0123456789"
)

// NewRoomCode returns a six character code with at least two letters and
// two digits that exists does not report as taken.
func NewRoomCode(exists func(string) bool) string {
	for {
		code := make([]byte, 0, 6)
		for i := 0; i < 2; i++ {
			code = append(code, pick(codeLetters))
		}
		for i := 0; i < 2; i++ {
			code = append(code, pick(codeDigits))
		}
		for i := 0; i < 2; i++ {
			code = append(code, pick(codeLetters+codeDigits))
		}
		for i := len(code) - 1; i > 0; i-- {
			j := randomIndex(i + 1)
			code[i], code[j] = code[j], code[i]
		}

		if exists == nil || !exists(string(code)) {
			return string(code)
		}
	}
}

func pick(set string) byte {
	return set[randomIndex(len(set))]
}

// randomIndex returns a cryptographically secure index below max.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic("hub: crypto/rand failed: " + err.Error())
	}
	return int(n.Int64())
}

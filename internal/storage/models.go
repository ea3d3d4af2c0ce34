package storage

import "errors"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// QuestionAnswer is a saved question/answer pair.
//
// IDs are string UUIDs. CreatedAt is epoch milliseconds, assigned when the
// record is saved (not when the answer was generated). ImageData optionally
// holds the raw bytes of the captured image the question was recognized from.
type QuestionAnswer struct {
	ID        string
	Question  string
	Answer    string
	ImageData []byte
	CreatedAt int64
	Favorited bool
}

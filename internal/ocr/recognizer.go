// Package ocr turns captured images into prompt text. Recognition itself is
// delegated to an external engine; this package only wraps it behind a
// capability interface and cleans up the raw output.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// Recognizer extracts text from an image file.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
}

// Tesseract shells out to the tesseract CLI, the same way the config layer
// shells out to the platform's `defaults`/`security` tools.
type Tesseract struct {
	binary string
}

// NewTesseract creates a Tesseract recognizer. An empty binary selects
// "tesseract" from PATH.
func NewTesseract(binary string) *Tesseract {
	if binary == "" {
		binary = "tesseract"
	}
	return &Tesseract{binary: binary}
}

// Recognize runs OCR over the image and returns the cleaned text.
func (t *Tesseract) Recognize(ctx context.Context, imagePath string) (string, error) {
	if _, err := exec.LookPath(t.binary); err != nil {
		return "", fmt.Errorf("OCR engine %q not found: %w", t.binary, err)
	}

	cmd := exec.CommandContext(ctx, t.binary, imagePath, "stdout")
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("recognizing %s: %s", imagePath, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("recognizing %s: %w", imagePath, err)
	}

	text := Clean(string(out))
	if text == "" {
		return "", fmt.Errorf("no text recognized in %s", imagePath)
	}
	return text, nil
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	loneL         = regexp.MustCompile(`\bl\s`)
	zeroAsO       = regexp.MustCompile(`0([a-zA-Z])`)
)

// Clean normalizes raw OCR output: collapses whitespace runs and corrects
// the two most common misreads (lowercase l for I, digit 0 for letter O).
func Clean(text string) string {
	result := strings.TrimSpace(text)
	result = whitespaceRun.ReplaceAllString(result, " ")
	result = loneL.ReplaceAllString(result, "I ")
	result = zeroAsO.ReplaceAllString(result, "O$1")
	return result
}

// ExtractQuestions returns the sentences in text that end with a question
// mark, in order of appearance.
var sentenceSplit = regexp.MustCompile(`(?:[.?!])\s+`)

func ExtractQuestions(text string) []string {
	var questions []string
	rest := text
	for {
		loc := sentenceSplit.FindStringIndex(rest)
		if loc == nil {
			break
		}
		sentence := strings.TrimSpace(rest[:loc[0]+1])
		if strings.HasSuffix(sentence, "?") {
			questions = append(questions, sentence)
		}
		rest = rest[loc[1]:]
	}
	if s := strings.TrimSpace(rest); strings.HasSuffix(s, "?") {
		questions = append(questions, s)
	}
	return questions
}

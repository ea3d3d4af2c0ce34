package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/snaplearn/snaplearn/internal/answer"
	"github.com/snaplearn/snaplearn/internal/config"
	"github.com/snaplearn/snaplearn/internal/extract"
	"github.com/snaplearn/snaplearn/internal/gemini"
	"github.com/snaplearn/snaplearn/internal/ocr"
	"github.com/snaplearn/snaplearn/internal/storage"
)

var askCmd = &cobra.Command{
	Use:   "ask [question...]",
	Short: "Ask a question and stream the answer",
	Long: `Ask a question and stream the answer to the terminal.

The question can be typed directly, recognized from an image with OCR, or
asked about a document:

  snaplearn ask "What is the powerhouse of the cell?"
  snaplearn ask --image ./homework.png
  snaplearn ask --pdf ./paper.pdf "What is the main finding?"
  snaplearn ask --url https://example.com/article "Summarize this page"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		imagePath, _ := cmd.Flags().GetString("image")
		pdfPath, _ := cmd.Flags().GetString("pdf")
		pageURL, _ := cmd.Flags().GetString("url")
		save, _ := cmd.Flags().GetBool("save")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		apiKey, err := config.RequireAPIKey(cfg)
		if err != nil {
			return err
		}

		question, imageData, err := buildQuestion(cmd.Context(), cfg, args, imagePath, pdfPath, pageURL)
		if err != nil {
			return err
		}

		client := gemini.NewClient(apiKey, gemini.Options{
			BaseURL:         cfg.Gemini.BaseURL,
			Model:           cfg.Gemini.Model,
			Temperature:     cfg.Gemini.Temperature,
			MaxOutputTokens: cfg.Gemini.MaxOutputTokens,
		})

		eng := answer.New(client, nil, nil)
		states, stop := eng.Watch()
		defer stop()
		eng.Submit(question)
		done := eng.Done()

		if err := renderStream(eng, states, done); err != nil {
			return err
		}

		if save {
			final := eng.Current()
			store, err := storage.Open(cfg.Storage.DataDir)
			if err != nil {
				return fmt.Errorf("opening storage: %w", err)
			}
			defer store.Close()

			qa := storage.QuestionAnswer{
				ID:        uuid.New().String(),
				Question:  question,
				Answer:    final.Text,
				ImageData: imageData,
				CreatedAt: time.Now().UnixMilli(),
			}
			if err := store.Append(qa); err != nil {
				return fmt.Errorf("saving answer: %w", err)
			}
			printSuccess("Saved as %s", qa.ID)
		}
		return nil
	},
}

func init() {
	askCmd.Flags().String("image", "", "recognize the question from an image (OCR)")
	askCmd.Flags().String("pdf", "", "ask about the text of a PDF file")
	askCmd.Flags().String("url", "", "ask about the text of a web page")
	askCmd.Flags().Bool("save", false, "save the answer to history")
}

// buildQuestion assembles the prompt from the args and input flags. An OCR'd
// image replaces the typed question; PDF and URL text is attached as context
// below it.
func buildQuestion(ctx context.Context, cfg config.Config, args []string, imagePath, pdfPath, pageURL string) (string, []byte, error) {
	question := strings.TrimSpace(strings.Join(args, " "))
	var imageData []byte

	if imagePath != "" {
		recognizer := ocr.NewTesseract(cfg.OCR.Binary)
		text, err := recognizer.Recognize(ctx, imagePath)
		if err != nil {
			return "", nil, err
		}
		if question == "" {
			// Prefer an actual question sentence when the image contains one.
			if questions := ocr.ExtractQuestions(text); len(questions) > 0 {
				question = questions[0]
			} else {
				question = text
			}
		} else {
			question = question + "\n\n" + text
		}
		if data, err := os.ReadFile(imagePath); err == nil {
			imageData = data
		}
	}

	if pdfPath != "" {
		text, err := extract.PDFText(pdfPath)
		if err != nil {
			return "", nil, err
		}
		question = attachContext(question, text)
	}

	if pageURL != "" {
		text, err := extract.FetchURLText(ctx, pageURL)
		if err != nil {
			return "", nil, err
		}
		question = attachContext(question, text)
	}

	if strings.TrimSpace(question) == "" {
		return "", nil, fmt.Errorf("no question given: pass one as arguments or use --image/--pdf/--url")
	}
	return question, imageData, nil
}

func attachContext(question, text string) string {
	if question == "" {
		question = "Summarize the following document."
	}
	return question + "\n\n---\n" + text
}

// renderStream prints answer text as it grows, writing only the unseen
// suffix of each published state.
func renderStream(eng *answer.Engine, states <-chan answer.State, done <-chan struct{}) error {
	printed := 0
	emit := func(st answer.State) error {
		switch st.Kind {
		case answer.KindError:
			if printed > 0 {
				fmt.Println()
			}
			return fmt.Errorf("%s", st.Message)
		case answer.KindSuccess:
			if len(st.Text) > printed {
				fmt.Print(st.Text[printed:])
				printed = len(st.Text)
			}
		}
		return nil
	}

	for {
		select {
		case st := <-states:
			if err := emit(st); err != nil {
				return err
			}
		case <-done:
			if err := emit(eng.Current()); err != nil {
				return err
			}
			fmt.Println()
			return nil
		}
	}
}

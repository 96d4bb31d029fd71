package stt

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// TranscribeError is a failed transcription request.
type TranscribeError struct {
	StatusCode int
	Err        error
}

func (e *TranscribeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("stt: transcription failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("stt: transcription failed: %v", e.Err)
}

func (e *TranscribeError) Unwrap() error {
	return e.Err
}

// OpenAITranscriber transcribes utterances with the Whisper API.
type OpenAITranscriber struct {
	client openai.Client
	model  openai.AudioModel
}

// NewOpenAITranscriber creates a Whisper transcriber.
func NewOpenAITranscriber(apiKey string, opts ...option.RequestOption) *OpenAITranscriber {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAITranscriber{
		client: openai.NewClient(opts...),
		model:  openai.AudioModelWhisper1,
	}
}

// Transcribe uploads the utterance as a 16-bit mono WAV file.
func (t *OpenAITranscriber) Transcribe(ctx context.Context, samples []int16, sampleRate int) (string, error) {
	f, err := os.CreateTemp("", "sitevoice-*.wav")
	if err != nil {
		return "", fmt.Errorf("stt: temp file: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if err := writeWAV(f, samples, sampleRate); err != nil {
		return "", err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return "", fmt.Errorf("stt: rewind: %w", err)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(f, "utterance.wav", "audio/wav"),
		Model: t.model,
	})
	if err != nil {
		te := &TranscribeError{Err: err}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			te.StatusCode = apiErr.StatusCode
		}
		return "", te
	}
	return resp.Text, nil
}

func writeWAV(f *os.File, samples []int16, sampleRate int) error {
	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("stt: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("stt: finish wav: %w", err)
	}
	return nil
}

var _ Transcriber = (*OpenAITranscriber)(nil)

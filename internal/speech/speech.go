// Package speech converts between audio and text with the OpenAI audio APIs.
package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	openai "github.com/sashabaranov/go-openai"
	"github.com/wolfman30/medassist-platform/internal/conversation"
	"github.com/wolfman30/medassist-platform/internal/llm"
	"github.com/wolfman30/medassist-platform/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("medassist.internal.speech")

// maxSpeechInput is the longest text the speech endpoint accepts.
const maxSpeechInput = 4096

type speechAPI interface {
	CreateSpeech(ctx context.Context, request openai.CreateSpeechRequest) (io.ReadCloser, error)
}

type transcriptionAPI interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// ObjectPutter is the subset of the S3 client used to store rendered audio.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Synthesizer renders assistant replies to MP3 and stores them in S3.
type Synthesizer struct {
	api    speechAPI
	store  ObjectPutter
	bucket string
	voice  openai.SpeechVoice
	logger *logging.Logger
}

// NewSynthesizer wires a Synthesizer. An empty voice defaults to nova.
func NewSynthesizer(client *openai.Client, store ObjectPutter, bucket, voice string, logger *logging.Logger) *Synthesizer {
	return newSynthesizer(client, store, bucket, voice, logger)
}

func newSynthesizer(api speechAPI, store ObjectPutter, bucket, voice string, logger *logging.Logger) *Synthesizer {
	if api == nil || store == nil {
		panic("speech: synthesizer requires an API client and object store")
	}
	if logger == nil {
		logger = logging.Default()
	}
	v := openai.SpeechVoice(strings.ToLower(strings.TrimSpace(voice)))
	if v == "" {
		v = openai.VoiceNova
	}
	return &Synthesizer{api: api, store: store, bucket: bucket, voice: v, logger: logger}
}

// AudioKey is the object key for the rendering of one message.
func AudioKey(conversationID, messageID string) string {
	return fmt.Sprintf("audio/%s/%s.mp3", conversationID, messageID)
}

// RenderReply synthesizes text and uploads it under AudioKey.
func (s *Synthesizer) RenderReply(ctx context.Context, conversationID, messageID, text string) error {
	ctx, span := tracer.Start(ctx, "speech.render")
	defer span.End()
	span.SetAttributes(attribute.String("medassist.conversation_id", conversationID))

	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("speech: nothing to render")
	}
	body, err := s.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          truncateRunes(text, maxSpeechInput),
		Voice:          s.voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("speech: synthesize: %w", llm.ClassifyOpenAIError(err))
	}
	defer body.Close()
	audio, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("speech: read audio: %w", err)
	}

	key := AudioKey(conversationID, messageID)
	if _, err := s.store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(audio),
		ContentType: aws.String("audio/mpeg"),
	}); err != nil {
		span.RecordError(err)
		return fmt.Errorf("speech: store audio %s: %w", key, err)
	}
	s.logger.Info("reply audio stored", "conversation_id", conversationID, "message_id", messageID, "s3_key", key, "bytes", len(audio))
	return nil
}

// Transcriber turns uploaded audio into text with Whisper.
type Transcriber struct {
	api      transcriptionAPI
	language string
}

// NewTranscriber wires a Transcriber. language is an ISO-639-1 hint and may be empty.
func NewTranscriber(client *openai.Client, language string) *Transcriber {
	return newTranscriber(client, language)
}

func newTranscriber(api transcriptionAPI, language string) *Transcriber {
	if api == nil {
		panic("speech: transcriber requires an API client")
	}
	return &Transcriber{api: api, language: strings.TrimSpace(language)}
}

// Transcribe returns the trimmed transcript of audio. filename carries the
// container extension the API uses to detect the format.
func (t *Transcriber) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	ctx, span := tracer.Start(ctx, "speech.transcribe")
	defer span.End()

	resp, err := t.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   audio,
		FilePath: filename,
		Language: t.language,
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("speech: transcribe: %w", llm.ClassifyOpenAIError(err))
	}
	return strings.TrimSpace(resp.Text), nil
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

var (
	_ conversation.AudioRenderer = (*Synthesizer)(nil)
	_ conversation.Transcriber   = (*Transcriber)(nil)
)

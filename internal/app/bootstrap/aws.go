package bootstrap

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	openai "github.com/sashabaranov/go-openai"

	"github.com/wolfman30/medassist-platform/internal/archive"
	appconfig "github.com/wolfman30/medassist-platform/internal/config"
	"github.com/wolfman30/medassist-platform/internal/conversation"
	"github.com/wolfman30/medassist-platform/internal/notify"
	"github.com/wolfman30/medassist-platform/internal/speech"
	"github.com/wolfman30/medassist-platform/pkg/logging"
)

const memoryQueueBuffer = 256

// BuildReviewQueue returns the in-memory queue when USE_MEMORY_QUEUE is set,
// otherwise an SQS queue on REVIEW_QUEUE_URL.
func BuildReviewQueue(cfg *appconfig.Config, awsCfg aws.Config) (conversation.ReviewQueue, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if cfg.UseMemoryQueue {
		return conversation.NewMemoryQueue(memoryQueueBuffer), nil
	}
	if strings.TrimSpace(cfg.ReviewQueueURL) == "" {
		return nil, fmt.Errorf("bootstrap: REVIEW_QUEUE_URL is required unless USE_MEMORY_QUEUE is set")
	}
	return conversation.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.ReviewQueueURL), nil
}

// BuildReviewNotifier selects the reviewer email provider.
func BuildReviewNotifier(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) *notify.Service {
	if logger == nil {
		logger = logging.Default()
	}
	var ses *sesv2.Client
	if strings.TrimSpace(cfg.SESFromEmail) != "" {
		ses = sesv2.NewFromConfig(awsCfg)
	}
	senderCfg := notify.SenderConfig{
		Provider: cfg.EmailProvider,
		SendGrid: notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		},
		SES: notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		},
	}
	var sender notify.EmailSender
	if ses != nil {
		sender = notify.NewEmailSender(senderCfg, ses, logger)
	} else {
		sender = notify.NewEmailSender(senderCfg, nil, logger)
	}
	if len(cfg.ReviewerEmails) == 0 {
		logger.Warn("REVIEWER_EMAILS not set; pending reviews will not be emailed")
	}
	return notify.NewService(sender, cfg.ReviewerEmails, cfg.PublicBaseURL, logger.Component("notify"))
}

func newS3Client(cfg *appconfig.Config, awsCfg aws.Config) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// LocalStack serves buckets by path rather than virtual host.
		o.UsePathStyle = strings.TrimSpace(cfg.AWSEndpointOverride) != ""
	})
}

// BuildArchiver returns the S3 archive used by retention, or nil when
// ARCHIVE_BUCKET is unset.
func BuildArchiver(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) conversation.Archiver {
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(cfg.ArchiveBucket) == "" {
		logger.Warn("ARCHIVE_BUCKET not set; expired conversations are deleted without an archive copy")
		return nil
	}
	return archive.NewStore(newS3Client(cfg, awsCfg), cfg.ArchiveBucket, logger.Component("archive"))
}

// BuildSpeech wires voice input and reply audio. Either result may be nil.
func BuildSpeech(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (conversation.Transcriber, conversation.AudioRenderer) {
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		logger.Info("OPENAI_API_KEY not set; voice input and reply audio disabled")
		return nil, nil
	}
	oaCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if base := strings.TrimSpace(cfg.OpenAIBaseURL); base != "" {
		oaCfg.BaseURL = strings.TrimRight(base, "/")
	}
	client := openai.NewClientWithConfig(oaCfg)

	var transcriber conversation.Transcriber = speech.NewTranscriber(client, cfg.TranscribeLocale)
	if !cfg.SpeechEnabled || strings.TrimSpace(cfg.AudioBucket) == "" {
		logger.Info("reply audio disabled", "speech_enabled", cfg.SpeechEnabled, "audio_bucket_set", cfg.AudioBucket != "")
		return transcriber, nil
	}
	renderer := speech.NewSynthesizer(client, newS3Client(cfg, awsCfg), cfg.AudioBucket, cfg.SpeechVoice, logger.Component("speech"))
	return transcriber, renderer
}

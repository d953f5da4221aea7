package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-logarchive/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// GooglePubSubSourceConfig configures the Pub/Sub event source.
type GooglePubSubSourceConfig struct {
	ProjectID      string
	SubscriptionID string
	// CredentialsFile is optional; application default credentials are used
	// when it is empty.
	CredentialsFile        string
	MaxOutstandingMessages int
	NumGoroutines          int
}

// LoadGooglePubSubSourceConfigFromEnv loads the source configuration from
// environment variables.
func LoadGooglePubSubSourceConfigFromEnv() (*GooglePubSubSourceConfig, error) {
	cfg := &GooglePubSubSourceConfig{
		ProjectID:              os.Getenv("GCP_PROJECT_ID"),
		SubscriptionID:         os.Getenv("PUBSUB_SUBSCRIPTION_ID"),
		CredentialsFile:        os.Getenv("GCP_PUBSUB_CREDENTIALS_FILE"),
		MaxOutstandingMessages: 100,
		NumGoroutines:          5,
	}
	if cfg.ProjectID == "" {
		return nil, errors.New("GCP_PROJECT_ID environment variable not set for Pub/Sub source")
	}
	if cfg.SubscriptionID == "" {
		return nil, errors.New("PUBSUB_SUBSCRIPTION_ID environment variable not set for Pub/Sub source")
	}
	return cfg, nil
}

// GooglePubSubSource consumes raw log events from one Pub/Sub subscription
// and exposes them as an EventSource. Each emitted message carries the
// broker's ack and nack callbacks as its delivery token.
type GooglePubSubSource struct {
	client             *pubsub.Client
	subscription       *pubsub.Subscription
	logger             zerolog.Logger
	outputChan         chan types.ConsumedMessage
	stopOnce           sync.Once
	cancelSubscription context.CancelFunc
	wg                 sync.WaitGroup
	doneChan           chan struct{}
}

// NewGooglePubSubSource builds the source over a new Pub/Sub client. When
// opts is nil the connection is derived from the environment: the emulator
// when PUBSUB_EMULATOR_HOST is set, otherwise the configured or default
// credentials.
func NewGooglePubSubSource(ctx context.Context, cfg *GooglePubSubSourceConfig, opts []option.ClientOption, logger zerolog.Logger) (*GooglePubSubSource, error) {
	emulatorHost := os.Getenv("PUBSUB_EMULATOR_HOST")
	if opts == nil {
		if emulatorHost != "" {
			logger.Info().Str("emulator_host", emulatorHost).Str("subscription_id", cfg.SubscriptionID).Msg("Using Pub/Sub emulator for source.")
			opts = append(opts, option.WithEndpoint(emulatorHost), option.WithoutAuthentication())
		} else if cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		}
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient for subscription %s: %w", cfg.SubscriptionID, err)
	}
	sub := client.Subscription(cfg.SubscriptionID)
	sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines

	if emulatorHost != "" {
		exists, err := sub.Exists(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("subscription.Exists check for %s: %w", cfg.SubscriptionID, err)
		}
		if !exists {
			client.Close()
			return nil, fmt.Errorf("Pub/Sub subscription %s does not exist in project %s", cfg.SubscriptionID, cfg.ProjectID)
		}
	}

	return &GooglePubSubSource{
		client:       client,
		subscription: sub,
		logger:       logger.With().Str("component", "GooglePubSubSource").Str("subscription_id", cfg.SubscriptionID).Logger(),
		outputChan:   make(chan types.ConsumedMessage, cfg.MaxOutstandingMessages),
		doneChan:     make(chan struct{}),
	}, nil
}

// Messages returns the stream of consumed events.
func (s *GooglePubSubSource) Messages() <-chan types.ConsumedMessage { return s.outputChan }

// Start launches the Receive loop. Events that cannot be handed downstream
// before shutdown are nacked back to the broker.
func (s *GooglePubSubSource) Start(ctx context.Context) error {
	s.logger.Info().Msg("Starting Pub/Sub message consumption...")
	receiveCtx, cancel := context.WithCancel(ctx)
	s.cancelSubscription = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.doneChan)
		defer close(s.outputChan)
		s.logger.Info().Msg("Pub/Sub Receive goroutine started.")
		err := s.subscription.Receive(receiveCtx, func(msgCtx context.Context, msg *pubsub.Message) {
			payloadCopy := make([]byte, len(msg.Data))
			copy(payloadCopy, msg.Data)

			consumed := types.ConsumedMessage{
				ID:          msg.ID,
				Payload:     payloadCopy,
				PublishTime: msg.PublishTime,
				Attributes:  msg.Attributes,
				Ack:         msg.Ack,
				Nack:        msg.Nack,
			}

			select {
			case s.outputChan <- consumed:
			case <-receiveCtx.Done():
				msg.Nack()
				s.logger.Warn().Str("msg_id", msg.ID).Msg("Source stopping, Nacking message.")
			case <-msgCtx.Done():
				msg.Nack()
				s.logger.Warn().Str("msg_id", msg.ID).Msg("Message context done, Nacking message.")
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error")
		}
		s.logger.Info().Msg("Pub/Sub Receive goroutine stopped.")
	}()
	return nil
}

// Stop cancels the Receive loop, waits for it to wind down, and closes the
// client.
func (s *GooglePubSubSource) Stop() error {
	s.stopOnce.Do(func() {
		s.logger.Info().Msg("Stopping Pub/Sub source...")
		if s.cancelSubscription != nil {
			s.cancelSubscription()
		}
		select {
		case <-s.Done():
			s.logger.Info().Msg("Pub/Sub Receive goroutine confirmed stopped.")
		case <-time.After(30 * time.Second):
			s.logger.Error().Msg("Timeout waiting for Pub/Sub Receive goroutine to stop.")
		}
		if s.client != nil {
			if err := s.client.Close(); err != nil {
				s.logger.Error().Err(err).Msg("Error closing Pub/Sub client")
			}
		}
	})
	return nil
}

// Done is closed once the Receive goroutine has exited and the output
// channel is closed.
func (s *GooglePubSubSource) Done() <-chan struct{} { return s.doneChan }

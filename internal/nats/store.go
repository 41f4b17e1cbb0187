package nats

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/locrit/platform/internal/model"
	"github.com/locrit/platform/internal/store"
	"github.com/locrit/platform/pkg/tracing"
)

const (
	// StreamName is the name of the message stream.
	StreamName = "LOCRIT_MESSAGES"

	// SubjectPrefix is the prefix for all message subjects.
	SubjectPrefix = "locrit.msg"

	// ConversationBucket is the key-value bucket holding conversation records.
	ConversationBucket = "locrit_conversations"

	fetchBatch = 100
)

// Store implements store.Store on JetStream: messages live in a stream, one
// subject per owner, conversation records in a key-value bucket.
type Store struct {
	client *Client
	kv     jetstream.KeyValue
	tracer trace.Tracer
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

// NewStore ensures the stream and bucket exist and returns a store over them.
func NewStore(ctx context.Context, client *Client) (*Store, error) {
	js := client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err != nil {
		if !errors.Is(err, jetstream.ErrStreamNotFound) {
			return nil, fmt.Errorf("failed to look up stream: %w", err)
		}
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        StreamName,
			Subjects:    []string{SubjectPrefix + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      365 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
			Compression: jetstream.S2Compression,
			Description: "Locrit chat and scheduled conversation messages",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
		client.logger.Info("created message stream")
	}

	kv, err := js.KeyValue(ctx, ConversationBucket)
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketNotFound) {
			return nil, fmt.Errorf("failed to look up bucket: %w", err)
		}
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      ConversationBucket,
			Description: "Locrit conversation records",
			History:     5,
			Storage:     jetstream.FileStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		client.logger.Info("created conversation bucket")
	}

	return &Store{
		client: client,
		kv:     kv,
		tracer: tracing.Tracer("locrit/nats"),
		now:    time.Now,
	}, nil
}

// ConversationSubject returns the subject for messages of a conversation.
func ConversationSubject(conversationID string) string {
	return fmt.Sprintf("%s.conv.%s", SubjectPrefix, subjectToken(conversationID))
}

// LocritSubject returns the subject for messages of a Locrit chat.
func LocritSubject(locritID string) string {
	return fmt.Sprintf("%s.locrit.%s", SubjectPrefix, subjectToken(locritID))
}

// encodedTokenPrefix marks a token holding a base64url-encoded ID. Plain tokens
// never contain '_', so the two forms cannot collide.
const encodedTokenPrefix = "b64_"

// subjectToken returns id unchanged when it only uses letters, digits and '-',
// and an encoded form otherwise.
func subjectToken(id string) string {
	plain := id != ""
	for _, r := range id {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-') {
			plain = false
			break
		}
	}
	if plain {
		return id
	}
	return encodedTokenPrefix + base64.RawURLEncoding.EncodeToString([]byte(id))
}

// CreateConversation stores conv in the bucket, assigning an ID when empty.
func (s *Store) CreateConversation(ctx context.Context, conv *model.Conversation) (string, error) {
	ctx, span := s.tracer.Start(ctx, "nats.CreateConversation")
	defer span.End()

	c := *conv
	if c.ID == "" {
		c.ID = uuid.Must(uuid.NewV7()).String()
	}
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	span.SetAttributes(attribute.String("conversation.id", c.ID))

	data, err := json.Marshal(&c)
	if err != nil {
		return "", fail(span, fmt.Errorf("failed to marshal conversation: %w", err))
	}
	if _, err := s.kv.Create(ctx, c.ID, data); err != nil {
		return "", fail(span, fmt.Errorf("failed to store conversation: %w", err))
	}
	return c.ID, nil
}

// UpdateConversation applies patch with a revision check.
func (s *Store) UpdateConversation(ctx context.Context, id string, patch model.ConversationPatch) error {
	ctx, span := s.tracer.Start(ctx, "nats.UpdateConversation",
		trace.WithAttributes(attribute.String("conversation.id", id)))
	defer span.End()

	entry, err := s.kv.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return store.ErrNotFound
		}
		return fail(span, fmt.Errorf("failed to read conversation: %w", err))
	}

	var conv model.Conversation
	if err := json.Unmarshal(entry.Value(), &conv); err != nil {
		return fail(span, fmt.Errorf("failed to decode conversation: %w", err))
	}
	patch.Apply(&conv, s.now())

	data, err := json.Marshal(&conv)
	if err != nil {
		return fail(span, fmt.Errorf("failed to marshal conversation: %w", err))
	}
	if _, err := s.kv.Update(ctx, id, data, entry.Revision()); err != nil {
		return fail(span, fmt.Errorf("failed to update conversation: %w", err))
	}
	return nil
}

// GetConversation reads a conversation record.
func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	entry, err := s.kv.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}

	var conv model.Conversation
	if err := json.Unmarshal(entry.Value(), &conv); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	return &conv, nil
}

// GetActiveConversations scans the bucket for active conversations, newest first.
func (s *Store) GetActiveConversations(ctx context.Context) ([]model.Conversation, error) {
	ctx, span := s.tracer.Start(ctx, "nats.GetActiveConversations")
	defer span.End()

	convs := make([]model.Conversation, 0)

	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return convs, nil
		}
		return nil, fail(span, fmt.Errorf("failed to list conversations: %w", err))
	}

	for _, key := range keys {
		conv, err := s.GetConversation(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fail(span, err)
		}
		if conv.IsActive {
			convs = append(convs, *conv)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].CreatedAt.After(convs[j].CreatedAt)
	})
	return convs, nil
}

// SendMessage publishes msg on its owner's subject.
func (s *Store) SendMessage(ctx context.Context, msg *model.ChatMessage) (string, error) {
	ctx, span := s.tracer.Start(ctx, "nats.SendMessage")
	defer span.End()

	if err := store.ValidateMessage(msg); err != nil {
		return "", fail(span, err)
	}
	m := *msg
	if m.ID == "" {
		m.ID = uuid.Must(uuid.NewV7()).String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}

	subject := LocritSubject(m.LocritID)
	if m.ConversationID != "" {
		subject = ConversationSubject(m.ConversationID)
	}
	span.SetAttributes(attribute.String("nats.subject", subject))

	data, err := json.Marshal(&m)
	if err != nil {
		return "", fail(span, fmt.Errorf("failed to marshal message: %w", err))
	}
	if _, err := s.client.JetStream().Publish(ctx, subject, data, jetstream.WithMsgID(m.ID)); err != nil {
		return "", fail(span, fmt.Errorf("failed to publish message: %w", err))
	}
	return m.ID, nil
}

// GetLocritMessages replays the messages of a Locrit chat.
func (s *Store) GetLocritMessages(ctx context.Context, locritID string) ([]model.ChatMessage, error) {
	return s.replay(ctx, LocritSubject(locritID))
}

// GetConversationMessages replays the messages of a conversation.
func (s *Store) GetConversationMessages(ctx context.Context, conversationID string) ([]model.ChatMessage, error) {
	return s.replay(ctx, ConversationSubject(conversationID))
}

// Ping reports whether the connection is up.
func (s *Store) Ping(ctx context.Context) error {
	if !s.client.IsConnected() {
		return errors.New("NATS not connected")
	}
	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}

// replay reads every message on subject through an ephemeral consumer.
func (s *Store) replay(ctx context.Context, subject string) ([]model.ChatMessage, error) {
	ctx, span := s.tracer.Start(ctx, "nats.Replay",
		trace.WithAttributes(attribute.String("nats.subject", subject)))
	defer span.End()

	js := s.client.JetStream()

	consumer, err := js.CreateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject:     subject,
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: 30 * time.Second,
	})
	if err != nil {
		return nil, fail(span, fmt.Errorf("failed to create consumer: %w", err))
	}
	info := consumer.CachedInfo()
	defer js.DeleteConsumer(context.WithoutCancel(ctx), StreamName, info.Name)

	messages := make([]model.ChatMessage, 0, info.NumPending)
	remaining := int(info.NumPending)

	for remaining > 0 {
		batch, err := consumer.Fetch(min(remaining, fetchBatch), jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			return nil, fail(span, fmt.Errorf("failed to fetch messages: %w", err))
		}

		got := 0
		for msg := range batch.Messages() {
			got++
			var message model.ChatMessage
			if err := json.Unmarshal(msg.Data(), &message); err != nil {
				s.client.logger.Warn("skipping undecodable message")
				continue
			}
			messages = append(messages, message)
		}

		if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fail(span, fmt.Errorf("batch error: %w", err))
		}
		if got == 0 {
			break
		}
		remaining -= got
	}

	return messages, nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Package kafka implements the Kafka sink backend on sarama. Records are
// produced synchronously, one message per commit, to the type's topic. The
// schema manifest lives in a compacted side topic keyed by schema name, so
// every producer attaching to the same type agrees on its shape before the
// first record flows.
package kafka

import (
	"context"
	"crypto/tls"
	stderrors "errors"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/geobridge/geobridge/pkg/errors"
	"github.com/geobridge/geobridge/pkg/json"
	"github.com/geobridge/geobridge/pkg/logger"
	"github.com/geobridge/geobridge/pkg/schema"
	"github.com/geobridge/geobridge/pkg/sink"
)

func init() {
	if err := sink.Register("kafka", func() sink.Backend { return &Backend{} }); err != nil {
		panic(err)
	}
}

const manifestSuffix = ".schema"

// Backend connects to a Kafka cluster.
type Backend struct{}

// Name returns the registry name.
func (b *Backend) Name() string { return "kafka" }

// Connect builds the client, sync producer and admin against the brokers.
func (b *Backend) Connect(_ context.Context, params sink.ConnectParams) (sink.Conn, error) {
	if len(params.Endpoints) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "kafka needs at least one broker endpoint")
	}

	client, err := sarama.NewClient(params.Endpoints, buildSaramaConfig(params))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to kafka brokers")
	}

	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create kafka producer")
	}

	admin, err := sarama.NewClusterAdminFromClient(client)
	if err != nil {
		producer.Close()
		client.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create kafka admin")
	}

	log := logger.Get().With(zap.String("backend", "kafka"))
	log.Info("kafka connected",
		zap.Strings("brokers", params.Endpoints),
		zap.String("namespace", params.Namespace))

	return &conn{
		client:    client,
		producer:  producer,
		admin:     admin,
		namespace: params.Namespace,
		ensured:   make(map[string]*schema.Schema),
		logger:    log,
	}, nil
}

// buildSaramaConfig maps connect parameters onto sarama's producer knobs.
func buildSaramaConfig(params sink.ConnectParams) *sarama.Config {
	config := sarama.NewConfig()

	switch params.Acks {
	case "all", "-1":
		config.Producer.RequiredAcks = sarama.WaitForAll
	case "1":
		config.Producer.RequiredAcks = sarama.WaitForLocal
	case "0":
		config.Producer.RequiredAcks = sarama.NoResponse
	default:
		config.Producer.RequiredAcks = sarama.WaitForAll
	}

	if params.Retries > 0 {
		config.Producer.Retry.Max = params.Retries
	}
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	switch params.Compression {
	case "gzip":
		config.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		config.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		config.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		config.Producer.Compression = sarama.CompressionZSTD
	default:
		config.Producer.Compression = sarama.CompressionNone
	}

	if params.ConnectTimeout > 0 {
		config.Net.DialTimeout = params.ConnectTimeout
	}
	if params.RequestTimeout > 0 {
		config.Producer.Timeout = params.RequestTimeout
	}

	if params.EnableTLS {
		config.Net.TLS.Enable = true
		config.Net.TLS.Config = &tls.Config{
			InsecureSkipVerify: params.TLSSkipVerify,
		}
	}

	if user := params.Credentials["username"]; user != "" {
		config.Net.SASL.Enable = true
		config.Net.SASL.User = user
		config.Net.SASL.Password = params.Credentials["password"]
		config.Net.SASL.Mechanism = sarama.SASLTypePlaintext
	}

	return config
}

// manifest is the schema record stored in the compacted side topic.
type manifest struct {
	Name        string         `json:"name"`
	Fingerprint string         `json:"fingerprint"`
	Fields      []schema.Field `json:"fields"`
}

type conn struct {
	client    sarama.Client
	producer  sarama.SyncProducer
	admin     sarama.ClusterAdmin
	namespace string
	ensured   map[string]*schema.Schema
	logger    *zap.Logger
}

func (c *conn) topicFor(typeName string) string {
	if c.namespace == "" {
		return typeName
	}
	return c.namespace + "." + typeName
}

// EnsureSchema provisions the data and manifest topics, then publishes or
// verifies the schema manifest.
func (c *conn) EnsureSchema(ctx context.Context, s *schema.Schema) error {
	dataTopic := c.topicFor(s.Name)
	manifestTopic := dataTopic + manifestSuffix

	if err := c.createTopic(dataTopic, nil); err != nil {
		return err
	}
	if err := c.createTopic(manifestTopic, map[string]*string{
		"cleanup.policy": strPtr("compact"),
	}); err != nil {
		return err
	}

	existing, err := c.latestManifest(ctx, manifestTopic, s.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.Fingerprint != s.Fingerprint() {
			return errors.Newf(errors.ErrorTypeSchemaConflict,
				"schema %s already published with a different shape", s.Name)
		}
		c.ensured[s.Name] = s
		c.logger.Debug("schema manifest already current", zap.String("type", s.Name))
		return nil
	}

	payload, err := json.Marshal(manifest{
		Name:        s.Name,
		Fingerprint: s.Fingerprint(),
		Fields:      s.Fields,
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode schema manifest")
	}

	_, _, err = c.producer.SendMessage(&sarama.ProducerMessage{
		Topic: manifestTopic,
		Key:   sarama.StringEncoder(s.Name),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to publish schema manifest")
	}

	c.ensured[s.Name] = s
	c.logger.Info("schema manifest published",
		zap.String("type", s.Name),
		zap.String("topic", manifestTopic))
	return nil
}

func strPtr(s string) *string { return &s }

// createTopic provisions a single partition topic, tolerating topics that
// already exist.
func (c *conn) createTopic(topic string, entries map[string]*string) error {
	err := c.admin.CreateTopic(topic, &sarama.TopicDetail{
		NumPartitions:     1,
		ReplicationFactor: 1,
		ConfigEntries:     entries,
	}, false)
	if err == nil || stderrors.Is(err, sarama.ErrTopicAlreadyExists) {
		return nil
	}

	var topicErr *sarama.TopicError
	if stderrors.As(err, &topicErr) && topicErr.Err == sarama.ErrTopicAlreadyExists {
		return nil
	}
	return errors.Wrapf(err, errors.ErrorTypeConnection, "failed to create topic %s", topic)
}

// latestManifest replays the compacted manifest topic and returns the last
// manifest stored under the schema name, or nil when none exists.
func (c *conn) latestManifest(ctx context.Context, topic, name string) (*manifest, error) {
	newest, err := c.client.GetOffset(topic, 0, sarama.OffsetNewest)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read manifest topic offset")
	}
	if newest == 0 {
		return nil, nil
	}

	consumer, err := sarama.NewConsumerFromClient(c.client)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create manifest consumer")
	}
	defer consumer.Close()

	pc, err := consumer.ConsumePartition(topic, 0, sarama.OffsetOldest)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to consume manifest topic")
	}
	defer pc.Close()

	var found *manifest
	for {
		select {
		case msg := <-pc.Messages():
			if string(msg.Key) == name {
				var m manifest
				if err := json.Unmarshal(msg.Value, &m); err != nil {
					return nil, errors.Wrap(err, errors.ErrorTypeSchemaConflict, "undecodable schema manifest")
				}
				found = &m
			}
			if msg.Offset >= newest-1 {
				return found, nil
			}
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeConnection, "manifest replay timed out")
		}
	}
}

// OpenWriter binds a handle to the type's topic.
func (c *conn) OpenWriter(_ context.Context, typeName string) (sink.WriterHandle, error) {
	if _, ok := c.ensured[typeName]; !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "type %s was not ensured on this connection", typeName)
	}
	return &writerHandle{
		producer: c.producer,
		topic:    c.topicFor(typeName),
		typeName: typeName,
		logger:   c.logger.With(zap.String("type", typeName)),
	}, nil
}

// Close shuts the producer and the shared client down. The admin close
// also closes the client it was built from.
func (c *conn) Close() error {
	if err := c.producer.Close(); err != nil {
		c.admin.Close()
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to close kafka producer")
	}
	return c.admin.Close()
}

// envelope is the message payload for one committed record.
type envelope struct {
	ID       string            `json:"id"`
	Values   []interface{}     `json:"values"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type writerHandle struct {
	producer sarama.SyncProducer
	topic    string
	typeName string
	logger   *zap.Logger
	closed   bool
}

// NewSlot returns an empty slot.
func (w *writerHandle) NewSlot() sink.Slot {
	return &sink.RecordSlot{}
}

// Commit produces one message keyed by the record ID.
func (w *writerHandle) Commit(_ context.Context, slot sink.Slot) error {
	if w.closed {
		return errors.New(errors.ErrorTypeAppend, "writer handle closed")
	}
	rs, ok := slot.(*sink.RecordSlot)
	if !ok {
		return errors.Newf(errors.ErrorTypeInternal, "foreign slot type %T", slot)
	}

	payload, err := json.Marshal(envelope{ID: rs.ID, Values: rs.Values, Metadata: rs.Metadata})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeAppend, "failed to encode record")
	}

	_, _, err = w.producer.SendMessage(&sarama.ProducerMessage{
		Topic: w.topic,
		Key:   sarama.StringEncoder(rs.ID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(w.typeName)},
		},
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeAppend, "produce failed")
	}
	return nil
}

// Close marks the handle closed. The producer is owned by the connection.
// Safe to call more than once.
func (w *writerHandle) Close() error {
	w.closed = true
	return nil
}

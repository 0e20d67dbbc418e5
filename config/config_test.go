package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  order_created_topic_name: "order.created"
  fulfillment_updated_topic_name: "fulfillment.updated"
redis:
  host: "localhost"
  port: 6379
fulfillbox:
  http_addr: ":8080"
  kafka_consumer_group: "fulfill-api"
  current_record_ttl_seconds: 600
  append_timeout_seconds: 5
  webhook_rate_limit_per_minute: 300
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "order.created", cfg.Kafka.OrderCreatedTopicName)
	require.Equal(t, "fulfillment.updated", cfg.Kafka.FulfillmentUpdatedTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.FulfillBox.HTTPAddr)
	require.Equal(t, 300, cfg.FulfillBox.WebhookRateLimitPerMinute)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/does/not/exist.yaml")
	require.Error(t, err)
}

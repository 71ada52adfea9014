package factsync

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"bitbucket.org/mmdatafocus/venue_backend/config"
	"bitbucket.org/mmdatafocus/venue_backend/models"
	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type pubsubDispatcher struct {
	topic       string
	createTopic bool
}

// NewPubSubDispatcher publishes queued runs to topic; a worker subscribed
// through PubSubPushHandler executes them.
func NewPubSubDispatcher(topic string) Dispatcher {
	if topic == "" {
		topic = "fact-sync"
	}
	return &pubsubDispatcher{
		topic:       topic,
		createTopic: config.EnvBoolDefault("FACT_SYNC_CREATE_TOPIC", false),
	}
}

func (d *pubsubDispatcher) Dispatch(ctx context.Context, run models.FactSyncRun) error {
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	topic := client.Topic(d.topic)
	if d.createTopic {
		topic, err = config.CreateTopicIfNotExists(ctx, client, d.topic)
		if err != nil {
			return err
		}
	}

	data := encodePayload(SyncPubSubPayload{RunId: run.ID, CorrelationId: run.CorrelationId})
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

// PubSubPushHandler executes the run named in a push message. It always acks
// with 204: malformed messages would only be redelivered, and failed runs are
// recorded on the run row and retried through the API.
func PubSubPushHandler(runner *Runner, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !config.EnvBoolDefault("ENABLE_FACT_SYNC_PUBSUB_PUSH_ENDPOINT", true) {
			c.Status(http.StatusNoContent)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		var payload SyncPubSubPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		if payload.RunId == 0 {
			c.Status(http.StatusNoContent)
			return
		}

		if _, _, err := runner.ProcessRun(c.Request.Context(), payload.RunId); err != nil {
			config.LogError(logger, "factsync", "PubSubPushHandler", "process run", map[string]any{
				"run_id":     payload.RunId,
				"message_id": envelope.Message.ID,
			}, err)
		}
		c.Status(http.StatusNoContent)
	}
}

package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BearBump/FulfillBox/internal/services/fulfillment"
	"github.com/BearBump/FulfillBox/internal/storage/memfulfillment"
	"github.com/stretchr/testify/require"
)

type fakeConsumer struct{}

func (c fakeConsumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRunFulfillAPI_SwaggerServed(t *testing.T) {
	dir := t.TempDir()
	sw := filepath.Join(dir, "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	svc := fulfillment.New(memfulfillment.New(), nil, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := fulfillAPIOpts{
		httpAddr:          "127.0.0.1:0",
		swaggerPath:       sw,
		webhookSecret:     "s",
		orderCreatedTopic: "order.created",
		consumerGroup:     "g",
		onListen:          func(httpAddr string) { addrCh <- httpAddr },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- runFulfillAPI(ctx, opts, svc, nil, fakeConsumer{})
	}()

	httpAddr := <-addrCh

	resp, err := http.Get("http://" + httpAddr + "/swagger.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	require.Contains(t, string(body), "\"swagger\"")

	hz, err := http.Get("http://" + httpAddr + "/healthz")
	require.NoError(t, err)
	defer hz.Body.Close()
	require.Equal(t, 200, hz.StatusCode)

	// вебхук без подписи отбивается уже на этом уровне
	wh, err := http.Post("http://"+httpAddr+"/webhooks/printify", "application/json", nil)
	require.NoError(t, err)
	defer wh.Body.Close()
	require.Equal(t, 401, wh.StatusCode)

	cancel()
	require.Error(t, <-errCh)
}

func TestRunFulfillAPI_SwaggerRequired(t *testing.T) {
	svc := fulfillment.New(memfulfillment.New(), nil, time.Minute)
	err := runFulfillAPI(context.Background(), fulfillAPIOpts{httpAddr: "127.0.0.1:0"}, svc, nil, fakeConsumer{})
	require.Error(t, err)

	err = runFulfillAPI(context.Background(), fulfillAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: "/does/not/exist.json",
	}, svc, nil, fakeConsumer{})
	require.Error(t, err)
}

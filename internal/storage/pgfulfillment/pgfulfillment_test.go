package pgfulfillment

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPGFulfillment_RepoFlow(t *testing.T) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "fulfillbox_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/fulfillbox_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	// запись ещё не создана → NotFound, не пустая запись
	_, err = st.GetRecord(ctx, "order-42")
	require.ErrorIs(t, err, models.ErrNotFound)

	rec, err := st.CreateOrGetRecord(ctx, "order-42")
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, rec.CurrentStatus)
	require.Equal(t, 0, rec.CurrentStep)
	require.Empty(t, rec.Events)

	// повторное создание — та же запись
	again, err := st.CreateOrGetRecord(ctx, "order-42")
	require.NoError(t, err)
	require.Equal(t, rec.CreatedAt, again.CreatedAt)

	evTime := time.Now().UTC()
	err = st.AppendEvent(ctx, models.RecordUpdate{
		OrderID:     "order-42",
		Status:      models.StatusConfirmed,
		Step:        1,
		DedupKey:    "order:updated|confirmed",
		EventTime:   evTime,
		Description: "Order confirmed",
	})
	require.NoError(t, err)

	carrier := "UPS"
	trackNum := "1Z1"
	err = st.AppendEvent(ctx, models.RecordUpdate{
		OrderID:        "order-42",
		Status:         models.StatusShipped,
		Step:           5,
		DedupKey:       "order:shipment:created|shipped",
		EventTime:      evTime.Add(time.Hour),
		Description:    "Shipment created",
		Carrier:        &carrier,
		TrackingNumber: &trackNum,
	})
	require.NoError(t, err)

	got, err := st.GetRecord(ctx, "order-42")
	require.NoError(t, err)
	require.Equal(t, models.StatusShipped, got.CurrentStatus)
	require.Equal(t, 5, got.CurrentStep)
	require.NotNil(t, got.Carrier)
	require.Equal(t, "UPS", *got.Carrier)
	require.Len(t, got.Events, 2)
	require.Equal(t, models.StatusConfirmed, got.Events[0].Status)
	require.Equal(t, models.StatusShipped, got.Events[1].Status)
}

func TestPGFulfillment_AppendDedup(t *testing.T) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "fulfillbox_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/fulfillbox_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	_, err = st.CreateOrGetRecord(ctx, "order-7")
	require.NoError(t, err)

	upd := models.RecordUpdate{
		OrderID:     "order-7",
		Status:      models.StatusConfirmed,
		Step:        1,
		DedupKey:    "evt-1",
		EventTime:   time.Now().UTC(),
		Description: "Order confirmed",
	}
	require.NoError(t, st.AppendEvent(ctx, upd))
	// повторная доставка того же события — no-op, без ошибки
	require.NoError(t, st.AppendEvent(ctx, upd))

	got, err := st.GetRecord(ctx, "order-7")
	require.NoError(t, err)
	require.Len(t, got.Events, 1)
	require.Equal(t, models.StatusConfirmed, got.CurrentStatus)

	// событие по несуществующему заказу
	err = st.AppendEvent(ctx, models.RecordUpdate{
		OrderID: "order-missing", Status: models.StatusConfirmed, Step: 1,
		DedupKey: "x", EventTime: time.Now().UTC(),
	})
	require.ErrorIs(t, err, models.ErrNotFound)
}

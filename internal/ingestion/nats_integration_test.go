package ingestion_test

import (
	"VaultLedger/internal/core"
	"VaultLedger/internal/ingestion"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/testutil"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestIntegration_SubscriberAndReplies(t *testing.T) {
	testutil.RequireIntegration(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	nc, js, err := ingestion.ConnectNATS(testutil.TestNATSURL())
	if err != nil {
		t.Skipf("test nats not available: %v", err)
	}
	defer nc.Close()
	require.NoError(t, ingestion.EnsureStreams(ctx, js))
	require.NoError(t, ingestion.EnsureOutboundStreams(ctx, js))

	// A fresh brand keeps the durable consumer away from earlier runs.
	brand := fpmath.Brand("T" + strings.ToUpper(uuid.NewString()[:8]))
	subject := ingestion.RequestSubject(core.KindDeposit, brand)

	inbound := make(chan ingestion.Inbound, 4)
	sub := ingestion.NewNATSSubscriber(js, ingestion.Parser{Debt: "RUN"}, inbound, zerolog.Nop(), nil)
	require.NoError(t, sub.Subscribe(ctx, []ingestion.SubjectConfig{{
		Subject:      subject,
		ConsumerName: "test-" + string(brand),
		StreamName:   ingestion.RequestStream,
	}}))
	defer sub.Stop()

	_, err = js.Publish(ctx, subject, []byte(`{not json`))
	require.NoError(t, err)
	_, err = js.Publish(ctx, subject, mustJSON(t, map[string]interface{}{
		"request_id": "d-1",
		"owner":      "alice",
		"amount":     int64(25),
	}))
	require.NoError(t, err)

	var in ingestion.Inbound
	select {
	case in = <-inbound:
	case <-ctx.Done():
		t.Fatal("no request delivered")
	}
	dep, ok := in.Request.(*core.Deposit)
	require.True(t, ok, "malformed message is terminated, not queued")
	require.Equal(t, "d-1", dep.RequestID())
	require.Equal(t, fpmath.MustAmount(brand, 25), dep.Amount)
	in.Ack()

	reply := core.Reply{RequestID: "reply-" + string(brand), Kind: core.KindDeposit, Status: core.StatusApplied, At: time.Now().UTC()}
	replies, err := nc.SubscribeSync(ingestion.ReplySubject(reply))
	require.NoError(t, err)
	defer replies.Unsubscribe()

	pub := ingestion.NewOutboundPublisher(js, nil, zerolog.Nop(), nil)
	require.NoError(t, pub.PublishReply(ctx, reply))

	msg, err := replies.NextMsg(5 * time.Second)
	require.NoError(t, err)
	var got core.Reply
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	require.Equal(t, reply.RequestID, got.RequestID)
	require.Equal(t, core.StatusApplied, got.Status)
}

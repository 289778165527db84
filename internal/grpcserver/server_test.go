package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/batch"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/convert"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/llm"
	"github.com/joseph-ayodele/docextract/internal/pipeline"
	"github.com/joseph-ayodele/docextract/internal/repository"
	"github.com/joseph-ayodele/docextract/internal/session"
	"github.com/joseph-ayodele/docextract/internal/stream"
	pb "github.com/joseph-ayodele/docextract/proto"
)

func echoModel() llm.BatchExtractor {
	return llm.ExtractorFunc(func(_ context.Context, pc entity.ProcessingContext, reqs []llm.Request) ([]llm.Outcome, error) {
		out := make([]llm.Outcome, len(reqs))
		for i := range reqs {
			out[i] = llm.Outcome{
				Data:  json.RawMessage(fmt.Sprintf(`{"vendor":"ACME","model":%q}`, pc.ModelID())),
				Model: pc.ModelID(),
			}
		}
		return out, nil
	})
}

type testEnv struct {
	client pb.ExtractionServiceClient
	health healthpb.HealthClient
	hs     *health.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dsn := "file:" + filepath.Join(t.TempDir(), "grpc.db")
	db, err := repository.Open(context.Background(), repository.Config{Driver: repository.DriverSQLite, DSN: dsn}, logger)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	sched := batch.NewScheduler(echoModel(), nil, logger, batch.WithFlushInterval(5*time.Millisecond))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sched.Shutdown(ctx)
	})
	mgr := session.NewManager(repository.NewRepositories(db, logger), session.Config{}, logger)
	svc := pipeline.NewService(mgr, sched, convert.New(common.ConvertConfig{}, logger), llm.NewRegistry(), logger)

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer(grpc.UnaryInterceptor(UnaryLogger(logger)))
	hs := Register(gs, NewServer(svc, logger))
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &testEnv{client: pb.NewExtractionServiceClient(conn), health: healthpb.NewHealthClient(conn), hs: hs}
}

func recvAll(t *testing.T, rx pb.RunEventReceiver) []*pb.RunEvent {
	t.Helper()
	var events []*pb.RunEvent
	for {
		ev, err := rx.Recv()
		if errors.Is(err, io.EOF) {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestSubmitRun_StreamsToCompletion(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rx, err := env.client.SubmitRun(ctx, &pb.SubmitRunRequest{
		SchemaKey: "receipt",
		ModelID:   "gpt-4o-mini",
		Files: []*pb.File{
			{Filename: "a.md", Data: []byte("receipt a")},
			{Filename: "b.txt", Data: []byte("receipt b")},
		},
	})
	require.NoError(t, err)
	events := recvAll(t, rx)
	require.NotEmpty(t, events)

	assert.Equal(t, string(constants.EventInit), events[0].Type)
	assert.Equal(t, string(constants.EventComplete), events[len(events)-1].Type)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Seq, events[i-1].Seq)
	}

	var initPayload stream.InitPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &initPayload))
	assert.Equal(t, 2, initPayload.Total)
	assert.Equal(t, 1, initPayload.VersionNumber)

	var done stream.CompletePayload
	require.NoError(t, json.Unmarshal(events[len(events)-1].Payload, &done))
	assert.Equal(t, 2, done.Successful)

	versions, err := env.client.ListVersions(ctx, &pb.ListVersionsRequest{SessionID: initPayload.SessionID})
	require.NoError(t, err)
	require.Len(t, versions.Versions, 1)
	assert.Equal(t, int32(1), versions.Versions[0].Number)
	assert.Equal(t, "gpt-4o-mini", versions.Versions[0].ModelID)
}

func TestReExtractAndCompare(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rx, err := env.client.SubmitRun(ctx, &pb.SubmitRunRequest{
		SchemaKey: "receipt",
		ModelID:   "gpt-4o-mini",
		Files:     []*pb.File{{Filename: "a.md", Data: []byte("receipt a")}},
	})
	require.NoError(t, err)
	first := recvAll(t, rx)
	var initPayload stream.InitPayload
	require.NoError(t, json.Unmarshal(first[0].Payload, &initPayload))

	rx, err = env.client.ReExtract(ctx, &pb.ReExtractRequest{SessionID: initPayload.SessionID, ModelID: "gpt-4o"})
	require.NoError(t, err)
	second := recvAll(t, rx)
	assert.Equal(t, string(constants.EventComplete), second[len(second)-1].Type)

	resp, err := env.client.Compare(ctx, &pb.CompareRequest{SessionID: initPayload.SessionID, VersionA: 1, VersionB: 2})
	require.NoError(t, err)
	require.Len(t, resp.Files, 1)
	byPath := map[string]*pb.FieldDiff{}
	for _, f := range resp.Files[0].Fields {
		byPath[f.Path] = f
	}
	require.Contains(t, byPath, "model")
	assert.Equal(t, "different", byPath["model"].Status)
	assert.Equal(t, "same", byPath["vendor"].Status)
	assert.Equal(t, int32(1), resp.Files[0].Summary.Same)
}

func TestReExtract_ErrorsMapToCodes(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rx, err := env.client.ReExtract(ctx, &pb.ReExtractRequest{SessionID: "not-a-uuid", ModelID: "gpt-4o"})
	require.NoError(t, err)
	_, err = rx.Recv()
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	rx, err = env.client.ReExtract(ctx, &pb.ReExtractRequest{SessionID: "7d9f3c4e-1b2a-4c5d-8e6f-0a1b2c3d4e5f", ModelID: "gpt-4o"})
	require.NoError(t, err)
	_, err = rx.Recv()
	assert.Equal(t, codes.NotFound, status.Code(err))

	rx, err = env.client.SubmitRun(ctx, &pb.SubmitRunRequest{SchemaKey: "receipt"})
	require.NoError(t, err)
	_, err = rx.Recv()
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestUnaryValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.client.CancelRun(ctx, &pb.CancelRunRequest{RunID: "missing"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = env.client.CancelRun(ctx, &pb.CancelRunRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = env.client.Compare(ctx, &pb.CompareRequest{SessionID: "7d9f3c4e-1b2a-4c5d-8e6f-0a1b2c3d4e5f", VersionA: 0, VersionB: 1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = env.client.ListVersions(ctx, &pb.ListVersionsRequest{SessionID: "nope"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, err := env.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: pb.ServiceDesc.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

type flakyPinger struct{ down atomic.Bool }

func (p *flakyPinger) HealthCheck(context.Context, time.Duration) error {
	if p.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func TestWatchDatabase(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &flakyPinger{}
	p.down.Store(true)
	go WatchDatabase(ctx, env.hs, p, 5*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := env.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: pb.ServiceDesc.ServiceName})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.Status
	}
	assert.Eventually(t, func() bool { return check() == healthpb.HealthCheckResponse_NOT_SERVING }, 2*time.Second, 5*time.Millisecond)
	p.down.Store(false)
	assert.Eventually(t, func() bool { return check() == healthpb.HealthCheckResponse_SERVING }, 2*time.Second, 5*time.Millisecond)
}

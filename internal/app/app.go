// Package app wires the consensus node, the state-sync core, and the
// gRPC transport together into a runnable replica process.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/i-melnichenko/consensus-lab/internal/consensus"
	"github.com/i-melnichenko/consensus-lab/internal/consensus/raft"
	"github.com/i-melnichenko/consensus-lab/internal/observability/metrics"
	"github.com/i-melnichenko/consensus-lab/internal/statesync"
	"github.com/i-melnichenko/consensus-lab/internal/transport/grpc/syncsrv"
)

// Logger is the logging interface required by App.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

const advertiseInterval = 2 * time.Second

// App wires a Raft node and a state-sync Replica into a runnable service.
// New builds the node's storage and metrics and dials one
// syncsrv.PeerClient per peer address; Run serves the gRPC server App
// listens on.
type App struct {
	config  Config
	logger  Logger
	node    *raft.Node
	replica *statesync.Replica

	chunkRequester *peerChunkRequester
	advertiser     *targetAdvertiser
	peerClients    map[int]*syncsrv.PeerClient
	health         *health.Server
	prom           *metrics.Prometheus
}

// New validates dependencies and constructs a runnable application.
// peerAddrsByIndex maps each peer's position in the quorum (0-based,
// excluding this node) to its dial address.
func New(cfg Config, logger Logger, peerAddrsByIndex map[int]string, selfIndex, replicaCount int) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, fmt.Errorf("app: nil logger")
	}

	peerClients, err := dialAll(peerAddrsByIndex)
	if err != nil {
		return nil, err
	}

	prom, err := metrics.NewPrometheus(nil)
	if err != nil {
		return nil, fmt.Errorf("app: new metrics: %w", err)
	}

	storage := raft.NewJSONStorage(cfg.DataDir)
	applyCh := make(chan consensus.ApplyMsg, 256)
	raftPeers := make(map[string]raft.PeerClient, len(peerClients))
	for idx, client := range peerClients {
		raftPeers[fmt.Sprintf("peer-%d", idx)] = client
	}
	node, err := raft.NewNode(cfg.NodeID, raftPeers, applyCh, storage, logger, noop.NewTracerProvider().Tracer("app"), prom)
	if err != nil {
		return nil, fmt.Errorf("app: new raft node: %w", err)
	}

	chunkRequester := newPeerChunkRequester(effectiveChunkSize(cfg), logger)
	for idx, client := range peerClients {
		chunkRequester.setPeer(idx, client)
	}
	advertiser := newTargetAdvertiser(selfIndex, cfg.SyncSuperblockDir, logger, peerClients)

	var replica *statesync.Replica
	commitPipeline := newRaftCommitPipeline(func(ctx context.Context) { _ = replica.OnCommitInterruptible(ctx) })
	gridIO := newNoGridIO(func(ctx context.Context) { _ = replica.OnGridQuiesced(ctx) })
	superblockWriter := statesync.NewJSONSuperblockWriter(cfg.SyncSuperblockDir, logger, func(ctx context.Context, target statesync.Target, err error) {
		_ = replica.OnSuperblockWritten(ctx, target, err)
	})

	replica, err = statesync.NewReplica(statesync.ReplicaConfig{
		ReplicaCount:     replicaCount,
		QuorumThreshold:  cfg.SyncQuorumThreshold,
		CommitPipeline:   commitPipeline,
		GridIO:           gridIO,
		ChunkRequester:   chunkRequester,
		SuperblockWriter: superblockWriter,
		Logger:           logger,
		Metrics:          syncMetrics{nodeID: cfg.NodeID, prom: prom},
	})
	if err != nil {
		return nil, fmt.Errorf("app: new replica: %w", err)
	}
	chunkRequester.bind(replica)
	advertiser.bind(replica)

	return &App{
		config:         cfg,
		logger:         logger,
		node:           node,
		replica:        replica,
		chunkRequester: chunkRequester,
		advertiser:     advertiser,
		peerClients:    peerClients,
		health:         health.NewServer(),
		prom:           prom,
	}, nil
}

func effectiveChunkSize(cfg Config) uint64 {
	if cfg.SyncChunkSizeMax == 0 {
		return statesync.ChunkSizeMax
	}
	return cfg.SyncChunkSizeMax
}

func dialAll(addrs map[int]string) (map[int]*syncsrv.PeerClient, error) {
	clients := make(map[int]*syncsrv.PeerClient, len(addrs))
	for idx, addr := range addrs {
		c, err := syncsrv.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			for _, open := range clients {
				_ = open.Close()
			}
			return nil, fmt.Errorf("app: dial peer %d at %s: %w", idx, addr, err)
		}
		clients[idx] = c
	}
	return clients, nil
}

// Stop stops the underlying Raft node and closes peer connections.
func (a *App) Stop() {
	a.node.Stop()
	for _, c := range a.peerClients {
		_ = c.Close()
	}
}

// Run starts the Raft node, the advertisement loop, and the gRPC server,
// and blocks until ctx is canceled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	shutdownTracing, err := a.initTracing(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	a.node.Run(ctx)
	a.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", a.config.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", a.config.GRPCAddr, err)
	}
	defer func() { _ = lis.Close() }()

	a.logger.Info(
		"replica started",
		"node_id", a.config.NodeID,
		"consensus_type", a.config.ConsensusType,
		"grpc_addr", a.config.GRPCAddr,
		"replica_count", a.replica.ReplicaCount(),
		"quorum_threshold", a.replica.QuorumThreshold(),
	)

	return a.serve(ctx, lis)
}

// serve registers gRPC services, starts background goroutines, and blocks
// until ctx is canceled or a fatal error occurs.
func (a *App) serve(ctx context.Context, lis net.Listener) error {
	server := grpc.NewServer()
	server.RegisterService(&syncsrv.ServiceDesc, syncsrv.NewServer(a.node, a.replica, statesync.NewLocalChunkSource(a.config.SyncSuperblockDir, statesync.NewHasher()), noop.NewTracerProvider().Tracer("syncsrv")))
	healthpb.RegisterHealthServer(server, a.health)
	reflection.Register(server)

	metricsSrv, metricsLis, err := a.metricsServer()
	if err != nil {
		return err
	}
	pprofSrv, pprofLis, err := a.pprofServer()
	if err != nil {
		return err
	}
	defer shutdownHTTPServer(metricsSrv, a.logger, "metrics server")
	defer shutdownHTTPServer(pprofSrv, a.logger, "pprof server")

	advertiseCtx, cancelAdvertise := context.WithCancel(ctx)
	defer cancelAdvertise()

	errCh := make(chan error, 4)

	go a.advertiser.run(advertiseCtx, advertiseInterval)
	go func() {
		if err := server.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	if metricsSrv != nil {
		go func() {
			if err := metricsSrv.Serve(metricsLis); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics serve: %w", err)
			}
		}()
	}
	if pprofSrv != nil {
		go func() {
			if err := pprofSrv.Serve(pprofLis); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("pprof serve: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		server.GracefulStop()
		return nil
	case err := <-errCh:
		server.Stop()
		return err
	}
}

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	executeMethod = "/hadron.agent.v1.AgentService/Execute"
	streamMethod  = "/hadron.agent.v1.AgentService/Stream"
)

// GRPCBackend implements Backend by calling the agent-runner service over
// gRPC. Uses insecure (plaintext) transport — the runner is expected to run
// as a sidecar or on the cluster-local network, matching the teacher's
// GRPCLLMClient (pkg/agent/llm_grpc.go), which makes the same trade-off for
// the same reason.
type GRPCBackend struct {
	conn *grpc.ClientConn
}

// NewGRPCBackend dials the agent-runner service at addr.
func NewGRPCBackend(addr string) (*GRPCBackend, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent backend client for %s: %w", addr, err)
	}
	return &GRPCBackend{conn: conn}, nil
}

// Execute performs a blocking unary RPC and returns the aggregated Result,
// per spec.md §6's execute() contract.
func (b *GRPCBackend) Execute(ctx context.Context, task Task) (*Result, error) {
	var resp Result
	if err := b.conn.Invoke(ctx, executeMethod, &task, &resp); err != nil {
		return nil, fmt.Errorf("agent backend execute failed: %w", err)
	}
	return &resp, nil
}

// eventEnvelope is the wire shape for one streamed AgentEvent: a type tag
// plus the raw fields of whichever concrete event it is, mirroring the
// teacher's GenerateResponse oneof-to-Chunk decoding in
// pkg/agent/llm_grpc.go's fromProtoResponse, adapted from a protobuf oneof
// to a JSON type-tag since this service has no generated protobuf types.
type eventEnvelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

func decodeAgentEvent(env eventEnvelope) (AgentEvent, error) {
	switch env.Type {
	case EventAgentStarted:
		return AgentStartedEvent{}, nil
	case EventToolCall:
		var e ToolCallEvent
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case EventToolResult:
		var e ToolResultEvent
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case EventOutput:
		var e OutputEvent
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case EventPhaseStarted:
		var e PhaseStartedEvent
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case EventPhaseCompleted:
		var e PhaseCompletedEvent
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case EventAgentCompleted:
		var e AgentCompletedEvent
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case EventError:
		var e ErrorEvent
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown agent event type %q", env.Type)
	}
}

// Stream performs a server-streaming RPC and decodes each message into an
// AgentEvent, in the same goroutine-fed-channel shape as the teacher's
// GRPCLLMClient.Generate.
func (b *GRPCBackend) Stream(ctx context.Context, task Task) (<-chan AgentEvent, error) {
	desc := &grpc.StreamDesc{StreamName: "Stream", ServerStreams: true}
	stream, err := b.conn.NewStream(ctx, desc, streamMethod, grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		return nil, fmt.Errorf("agent backend stream call failed: %w", err)
	}
	if err := stream.SendMsg(&task); err != nil {
		return nil, fmt.Errorf("failed to send agent task: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("failed to close agent task stream: %w", err)
	}

	ch := make(chan AgentEvent, 32)
	go func() {
		defer close(ch)
		for {
			var env eventEnvelope
			if err := stream.RecvMsg(&env); err != nil {
				if err == io.EOF {
					return
				}
				select {
				case ch <- ErrorEvent{Message: err.Error()}:
				case <-ctx.Done():
				}
				return
			}
			evt, err := decodeAgentEvent(env)
			if err != nil {
				select {
				case ch <- ErrorEvent{Message: err.Error()}:
				case <-ctx.Done():
				}
				continue
			}
			select {
			case ch <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// Close releases the gRPC connection.
func (b *GRPCBackend) Close() error {
	return b.conn.Close()
}

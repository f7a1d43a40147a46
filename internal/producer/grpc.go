package producer

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/probematter/emergence-loop/internal/framelog"
)

// nextOutcomeMethod is the full method name of the producer RPC.
const nextOutcomeMethod = "/emergence.v1.Producer/NextOutcome"

// #region client
// GRPCProducer calls an external iteration producer over gRPC. Requests and
// responses are schemaless structpb messages so the producer side can
// evolve its payload without regenerating bindings here; unknown fields are
// ignored, missing fields read as zero values.
type GRPCProducer struct {
	conn *grpc.ClientConn
}

// NewGRPCProducer connects to the producer service.
func NewGRPCProducer(addr string) (*GRPCProducer, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &GRPCProducer{conn: conn}, nil
}

// Close shuts down the gRPC connection.
func (p *GRPCProducer) Close() error {
	return p.conn.Close()
}

// #endregion client

// #region next-outcome
// NextOutcome requests one outcome payload. advisory may be nil.
func (p *GRPCProducer) NextOutcome(ctx context.Context, advisory *Advisory) (framelog.Outcome, error) {
	req, err := requestStruct(advisory)
	if err != nil {
		return framelog.Outcome{}, err
	}

	resp := new(structpb.Struct)
	if err := p.conn.Invoke(ctx, nextOutcomeMethod, req, resp); err != nil {
		return framelog.Outcome{}, fmt.Errorf("next outcome rpc: %w", err)
	}
	return decodeOutcome(resp), nil
}

func requestStruct(advisory *Advisory) (*structpb.Struct, error) {
	fields := map[string]interface{}{}
	if advisory != nil {
		fields["advisory"] = map[string]interface{}{
			"iteration_count":            advisory.IterationCount,
			"entropy_trend":              advisory.EntropyTrend,
			"positive_signals_last_hour": advisory.PositiveSignalsHour,
			"elapsed_seconds":            advisory.ElapsedSeconds,
			"remaining_iterations":       advisory.RemainingIterations,
			"remaining_cost_usd":         advisory.RemainingCostUSD,
		}
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return req, nil
}

func decodeOutcome(s *structpb.Struct) framelog.Outcome {
	get := func(key string) *structpb.Value { return s.Fields[key] }

	return framelog.Outcome{
		PhaseReached:         get("phase_reached").GetStringValue(),
		ActionSummary:        get("action_summary").GetStringValue(),
		DomainTag:            get("domain_tag").GetStringValue(),
		Difficulty:           get("difficulty").GetStringValue(),
		Succeeded:            get("succeeded").GetBoolValue(),
		CrystallizedArtifact: get("crystallized_artifact").GetStringValue(),
		BeliefDelta:          stringMap(get("belief_delta")),
		CapabilityDelta:      stringMap(get("capability_delta")),
		LoopIteration:        int64(get("loop_iteration").GetNumberValue()),
		ResourceUsage:        numberMap(get("resource_usage")),
	}
}

func stringMap(v *structpb.Value) map[string]string {
	st := v.GetStructValue()
	if st == nil || len(st.Fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(st.Fields))
	for k, f := range st.Fields {
		out[k] = f.GetStringValue()
	}
	return out
}

func numberMap(v *structpb.Value) map[string]float64 {
	st := v.GetStructValue()
	if st == nil || len(st.Fields) == 0 {
		return nil
	}
	out := make(map[string]float64, len(st.Fields))
	for k, f := range st.Fields {
		out[k] = f.GetNumberValue()
	}
	return out
}

// #endregion next-outcome

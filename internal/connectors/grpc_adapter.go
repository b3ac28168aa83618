package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ExecuteMethod — полный путь RPC сервиса коннекторов.
// Запрос и ответ передаются как google.protobuf.Struct:
//
//	request:  {capability_id, payload, metadata}
//	response: {status_code, error_message, result}
const ExecuteMethod = "/connector.v1.ConnectorService/Execute"

const defaultCallTimeout = 15 * time.Second

type GRPCAdapter struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
	source  string
}

// NewGRPCAdapter создает экземпляр адаптера. timeout <= 0 — 15с.
func NewGRPCAdapter(conn grpc.ClientConnInterface, timeout time.Duration) *GRPCAdapter {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &GRPCAdapter{conn: conn, timeout: timeout, source: "action-pipeline"}
}

// Call реализует интерфейс ExecutionProvider
func (a *GRPCAdapter) Call(ctx context.Context, capID string, payload []byte) ([]byte, error) {
	// 1. JSON -> Struct
	var m map[string]any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}

	req, err := structpb.NewStruct(map[string]any{
		"capability_id": capID,
		"payload":       m,
		"metadata":      map[string]any{"source": a.source},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create proto struct: %w", err)
	}

	// 2. Свой предел у адаптера, даже если обертка задает общий
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := a.conn.Invoke(ctx, ExecuteMethod, req, resp); err != nil {
		return nil, fmt.Errorf("connector call failed: %w", err)
	}

	// 3. Статус внутри ответа
	fields := resp.GetFields()
	if code := fields["status_code"].GetNumberValue(); code != 0 {
		return nil, fmt.Errorf("connector returned error [%d]: %s", int(code), fields["error_message"].GetStringValue())
	}

	result := map[string]any{}
	if s := fields["result"].GetStructValue(); s != nil {
		result = s.AsMap()
	}
	out, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return out, nil
}

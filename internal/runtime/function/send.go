package function

import (
	"context"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/funcflow/internal/runtime/config"
	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
	"github.com/drblury/funcflow/internal/runtime/jsoncodec"
	"github.com/drblury/funcflow/internal/runtime/logging"
)

// Send delivers data to the declared outputs, or only to output when it is
// not empty. Binding outputs are invoked with their operation and metadata;
// pub/sub outputs publish to their uri. Every target settles independently.
func (fc *Context) Send(ctx context.Context, data any, output string) []Settled {
	targets := selectTargets(fc.conf.Outputs, output)
	if len(targets) == 0 {
		return []Settled{}
	}

	payload, encodeErr := EncodePayload(data)
	results := settleAll(ctx, targets, func(ctx context.Context, t target) (any, error) {
		if encodeErr != nil {
			return nil, encodeErr
		}
		c := t.component
		switch {
		case config.IsBindingComponent(c):
			if fc.sidecar == nil {
				return nil, errspkg.ErrSidecarRequired
			}
			return fc.sidecar.InvokeBinding(ctx, c.ComponentName, c.Operation, payload, c.Metadata)
		case config.IsPubSubComponent(c):
			if fc.sidecar == nil {
				return nil, errspkg.ErrSidecarRequired
			}
			return nil, fc.sidecar.PublishEvent(ctx, c.ComponentName, c.URI, payload)
		default:
			return nil, nil
		}
	})

	if err := JoinErrors(results); err != nil {
		fc.logger.Error("Send to outputs partially failed", err, logging.LogFields{"targets": len(results)})
	}
	return results
}

// EncodePayload turns handler data into the bytes handed to the sidecar.
// Bytes and strings pass through, protobuf messages use protojson and
// everything else is encoded as JSON.
func EncodePayload(data any) ([]byte, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case proto.Message:
		return protojson.Marshal(v)
	default:
		return jsoncodec.Marshal(v)
	}
}

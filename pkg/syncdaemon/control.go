package syncdaemon

import (
	"context"
	"encoding/json"

	"github.com/wildland-go/wildland/pkg/controlrpc"
	"github.com/wildland-go/wildland/pkg/wlerr"
	"github.com/wildland-go/wildland/pkg/wlobject"
)

// storageArgs is the wire shape of a "start" command's source/target
// storage descriptor, decoded into a *wlobject.Storage via its normal
// field-map constructor.
type storageArgs map[string]interface{}

func (s storageArgs) toStorage() (*wlobject.Storage, error) {
	return wlobject.StorageFromFields(s)
}

type startArgs struct {
	ContainerName  string      `json:"container-name"`
	JobID          string      `json:"job-id"`
	Source         storageArgs `json:"source"`
	Target         storageArgs `json:"target"`
	Continuous     bool        `json:"continuous"`
	Unidirectional bool        `json:"unidirectional"`
	ActiveEvents   []EventType `json:"active-events,omitempty"`
}

// RegisterHandlers wires spec.md §6's sync control socket commands
// (start, active-events, stop, stop-all, job-state, status,
// test-error, shutdown) onto server, dispatching to m.
func RegisterHandlers(server *controlrpc.Server, m *Manager) {
	server.Handle("start", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var args startArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, wlerr.Wrap(wlerr.ErrBadCommand, "decoding start args: %v", err)
		}
		source, err := args.Source.toStorage()
		if err != nil {
			return nil, wlerr.Wrap(wlerr.ErrBadCommand, "decoding source storage: %v", err)
		}
		target, err := args.Target.toStorage()
		if err != nil {
			return nil, wlerr.Wrap(wlerr.ErrBadCommand, "decoding target storage: %v", err)
		}
		if args.JobID == "" {
			return nil, wlerr.Wrap(wlerr.ErrBadCommand, "start requires job-id")
		}
		spec := Spec{
			ContainerName:  args.ContainerName,
			JobID:          args.JobID,
			Source:         source,
			Target:         target,
			Continuous:     args.Continuous,
			Unidirectional: args.Unidirectional,
			ActiveEvents:   args.ActiveEvents,
		}
		return nil, m.Start(spec)
	})

	server.Handle("active-events", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var args struct {
			JobID        string      `json:"job-id"`
			ActiveEvents []EventType `json:"active-events"`
		}
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, wlerr.Wrap(wlerr.ErrBadCommand, "decoding active-events args: %v", err)
		}
		return nil, m.SetActiveEvents(args.JobID, args.ActiveEvents)
	})

	server.Handle("stop", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var args struct {
			JobID string `json:"job-id"`
		}
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, wlerr.Wrap(wlerr.ErrBadCommand, "decoding stop args: %v", err)
		}
		return nil, m.Stop(args.JobID)
	})

	server.Handle("stop-all", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		m.StopAll()
		return nil, nil
	})

	server.Handle("job-state", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var args struct {
			JobID string `json:"job-id"`
		}
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, wlerr.Wrap(wlerr.ErrBadCommand, "decoding job-state args: %v", err)
		}
		state, lastErr, err := m.JobState(args.JobID)
		if err != nil {
			return nil, err
		}
		return struct {
			State State  `json:"state"`
			Error string `json:"error,omitempty"`
		}{State: state, Error: lastErr}, nil
	})

	server.Handle("status", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		return m.Status(), nil
	})

	server.Handle("test-error", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var args struct {
			JobID string `json:"job-id"`
		}
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, wlerr.Wrap(wlerr.ErrBadCommand, "decoding test-error args: %v", err)
		}
		return nil, m.TestError(args.JobID)
	})

	server.Handle("shutdown", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		go m.Shutdown()
		return nil, nil
	})
}

// Package remote provides a live source that listens to a socket.io
// server and outputs the last payload it received.
package remote

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/vk/mellongo/internal/ctxlog"
	"github.com/vk/mellongo/internal/registry"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// opResult is a private struct to safely pass results through the done channel.
type opResult struct {
	value any
	err   error
}

// Register registers the remote actions.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterAction(&registry.Action{
		Module:        "remote",
		Name:          "Listen",
		Label:         "Listen",
		Category:      "remote",
		Description:   "Waits for the next event from a socket.io server. Downstream nodes only refresh when the payload changes.",
		ExecutionType: registry.Continuous,
		Params: []*registry.Param{
			{Name: "url", Label: "URL", Type: registry.TypeString, Default: ""},
			{Name: "namespace", Label: "Namespace", Type: registry.TypeString, Default: "/"},
			{Name: "on_event", Label: "Event", Type: registry.TypeString, Default: "message"},
			{Name: "emit_event", Label: "Emit on connect", Type: registry.TypeString, Default: ""},
			{Name: "emit_data", Label: "Emit payload", Type: registry.TypeString, Display: "textarea", Default: ""},
			{Name: "timeout", Label: "Timeout", Type: registry.TypeString, Default: "10s"},
			{Name: "insecure_skip_verify", Label: "Skip TLS verification", Type: registry.TypeBool, Default: false},
			{Name: "data", Label: "Data", Type: registry.TypeAny, Display: registry.DisplayOutput},
			{Name: "text", Label: "Text", Type: registry.TypeString, Display: registry.DisplayOutput},
			{Name: "preview", Label: "Preview", Type: registry.TypeText, Display: registry.DisplayUI, Source: "text"},
		},
		Fn: OnRunListen,
	})
}

// OnRunListen connects, optionally emits a request, and returns the first
// payload of on_event. The payload is also rendered as JSON text.
func OnRunListen(ctx context.Context, _ registry.Runtime, params map[string]any) (any, error) {
	rawURL, _ := params["url"].(string)
	namespace, _ := params["namespace"].(string)
	onEvent, _ := params["on_event"].(string)
	emitEvent, _ := params["emit_event"].(string)
	logger := ctxlog.FromContext(ctx).With("action", "remote.Listen", "url", rawURL, "onEvent", onEvent, "emitEvent", emitEvent)
	logger.Debug("Handler started")
	defer logger.Debug("Handler finished")

	if rawURL == "" {
		return nil, fmt.Errorf("url is required")
	}
	timeout, err := time.ParseDuration(fmt.Sprint(params["timeout"]))
	if err != nil {
		logger.Warn("Failed to parse timeout, using default 10s", "inputTimeout", params["timeout"], "error", err)
		timeout = 10 * time.Second
	}

	var emitData any
	if raw, _ := params["emit_data"].(string); raw != "" {
		if err := sonic.UnmarshalString(raw, &emitData); err != nil {
			return nil, fmt.Errorf("emit payload is not valid JSON: %w", err)
		}
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	opts := socket.DefaultOptions()
	if parsedURL.Path != "" && parsedURL.Path != "/" {
		opts.SetPath(parsedURL.Path)
	}
	if parsedURL.RawQuery != "" {
		opts.SetQuery(parsedURL.Query())
	}
	if insecure, _ := params["insecure_skip_verify"].(bool); insecure {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))
	opts.SetReconnection(false)

	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var isConnected atomic.Bool
	done := make(chan opResult, 1)
	send := func(r opResult) {
		select {
		case done <- r:
		default:
		}
	}

	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(namespace, opts)
	defer func() {
		logger.Debug("Disconnecting socket client")
		io.Disconnect()
	}()

	io.On(types.EventName("connect"), func(...any) {
		isConnected.Store(true)
		logger.Debug("Successfully connected", "namespace", namespace, "sid", io.Id())
		if emitEvent != "" {
			if err := io.Emit(emitEvent, emitData); err != nil {
				send(opResult{err: fmt.Errorf("failed to emit %s: %w", emitEvent, err)})
			}
		}
	})
	io.On(types.EventName("connect_error"), func(errs ...any) {
		err, _ := errs[0].(error)
		if err == nil {
			err = fmt.Errorf("connection failed: %v", errs[0])
		}
		send(opResult{err: err})
	})
	io.On(types.EventName(onEvent), func(data ...any) {
		var payload any
		if len(data) > 0 {
			payload = data[0]
		}
		send(opResult{value: payload})
	})

	io.Connect()

	select {
	case <-opCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isConnected.Load() {
			return nil, fmt.Errorf("timed out after connecting while waiting for event '%s'", onEvent)
		}
		return nil, fmt.Errorf("timed out while waiting for initial connection")
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		return map[string]any{"data": res.value, "text": render(res.value)}, nil
	}
}

func render(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	text, err := sonic.MarshalString(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return text
}

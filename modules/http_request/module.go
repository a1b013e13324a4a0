package http_request

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/specialistvlad/tickgraph/internal/registry"
	"github.com/specialistvlad/tickgraph/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// TypeName is the registered node type.
const TypeName = "http.request"

// maxBody caps how much of a response body is kept on the output.
const maxBody = 64 << 10

// Module implements the registry.Module interface for this package.
type Module struct {
	// Client performs the requests. Defaults to http.DefaultClient.
	Client *http.Client
}

// Props configure a request. Body, when set, is sent as JSON.
type Props struct {
	URL    string `json:"url"`
	Method string `json:"method,omitempty"`
	Body   any    `json:"body,omitempty"`
}

type response struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body"`
}

// Request issues an HTTP request on every rising edge of "trigger" once the
// graph has settled. Like a device command, the request runs detached and
// its outcome is applied through env.Post.
type Request struct {
	env    node.Env
	client *http.Client
	props  Props
	latch  node.Latch

	ctx    context.Context
	cancel context.CancelFunc

	inflight bool
	last     response
	lastErr  string
}

func (r *Request) Ports() node.Ports {
	return node.Ports{
		Inputs: []node.Socket{{Name: "trigger", Type: cty.Bool, Single: true}},
		Outputs: []node.Socket{
			node.Out("status_code", cty.Number),
			node.Out("body", cty.String),
			node.Out("error", cty.String),
			node.Out("busy", cty.Bool),
		},
	}
}

func (r *Request) Data(_ context.Context, in node.Inputs) (node.Outputs, error) {
	raw, _ := in.First("trigger")
	if r.latch.Observe(value.Truthy(raw)) == node.EdgeRising && r.env.Settled() && !r.inflight {
		if err := r.start(); err != nil {
			return nil, err
		}
	}
	return node.Outputs{
		"status_code": r.last.StatusCode,
		"body":        r.last.Body,
		"error":       r.lastErr,
		"busy":        r.inflight,
	}, nil
}

func (r *Request) start() error {
	method := r.props.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if r.props.Body != nil {
		b, err := json.Marshal(r.props.Body)
		if err != nil {
			return fmt.Errorf("failed to encode body: %w", err)
		}
		body = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(r.ctx, method, r.props.URL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	r.inflight = true
	logger := r.env.Logger.With("method", method, "url", r.props.URL)
	logger.Info("Making HTTP request")

	go func() {
		res, err := r.do(req)
		r.env.Post(func() {
			if !r.env.Alive() {
				return
			}
			r.inflight = false
			if err != nil {
				r.lastErr = err.Error()
				logger.Warn("HTTP request failed.", "error", err)
			} else {
				r.lastErr = ""
				r.last = res
				logger.Info("Received HTTP response", "status", res.StatusCode)
			}
			r.env.Notify()
		})
	}()
	return nil
}

func (r *Request) do(req *http.Request) (response, error) {
	resp, err := r.client.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return response{}, fmt.Errorf("failed to read response body: %w", err)
	}
	return response{StatusCode: resp.StatusCode, Body: string(bodyBytes)}, nil
}

func (r *Request) Serialize() (json.RawMessage, error) { return node.Save(r.props) }

func (r *Request) Restore(raw json.RawMessage) error {
	if err := node.Load(raw, &r.props); err != nil {
		return err
	}
	r.latch.Reset()
	return nil
}

func (r *Request) Destroy() { r.cancel() }

// Register registers the node type with the registry.
func (m *Module) Register(reg *registry.Registry) {
	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}
	reg.Register(TypeName, func(env node.Env) node.Node {
		ctx, cancel := context.WithCancel(context.Background())
		return &Request{env: env, client: client, ctx: ctx, cancel: cancel}
	})
}

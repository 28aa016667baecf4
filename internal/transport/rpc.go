package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/and161185/untis-auth/internal/errs"
	"github.com/and161185/untis-auth/internal/model"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

const (
	rpcPath       = "/WebUntis/jsonrpc.do"
	rpcInternPath = "/WebUntis/jsonrpc_intern.do"

	methodAuthenticate = "authenticate"
	methodLogout       = "logout"
	methodUserData     = "getUserData2017"
)

type rpcRequest struct {
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	JSONRPC string `json:"jsonrpc"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// rpcResult holds a decoded JSON-RPC result plus the cookies set on the response.
type rpcResult struct {
	result  json.RawMessage
	cookies []string
}

// invoke posts a JSON-RPC envelope to target. Non-200 responses and embedded errors are
// returned as errors tagged with method.
func (c *Client) invoke(ctx context.Context, target, method string, params any, cookies string) (*rpcResult, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	headers := map[string]string{"Accept": "application/json"}
	if cookies != "" {
		headers["Cookie"] = cookies
	}

	resp, err := c.do(ctx, c.protocolTimeout, http.MethodPost, target, headers, rpcRequest{
		ID:      id.String(),
		Method:  method,
		Params:  params,
		JSONRPC: "2.0",
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if resp.status != http.StatusOK {
		return nil, statusError(method, resp)
	}

	var env rpcResponse
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return nil, fmt.Errorf("%s: parse response: %w", method, err)
	}
	if env.Error != nil {
		return nil, fmt.Errorf("%s: %w: %d %s", method, errs.ErrRPC, env.Error.Code, env.Error.Message)
	}
	return &rpcResult{result: env.Result, cookies: resp.cookies}, nil
}

// JSONRPC performs a generic JSON-RPC call and returns the raw result.
func (c *Client) JSONRPC(ctx context.Context, call model.RPCCall) (json.RawMessage, error) {
	target := c.endpoint(call.Server, rpcPath, url.Values{"school": {call.School}})
	res, err := c.invoke(ctx, target, call.Method, call.Params, call.Cookies)
	if err != nil {
		return nil, err
	}
	c.jar.Record(res.cookies, call.Server)
	return res.result, nil
}

// Logout ends the backend session. Failures are returned as a warning, never as an error.
func (c *Client) Logout(ctx context.Context, server, school, cookies string) model.LogoutResult {
	_, err := c.JSONRPC(ctx, model.RPCCall{
		Server:  server,
		School:  school,
		Method:  methodLogout,
		Params:  map[string]any{},
		Cookies: cookies,
	})
	if err != nil {
		c.log.Warn("logout failed", zap.String("server", server), zap.Error(err))
		return model.LogoutResult{Warning: &model.Warning{Op: methodLogout, Err: err}}
	}
	c.jar.Clear(server)
	return model.LogoutResult{}
}

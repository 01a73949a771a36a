package monero

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

var rpcClient = &http.Client{
	Timeout: time.Second * 30,
}

// request is a JSON-RPC 2.0 request to monerod or monero-wallet-rpc.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// response is a JSON-RPC 2.0 response.
type response struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error code=%d message=%s", e.Code, e.Message)
}

// postRPC makes a JSON-RPC call to the given endpoint, unmarshalling the
// result into out if it is non-nil.
func postRPC(endpoint, method string, params, out interface{}) error {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return err
	}

	req := &request{
		JSONRPC: "2.0",
		ID:      0,
		Method:  method,
		Params:  rawParams,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpResp, err := rpcClient.Post(endpoint, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to post %s to %s: %w", method, endpoint, err)
	}
	defer httpResp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return err
	}

	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to unmarshal %s response: %w", method, err)
	}

	if resp.Error != nil {
		return resp.Error
	}

	if out != nil {
		return json.Unmarshal(resp.Result, out)
	}
	return nil
}

package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/utrading/utrading-agent-hub/internal/apperr"
)

// Starknet JSON-RPC 错误码
const (
	codeContractNotFound   = 20
	codeEntrypointNotFound = 21
	codeTxnHashNotFound    = 29
	codeContractError      = 40
	codeTxnExecutionError  = 41
	codeValidationFailure  = 55
)

// 交易状态
const (
	ExecutionSucceeded = "SUCCEEDED"
	ExecutionReverted  = "REVERTED"
	FinalityAcceptedL2 = "ACCEPTED_ON_L2"
	FinalityAcceptedL1 = "ACCEPTED_ON_L1"
)

// RPCClient Starknet 节点客户端
type RPCClient struct {
	client *rpc.Client
}

func DialRPC(ctx context.Context, url string, timeout time.Duration) (*RPCClient, error) {
	c, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(&http.Client{Timeout: timeout}))
	if err != nil {
		return nil, apperr.Transport(err, "dial starknet rpc %s", url)
	}
	return &RPCClient{client: c}, nil
}

func (c *RPCClient) Close() {
	c.client.Close()
}

// FunctionCall 合约调用
type FunctionCall struct {
	ContractAddress    string   `json:"contract_address"`
	EntryPointSelector string   `json:"entry_point_selector"`
	Calldata           []string `json:"calldata"`
}

// InvokeTxn v1 invoke 交易
type InvokeTxn struct {
	Type          string   `json:"type"`
	SenderAddress string   `json:"sender_address"`
	Calldata      []string `json:"calldata"`
	MaxFee        string   `json:"max_fee"`
	Version       string   `json:"version"`
	Signature     []string `json:"signature"`
	Nonce         string   `json:"nonce"`
}

type Event struct {
	FromAddress string   `json:"from_address"`
	Keys        []string `json:"keys"`
	Data        []string `json:"data"`
}

type Receipt struct {
	TransactionHash string  `json:"transaction_hash"`
	ExecutionStatus string  `json:"execution_status"`
	FinalityStatus  string  `json:"finality_status"`
	RevertReason    string  `json:"revert_reason"`
	Events          []Event `json:"events"`
}

func (r *Receipt) Included() bool {
	return r.FinalityStatus == FinalityAcceptedL2 || r.FinalityStatus == FinalityAcceptedL1
}

// call 统一错误分类：合约相关错误为 ContractRejection，其余为 Transport
func (c *RPCClient) call(ctx context.Context, result any, method string, args ...any) error {
	err := c.client.CallContext(ctx, result, method, args...)
	if err == nil {
		return nil
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case codeContractNotFound, codeEntrypointNotFound, codeContractError,
			codeTxnExecutionError, codeValidationFailure:
			return apperr.ContractRejection(revertReason(err), "%s", method)
		}
	}
	return apperr.Transport(err, "%s", method)
}

// revertReason 从错误 data 中提取回滚原因
func revertReason(err error) string {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) || dataErr.ErrorData() == nil {
		return err.Error()
	}

	raw, mErr := json.Marshal(dataErr.ErrorData())
	if mErr != nil {
		return err.Error()
	}
	data := gjson.ParseBytes(raw)
	if data.Type == gjson.String {
		return data.String()
	}
	for _, path := range []string{"revert_error", "execution_error", "revert_reason"} {
		if v := data.Get(path); v.Exists() {
			if v.Type == gjson.String {
				return v.String()
			}
			return v.Raw
		}
	}
	return string(raw)
}

// Call starknet_call，读取最新区块状态
func (c *RPCClient) Call(ctx context.Context, fc FunctionCall) ([]string, error) {
	var out []string
	if err := c.call(ctx, &out, "starknet_call", fc, "latest"); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RPCClient) ChainID(ctx context.Context) (string, error) {
	var id string
	err := c.call(ctx, &id, "starknet_chainId")
	return id, err
}

func (c *RPCClient) Nonce(ctx context.Context, address string) (string, error) {
	var nonce string
	err := c.call(ctx, &nonce, "starknet_getNonce", "pending", address)
	return nonce, err
}

func (c *RPCClient) AddInvoke(ctx context.Context, tx InvokeTxn) (string, error) {
	var res struct {
		TransactionHash string `json:"transaction_hash"`
	}
	if err := c.call(ctx, &res, "starknet_addInvokeTransaction", tx); err != nil {
		return "", err
	}
	if res.TransactionHash == "" {
		return "", apperr.Transport(nil, "starknet_addInvokeTransaction returned empty hash")
	}
	return res.TransactionHash, nil
}

// Receipt 交易未被节点收录时返回 (nil, nil)
func (c *RPCClient) Receipt(ctx context.Context, txHash string) (*Receipt, error) {
	var r Receipt
	err := c.client.CallContext(ctx, &r, "starknet_getTransactionReceipt", txHash)
	if err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == codeTxnHashNotFound {
			return nil, nil
		}
		return nil, apperr.Transport(err, "starknet_getTransactionReceipt")
	}
	return &r, nil
}

package chain

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/utrading/utrading-agent-hub/internal/apperr"
)

// Signer 为 invoke 交易签名
type Signer interface {
	SignInvoke(ctx context.Context, req SignRequest) ([]string, error)
}

type SignRequest struct {
	ChainID       string   `json:"chain_id"`
	SenderAddress string   `json:"sender_address"`
	Calldata      []string `json:"calldata"`
	MaxFee        string   `json:"max_fee"`
	Version       string   `json:"version"`
	Nonce         string   `json:"nonce"`
}

// RemoteSigner 账户私钥由独立签名服务持有
// POST {url}/sign/invoke -> {"signature": ["0x..", "0x.."]}
type RemoteSigner struct {
	client *resty.Client
}

func NewRemoteSigner(url, token string, timeout time.Duration) *RemoteSigner {
	c := resty.New().
		SetBaseURL(url).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &RemoteSigner{client: c}
}

func (s *RemoteSigner) SignInvoke(ctx context.Context, req SignRequest) ([]string, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		Post("/sign/invoke")
	if err != nil {
		return nil, apperr.Transport(err, "signer request")
	}
	if resp.IsError() {
		return nil, apperr.Transport(nil, "signer returned %d: %s", resp.StatusCode(), gjson.GetBytes(resp.Body(), "message").String())
	}

	sig := gjson.GetBytes(resp.Body(), "signature").Array()
	if len(sig) == 0 {
		return nil, apperr.Transport(nil, "signer returned empty signature")
	}
	out := make([]string, 0, len(sig))
	for _, v := range sig {
		out = append(out, v.String())
	}
	return out, nil
}

package models

// PrepData 待钱包签名的合约调用
type PrepData struct {
	ContractAddress string           `json:"contractAddress"`
	Entrypoint      string           `json:"entrypoint"`
	Calldata        []string         `json:"calldata"`
	AgentConfig     *AgentDefinition `json:"agentConfig,omitempty"`
}

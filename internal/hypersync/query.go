package hypersync

// Query/response shapes for the log-indexer collaborator. The backend caps
// the number of blocks scanned per call and reports how far it got via
// NextBlock; callers page with Paginate

type LogFilter struct {
	Address []string   `json:"address,omitempty"`
	Topics  [][]string `json:"topics,omitempty"`
}

type TxFilter struct {
	From []string `json:"from,omitempty"`
	To   []string `json:"to,omitempty"`
}

type FieldSelection struct {
	Block       []string `json:"block,omitempty"`
	Log         []string `json:"log,omitempty"`
	Transaction []string `json:"transaction,omitempty"`
}

// Commonly selected fields
const (
	BlockFieldNumber    = "number"
	BlockFieldTimestamp = "timestamp"

	LogFieldBlockNumber = "block_number"
	LogFieldAddress     = "address"
	LogFieldData        = "data"
	LogFieldTopic0      = "topic0"
	LogFieldTopic1      = "topic1"
	LogFieldTopic2      = "topic2"
	LogFieldTopic3      = "topic3"

	TxFieldBlockNumber = "block_number"
	TxFieldGasUsed     = "gas_used"
	TxFieldGasPrice    = "gas_price"
)

type Query struct {
	FromBlock      uint64         `json:"from_block"`
	ToBlock        *uint64        `json:"to_block,omitempty"`
	Logs           []LogFilter    `json:"logs,omitempty"`
	Transactions   []TxFilter     `json:"transactions,omitempty"`
	FieldSelection FieldSelection `json:"field_selection"`
}

type Log struct {
	BlockNumber uint64   `json:"block_number"`
	Address     string   `json:"address"`
	Data        string   `json:"data"`
	Topics      []string `json:"topics,omitempty"`
}

type Transaction struct {
	BlockNumber uint64 `json:"block_number"`
	GasUsed     string `json:"gas_used"`  // hex or decimal quantity
	GasPrice    string `json:"gas_price"` // hex or decimal quantity
}

type Block struct {
	Number    uint64 `json:"number"`
	Timestamp uint64 `json:"timestamp"`
}

type QueryData struct {
	Logs         []Log         `json:"logs"`
	Transactions []Transaction `json:"transactions"`
	Blocks       []Block       `json:"blocks"`
}

type QueryResponse struct {
	Data      QueryData `json:"data"`
	NextBlock uint64    `json:"next_block"`
}

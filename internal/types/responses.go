package types

// StockInfo is the derived availability of a single size. It is recomputed
// from the live order set on every query, never cached.
type StockInfo struct {
	Size      Size   `json:"size"`
	Label     string `json:"label"`
	Total     int    `json:"total"`
	Available int    `json:"available"`
	Pending   bool   `json:"pending"`
}

// NodeInfo is the public metadata of a Lightning node, fetched from the
// network graph.
type NodeInfo struct {
	Pubkey       string `json:"pubkey"`
	Alias        string `json:"alias"`
	Color        string `json:"color"`
	Capacity     int64  `json:"capacity"`
	ChannelCount uint32 `json:"channel_count"`
}

// SignatureVerification is the response to a verify request: the pubkey
// recovered from the signature plus best-effort node metadata.
type SignatureVerification struct {
	Pubkey string    `json:"pubkey"`
	Node   *NodeInfo `json:"node"`
	Valid  bool      `json:"valid"`
}

// OrderEnvelope wraps an order with the access token minted for it. The
// token is only returned from order creation/resume, where the caller has
// just re-proven node ownership.
type OrderEnvelope struct {
	*Order
	AccessToken string `json:"accessToken"`
}

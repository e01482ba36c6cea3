package futures_usdt

type orderResp struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	AvgPrice      string `json:"avgPrice"`
	ExecutedQty   string `json:"executedQty"`
}

// AccountAsset is one margin asset in the futures account.
type AccountAsset struct {
	Asset            string `json:"asset"`
	WalletBalance    string `json:"walletBalance"`
	UnrealizedProfit string `json:"unrealizedProfit"`
	AvailableBalance string `json:"availableBalance"`
}

type FuturesAccountInfo struct {
	CanTrade   bool              `json:"canTrade"`
	UpdateTime int64             `json:"updateTime"`
	Assets     []AccountAsset    `json:"assets"`
	Positions  []AccountPosition `json:"positions"`
}

// AccountPosition is the per-symbol position block of /fapi/v2/account.
type AccountPosition struct {
	Symbol           string `json:"symbol"`
	PositionSide     string `json:"positionSide"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	UnrealizedProfit string `json:"unrealizedProfit"`
	Leverage         string `json:"leverage"`
}

type UserTrade struct {
	Symbol          string `json:"symbol"`
	ID              int64  `json:"id"`
	OrderID         int64  `json:"orderId"`
	Side            string `json:"side"`
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	QuoteQty        string `json:"quoteQty"`
	RealizedPnl     string `json:"realizedPnl"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	Time            int64  `json:"time"`
	Buyer           bool   `json:"buyer"`
	Maker           bool   `json:"maker"`
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol            string `json:"symbol"`
		QuantityPrecision *int   `json:"quantityPrecision"`
		PricePrecision    *int   `json:"pricePrecision"`
	} `json:"symbols"`
}

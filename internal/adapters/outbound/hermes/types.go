package hermes

// latestResponse is the body of GET /v2/updates/price/latest.
type latestResponse struct {
	Binary binaryUpdate  `json:"binary"`
	Parsed []parsedPrice `json:"parsed"`
}

type binaryUpdate struct {
	Encoding string   `json:"encoding"`
	Data     []string `json:"data"`
}

type parsedPrice struct {
	ID    string    `json:"id"`
	Price priceData `json:"price"`
}

// priceData carries the mantissa and confidence as decimal strings.
type priceData struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

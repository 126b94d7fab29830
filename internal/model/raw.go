package model

// RawListing 抓取器输出的原始车源记录（弱类型键值对），至少包含 id
type RawListing map[string]interface{}

// PlateResult 车牌识别服务返回；失败时为 {nil, 0}
type PlateResult struct {
	Plate      *string `json:"plate"`
	Confidence float64 `json:"confidence"`
}

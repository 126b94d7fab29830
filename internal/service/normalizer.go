package service

import (
	"DealerWatch/internal/model"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// 车牌语法：LL###LL 或 LL####L，前两位不含 I/O/Q/U
var platePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^[A-HJ-NPR-TV-Z]{2}[0-9]{3}[A-Z]{2}$`),
	regexp.MustCompile(`^[A-HJ-NPR-TV-Z]{2}[0-9]{4}[A-Z]$`),
}

// NormalizePlate 大写并去除所有空白；不符合车牌语法时返回 nil
func NormalizePlate(raw string) *string {
	p := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, raw)
	if !ValidPlate(p) {
		return nil
	}
	return &p
}

// ValidPlate 已归一化的车牌是否符合语法
func ValidPlate(p string) bool {
	for _, re := range platePatterns {
		if re.MatchString(p) {
			return true
		}
	}
	return false
}

// Normalizer 原始记录 → 规范车源；字段解析失败置空，不报错
type Normalizer struct {
	logger *logrus.Logger
}

func NewNormalizer(logger *logrus.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize 仅在缺少 id 时返回 ErrMissingID
func (n *Normalizer) Normalize(dealerID string, raw model.RawListing) (*model.Listing, error) {
	id := stringField(raw, "id")
	if id == "" {
		return nil, model.ErrMissingID
	}

	l := &model.Listing{
		ListingID:       id,
		DealerID:        dealerID,
		OriginalPrice:   parsePrice(first(raw, "original_price", "price")),
		DiscountedPrice: parsePrice(first(raw, "discounted_price", "sale_price")),
		Title:           stringField(raw, "title"),
		Mileage:         parseMileage(first(raw, "mileage", "km")),
		Registration:    stringField(raw, "registration"),
		Fuel:            stringField(raw, "fuel"),
		Transmission:    stringField(raw, "transmission"),
		Power:           stringField(raw, "power"),
		Consumption:     stringField(raw, "consumption"),
		ImageURLs:       parseImageURLs(first(raw, "image_urls", "images")),
		Active:          true,
	}

	// 优惠价高于标价视为无效
	if l.DiscountedPrice.Valid && l.OriginalPrice.Valid && l.DiscountedPrice.Decimal.GreaterThan(l.OriginalPrice.Decimal) {
		l.DiscountedPrice = decimal.NullDecimal{}
	}
	l.HasDiscount = l.DiscountedPrice.Valid && l.OriginalPrice.Valid &&
		l.DiscountedPrice.Decimal.LessThan(l.OriginalPrice.Decimal)

	if p := stringValue(first(raw, "plate", "targa")); p != "" {
		l.Plate = NormalizePlate(p)
	}

	tokens := strings.Fields(l.Title)
	if len(tokens) > 0 {
		l.Brand = tokens[0]
	}
	if len(tokens) > 1 {
		l.Model = tokens[1]
	}
	return l, nil
}

// NormalizeAll 丢弃无 id 记录并记 warning；同一 id 出现多次时保留最后一条。返回丢弃数
func (n *Normalizer) NormalizeAll(dealerID string, raws []model.RawListing) ([]*model.Listing, int) {
	out := make([]*model.Listing, 0, len(raws))
	index := make(map[string]int, len(raws))
	dropped := 0
	for i, raw := range raws {
		l, err := n.Normalize(dealerID, raw)
		if err != nil {
			dropped++
			n.logger.WithFields(logrus.Fields{
				"dealer_id": dealerID,
				"position":  i,
			}).WithError(err).Warn("原始车源缺少id，已丢弃")
			continue
		}
		if pos, dup := index[l.ListingID]; dup {
			n.logger.WithFields(logrus.Fields{
				"dealer_id":  dealerID,
				"listing_id": l.ListingID,
			}).Warn("同一批次车源id重复，保留最后一条")
			out[pos] = l
			continue
		}
		index[l.ListingID] = len(out)
		out = append(out, l)
	}
	return out, dropped
}

func first(raw model.RawListing, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func stringField(raw model.RawListing, key string) string {
	return stringValue(raw[key])
}

func stringValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// parsePrice 支持数字与 "€ 12.500,00" 一类本地化文本；负数或无法解析置空
func parsePrice(v interface{}) decimal.NullDecimal {
	var d decimal.Decimal
	var err error
	switch t := v.(type) {
	case nil:
		return decimal.NullDecimal{}
	case json.Number:
		d, err = decimal.NewFromString(t.String())
	case float64:
		if !finite(t) {
			return decimal.NullDecimal{}
		}
		d = decimal.NewFromFloat(t)
	case int:
		d = decimal.NewFromInt(int64(t))
	case int64:
		d = decimal.NewFromInt(t)
	case string:
		s := localizedNumber(t)
		if s == "" {
			return decimal.NullDecimal{}
		}
		d, err = decimal.NewFromString(s)
	default:
		return decimal.NullDecimal{}
	}
	if err != nil || d.IsNegative() {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// localizedNumber 把本地化数字文本转为 "1234.5" 形式；"." 后恰好三位数字视为千分位
func localizedNumber(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) || r == '.' || r == ',' || r == '-' {
			b.WriteRune(r)
		}
	}
	s = strings.TrimLeft(strings.TrimRight(b.String(), ".,-"), ".,")
	if s == "" || s == "-" {
		return ""
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 || len(s)-lastDot-1 == 3 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}
	return s
}

// parseMileage "45.000 km" → 45000；负数或无数字置空
func parseMileage(v interface{}) *int {
	var n int64
	switch t := v.(type) {
	case nil:
		return nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			n = i
		} else if f, err := t.Float64(); err == nil && finite(f) {
			n = int64(f)
		} else {
			return nil
		}
	case float64:
		if !finite(t) {
			return nil
		}
		n = int64(t)
	case int:
		n = int64(t)
	case int64:
		n = t
	case string:
		s := t
		if i := strings.Index(s, ","); i >= 0 {
			s = s[:i]
		}
		if strings.Contains(strings.TrimSpace(s), "-") {
			return nil
		}
		digits := strings.Map(func(r rune) rune {
			if unicode.IsDigit(r) {
				return r
			}
			return -1
		}, s)
		if digits == "" {
			return nil
		}
		i, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			return nil
		}
		n = i
	default:
		return nil
	}
	if n < 0 {
		return nil
	}
	m := int(n)
	return &m
}

// parseImageURLs 数组或逗号分隔字符串，去空保序
func parseImageURLs(v interface{}) []string {
	urls := []string{}
	switch t := v.(type) {
	case []interface{}:
		for _, item := range t {
			if s := stringValue(item); s != "" {
				urls = append(urls, s)
			}
		}
	case []string:
		for _, s := range t {
			if s = strings.TrimSpace(s); s != "" {
				urls = append(urls, s)
			}
		}
	case string:
		for _, s := range strings.Split(t, ",") {
			if s = strings.TrimSpace(s); s != "" {
				urls = append(urls, s)
			}
		}
	}
	return urls
}
